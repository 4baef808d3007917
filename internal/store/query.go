package store

import (
	"context"
	"fmt"
	"strings"

	"business-objects/internal/metadata"
)

// Filter operators of a list query.
const (
	OpEq    = "eq"
	OpNeq   = "neq"
	OpGt    = "gt"
	OpGte   = "gte"
	OpLt    = "lt"
	OpLte   = "lte"
	OpIn    = "in"
	OpNotIn = "not_in"
	OpLike  = "like"
)

const (
	DefaultPerPage = 25
	MaxPerPage     = 100
)

// ValidOperator reports whether op is a known filter operator.
func ValidOperator(op string) bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpLike:
		return true
	}
	return false
}

// WhereClause filters on one property. In and not_in take a []any.
type WhereClause struct {
	Property string
	Operator string
	Value    any
}

type OrderClause struct {
	Property string
	Desc     bool
}

// ListQuery selects one page of a model's rows. Clauses are ANDed.
type ListQuery struct {
	Filters []WhereClause
	Sorts   []OrderClause
	Page    int
	PerPage int
}

// Normalize applies the default page and page size and caps the page size.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > MaxPerPage {
		q.PerPage = MaxPerPage
	}
	return q
}

func (q ListQuery) Offset() int { return (q.Page - 1) * q.PerPage }

type QueryResult struct {
	SQL    string
	Params []any
}

// BuildSelectSQL builds a parameterized SELECT of one page. Rows are ordered
// by the requested sorts, then by key so pages are stable.
func BuildSelectSQL(d Dialect, m *metadata.Model, q ListQuery) QueryResult {
	pb := d.NewParamBuilder()
	q = q.Normalize()

	sql := fmt.Sprintf("SELECT %s FROM %s", columnList(m), m.Table())
	if where := whereClauses(q.Filters, pb); len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	var orderParts []string
	keyed := false
	for _, s := range q.Sorts {
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		orderParts = append(orderParts, fmt.Sprintf("%s %s", s.Property, dir))
		keyed = keyed || s.Property == m.Key().Name()
	}
	if !keyed {
		orderParts = append(orderParts, m.Key().Name()+" ASC")
	}
	sql += " ORDER BY " + strings.Join(orderParts, ", ")

	limit := pb.Add(q.PerPage)
	offset := pb.Add(q.Offset())
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", limit, offset)

	return QueryResult{SQL: sql, Params: pb.Params()}
}

// BuildCountSQL builds a COUNT query with the same filters as the select.
func BuildCountSQL(d Dialect, m *metadata.Model, q ListQuery) QueryResult {
	pb := d.NewParamBuilder()
	sql := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", m.Table())
	if where := whereClauses(q.Filters, pb); len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return QueryResult{SQL: sql, Params: pb.Params()}
}

func whereClauses(filters []WhereClause, pb ParamBuilder) []string {
	where := make([]string, 0, len(filters))
	for _, f := range filters {
		where = append(where, buildWhereClause(f, pb))
	}
	return where
}

func buildWhereClause(f WhereClause, pb ParamBuilder) string {
	switch f.Operator {
	case OpNeq:
		return fmt.Sprintf("%s != %s", f.Property, pb.Add(f.Value))
	case OpGt:
		return fmt.Sprintf("%s > %s", f.Property, pb.Add(f.Value))
	case OpGte:
		return fmt.Sprintf("%s >= %s", f.Property, pb.Add(f.Value))
	case OpLt:
		return fmt.Sprintf("%s < %s", f.Property, pb.Add(f.Value))
	case OpLte:
		return fmt.Sprintf("%s <= %s", f.Property, pb.Add(f.Value))
	case OpIn, OpNotIn:
		values, _ := f.Value.([]any)
		if len(values) == 0 {
			if f.Operator == OpIn {
				return "1 = 0"
			}
			return "1 = 1"
		}
		phs := make([]string, len(values))
		for i, v := range values {
			phs[i] = pb.Add(v)
		}
		if f.Operator == OpIn {
			return fmt.Sprintf("%s IN (%s)", f.Property, strings.Join(phs, ", "))
		}
		return fmt.Sprintf("%s NOT IN (%s)", f.Property, strings.Join(phs, ", "))
	case OpLike:
		return fmt.Sprintf("%s LIKE %s", f.Property, pb.Add(f.Value))
	default:
		return fmt.Sprintf("%s = %s", f.Property, pb.Add(f.Value))
	}
}

// List returns one page of rows and the number of rows matching the filters.
func (d *ModelDAO) List(ctx context.Context, m *metadata.Model, q ListQuery) ([]map[string]any, int64, error) {
	qr := BuildSelectSQL(d.store.Dialect, m, q)
	rows, err := QueryRows(ctx, d.store.DB, qr.SQL, qr.Params...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", m.Name(), err)
	}
	for i, row := range rows {
		if rows[i], err = d.decodeRow(m, row); err != nil {
			return nil, 0, err
		}
	}

	cr := BuildCountSQL(d.store.Dialect, m, q)
	countRow, err := QueryRow(ctx, d.store.DB, cr.SQL, cr.Params...)
	if err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", m.Name(), err)
	}
	return rows, countOf(countRow["count"]), nil
}

func countOf(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
