package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"business-objects/internal/metadata"
	"business-objects/internal/rules"
	"business-objects/internal/store"
)

// ParseListQuery reads filter[property]=v, filter[property.op]=v, sort,
// page and per_page from the query string.
func ParseListQuery(c *fiber.Ctx, m *metadata.Model) (store.ListQuery, error) {
	var q store.ListQuery

	for key, val := range c.Queries() {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		name, op := parseFilterKey(key[7 : len(key)-1])
		p, err := queryProperty(m, name, "filter")
		if err != nil {
			return q, err
		}
		if !store.ValidOperator(op) {
			return q, NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, fmt.Sprintf("Unknown filter operator: %s", op))
		}
		v, err := coerceFilterValue(p, val, op)
		if err != nil {
			return q, NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, fmt.Sprintf("Invalid filter value for %s: %v", name, err))
		}
		q.Filters = append(q.Filters, store.WhereClause{Property: name, Operator: op, Value: v})
	}

	// sort=-total,customer
	if sortParam := c.Query("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			desc := strings.HasPrefix(part, "-")
			name := strings.TrimPrefix(part, "-")
			if _, err := queryProperty(m, name, "sort"); err != nil {
				return q, err
			}
			q.Sorts = append(q.Sorts, store.OrderClause{Property: name, Desc: desc})
		}
	}

	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		q.Page = v
	}
	if v, err := strconv.Atoi(c.Query("per_page")); err == nil && v > 0 {
		q.PerPage = v
	}
	return q.Normalize(), nil
}

// queryProperty resolves a property a list query may filter or sort on.
// Hidden properties are reported as unknown.
func queryProperty(m *metadata.Model, name, use string) (*rules.Property, error) {
	p := m.Property(name)
	if p == nil || !p.IsVisible() {
		return nil, NewAppError("UNKNOWN_FIELD", fiber.StatusBadRequest, fmt.Sprintf("Unknown %s field: %s", use, name))
	}
	if p.Type() == rules.TypeJSON {
		return nil, NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, fmt.Sprintf("Cannot %s on json field: %s", use, name))
	}
	return p, nil
}

// parseFilterKey splits "total.gte" into ("total", "gte") and "status" into
// ("status", "eq").
func parseFilterKey(key string) (string, string) {
	if name, op, ok := strings.Cut(key, "."); ok {
		return name, op
	}
	return key, store.OpEq
}

func coerceFilterValue(p *rules.Property, val, op string) (any, error) {
	if op == store.OpIn || op == store.OpNotIn {
		parts := strings.Split(val, ",")
		out := make([]any, len(parts))
		for i, part := range parts {
			v, err := coerceSingleValue(p, strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	if op == store.OpLike {
		return val, nil
	}
	return coerceSingleValue(p, val)
}

func coerceSingleValue(p *rules.Property, val string) (any, error) {
	switch p.Type() {
	case rules.TypeInteger:
		return strconv.ParseInt(val, 10, 64)
	case rules.TypeDecimal:
		return decimal.NewFromString(val)
	case rules.TypeBoolean:
		return strconv.ParseBool(val)
	case rules.TypeDateTime:
		return time.Parse(time.RFC3339, val)
	default:
		return val, nil
	}
}
