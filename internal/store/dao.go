package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"business-objects/internal/metadata"
	"business-objects/internal/rules"
)

// ModelDAO stores model instances in the model's table, one column per
// property.
type ModelDAO struct {
	store *Store
}

func NewModelDAO(s *Store) *ModelDAO {
	return &ModelDAO{store: s}
}

func (d *ModelDAO) Fetch(ctx context.Context, m *metadata.Model, key string) (map[string]any, error) {
	pb := d.store.Dialect.NewParamBuilder()
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", columnList(m), m.Table(), m.Key().Name(), pb.Add(key))
	row, err := QueryRow(ctx, d.store.DB, q, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", m.Name(), key, err)
	}
	return d.decodeRow(m, row)
}

// Insert writes a new row and returns it as stored. Text keys left empty
// get a UUID; integer keys left empty are assigned by the database.
func (d *ModelDAO) Insert(ctx context.Context, m *metadata.Model, values map[string]any) (map[string]any, error) {
	key := m.Key()
	if rules.IsEmpty(values[key.Name()]) && key.Type() != rules.TypeInteger {
		values = withValue(values, key.Name(), uuid.NewString())
	}

	pb := d.store.Dialect.NewParamBuilder()
	var cols, phs []string
	for _, p := range m.Properties {
		v, ok := values[p.Name()]
		if !ok || (p.IsKey() && rules.IsEmpty(v)) {
			continue
		}
		enc, err := encodeValue(p, v)
		if err != nil {
			return nil, err
		}
		cols = append(cols, p.Name())
		phs = append(phs, pb.Add(enc))
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		m.Table(), strings.Join(cols, ", "), strings.Join(phs, ", "), columnList(m))
	row, err := QueryRow(ctx, d.store.DB, q, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", m.Name(), d.store.Dialect.MapError(err))
	}
	return d.decodeRow(m, row)
}

func (d *ModelDAO) Update(ctx context.Context, m *metadata.Model, key string, values map[string]any) error {
	pb := d.store.Dialect.NewParamBuilder()
	var sets []string
	for _, p := range m.Properties {
		v, ok := values[p.Name()]
		if !ok || p.IsKey() {
			continue
		}
		enc, err := encodeValue(p, v)
		if err != nil {
			return err
		}
		sets = append(sets, p.Name()+" = "+pb.Add(enc))
	}
	if len(sets) == 0 {
		return nil
	}

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", m.Table(), strings.Join(sets, ", "), m.Key().Name(), pb.Add(key))
	n, err := Exec(ctx, d.store.DB, q, pb.Params()...)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", m.Name(), key, d.store.Dialect.MapError(err))
	}
	if n == 0 {
		return fmt.Errorf("update %s/%s: %w", m.Name(), key, ErrNotFound)
	}
	return nil
}

func (d *ModelDAO) Delete(ctx context.Context, m *metadata.Model, key string) error {
	pb := d.store.Dialect.NewParamBuilder()
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", m.Table(), m.Key().Name(), pb.Add(key))
	n, err := Exec(ctx, d.store.DB, q, pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", m.Name(), key, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s/%s: %w", m.Name(), key, ErrNotFound)
	}
	return nil
}

func columnList(m *metadata.Model) string {
	names := make([]string, len(m.Properties))
	for i, p := range m.Properties {
		names[i] = p.Name()
	}
	return strings.Join(names, ", ")
}

func withValue(values map[string]any, name string, v any) map[string]any {
	out := make(map[string]any, len(values)+1)
	for k, val := range values {
		out[k] = val
	}
	out[name] = v
	return out
}

func encodeValue(p *rules.Property, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch p.Type() {
	case rules.TypeJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", p.Name(), err)
		}
		return string(b), nil
	case rules.TypeDecimal:
		if n, ok := v.(json.Number); ok {
			return decimal.NewFromString(n.String())
		}
	}
	return v, nil
}

// decodeRow converts driver values back to the property types.
func (d *ModelDAO) decodeRow(m *metadata.Model, row map[string]any) (map[string]any, error) {
	var bools []string
	for _, p := range m.Properties {
		if p.Type() == rules.TypeBoolean {
			bools = append(bools, p.Name())
		}
	}
	if d.store.Dialect.NeedsBoolFix() {
		NormalizeBooleans([]map[string]any{row}, bools)
	}

	for _, p := range m.Properties {
		v := row[p.Name()]
		if v == nil {
			continue
		}
		switch p.Type() {
		case rules.TypeJSON:
			raw, ok := textOf(v)
			if !ok {
				continue
			}
			var decoded any
			if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", m.Name(), p.Name(), err)
			}
			row[p.Name()] = decoded
		case rules.TypeDecimal:
			if raw, ok := textOf(v); ok {
				dec, err := decimal.NewFromString(raw)
				if err != nil {
					return nil, fmt.Errorf("decode %s.%s: %w", m.Name(), p.Name(), err)
				}
				row[p.Name()] = json.Number(dec.String())
			}
		case rules.TypeDateTime:
			if raw, ok := textOf(v); ok {
				for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
					if t, err := time.Parse(layout, raw); err == nil {
						row[p.Name()] = t
						break
					}
				}
			}
		}
	}
	return row, nil
}

func textOf(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}
