package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"business-objects/internal/metadata"
	"business-objects/internal/rules"
	"business-objects/internal/store"
)

// DataAccess persists model instances as property-name maps. Missing rows
// are reported with store.ErrNotFound, duplicate keys with
// store.ErrUniqueViolation.
type DataAccess interface {
	Fetch(ctx context.Context, m *metadata.Model, key string) (map[string]any, error)
	// Insert returns the row as stored, including a generated key.
	Insert(ctx context.Context, m *metadata.Model, values map[string]any) (map[string]any, error)
	Update(ctx context.Context, m *metadata.Model, key string, values map[string]any) error
	Delete(ctx context.Context, m *metadata.Model, key string) error
	// List returns one page of rows and the number of rows matching the
	// query's filters.
	List(ctx context.Context, m *metadata.Model, q store.ListQuery) ([]map[string]any, int64, error)
}

var _ DataAccess = (*store.ModelDAO)(nil)

// MemoryStore is an in-process DataAccess.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]map[string]any
	seq    map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]map[string]any),
		seq:    make(map[string]int64),
	}
}

func (s *MemoryStore) Fetch(_ context.Context, m *metadata.Model, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.tables[m.Table()][key]
	if !ok {
		return nil, fmt.Errorf("fetch %s/%s: %w", m.Name(), key, store.ErrNotFound)
	}
	return copyRow(row), nil
}

func (s *MemoryStore) Insert(_ context.Context, m *metadata.Model, values map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := copyRow(values)
	key := m.Key()
	if rules.IsEmpty(row[key.Name()]) {
		if key.Type() == rules.TypeInteger {
			s.seq[m.Table()]++
			row[key.Name()] = s.seq[m.Table()]
		} else {
			row[key.Name()] = uuid.NewString()
		}
	}
	id := keyString(row[key.Name()])

	table := s.tables[m.Table()]
	if table == nil {
		table = make(map[string]map[string]any)
		s.tables[m.Table()] = table
	}
	if _, dup := table[id]; dup {
		return nil, fmt.Errorf("insert %s/%s: %w", m.Name(), id, store.ErrUniqueViolation)
	}
	table[id] = row
	return copyRow(row), nil
}

func (s *MemoryStore) Update(_ context.Context, m *metadata.Model, key string, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tables[m.Table()][key]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", m.Name(), key, store.ErrNotFound)
	}
	for k, v := range values {
		if p := m.Property(k); p != nil && !p.IsKey() {
			row[k] = v
		}
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, m *metadata.Model, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[m.Table()][key]; !ok {
		return fmt.Errorf("delete %s/%s: %w", m.Name(), key, store.ErrNotFound)
	}
	delete(s.tables[m.Table()], key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, m *metadata.Model, q store.ListQuery) ([]map[string]any, int64, error) {
	q = q.Normalize()
	s.mu.RLock()
	var rows []map[string]any
	for _, row := range s.tables[m.Table()] {
		if matchesAll(row, q.Filters) {
			rows = append(rows, copyRow(row))
		}
	}
	s.mu.RUnlock()

	sorts := append(append([]store.OrderClause(nil), q.Sorts...), store.OrderClause{Property: m.Key().Name()})
	sort.SliceStable(rows, func(a, b int) bool {
		for _, o := range sorts {
			c := compareNullable(rows[a][o.Property], rows[b][o.Property])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	total := int64(len(rows))
	start := min(q.Offset(), len(rows))
	end := min(start+q.PerPage, len(rows))
	return rows[start:end], total, nil
}

func matchesAll(row map[string]any, filters []store.WhereClause) bool {
	for _, f := range filters {
		if !matches(row[f.Property], f) {
			return false
		}
	}
	return true
}

// matches follows SQL: a missing value matches no comparison.
func matches(v any, f store.WhereClause) bool {
	if v == nil {
		return false
	}
	switch f.Operator {
	case store.OpNeq:
		return !equalValues(v, f.Value)
	case store.OpGt, store.OpGte, store.OpLt, store.OpLte:
		c, err := rules.Compare(v, f.Value)
		if err != nil {
			return false
		}
		switch f.Operator {
		case store.OpGt:
			return c > 0
		case store.OpGte:
			return c >= 0
		case store.OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case store.OpIn, store.OpNotIn:
		values, _ := f.Value.([]any)
		found := false
		for _, want := range values {
			if equalValues(v, want) {
				found = true
				break
			}
		}
		return found == (f.Operator == store.OpIn)
	case store.OpLike:
		pattern, _ := f.Value.(string)
		s, ok := v.(string)
		return ok && likePattern(pattern).MatchString(s)
	default:
		return equalValues(v, f.Value)
	}
}

func equalValues(a, b any) bool {
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	if c, err := rules.Compare(a, b); err == nil {
		return c == 0
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareNullable orders nil first and falls back to the text form for
// values that do not compare.
func compareNullable(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok && ab != bb {
			if ab {
				return 1
			}
			return -1
		}
	}
	if c, err := rules.Compare(a, b); err == nil {
		return c
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// likePattern translates a LIKE pattern: % is any run, _ any one character.
func likePattern(p string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range p {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// keyString renders a key value the way it appears in URLs.
func keyString(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case int64:
		return strconv.FormatInt(k, 10)
	case int:
		return strconv.Itoa(k)
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64)
	default:
		return fmt.Sprint(k)
	}
}
