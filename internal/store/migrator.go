package store

import (
	"context"
	"fmt"
	"strings"

	"business-objects/internal/metadata"
	"business-objects/internal/rules"
)

type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// Migrate creates the model's table or adds the columns it is missing.
// Command models have no table.
func (m *Migrator) Migrate(ctx context.Context, model *metadata.Model) error {
	if model.IsCommand() {
		return nil
	}
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, model.Table())
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}
	if !exists {
		return m.createTable(ctx, model)
	}
	return m.alterTable(ctx, model)
}

func (m *Migrator) createTable(ctx context.Context, model *metadata.Model) error {
	cols := make([]string, 0, len(model.Properties))
	for _, p := range model.Properties {
		cols = append(cols, m.columnDef(model, p))
	}
	q := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", model.Table(), strings.Join(cols, ",\n  "))
	if _, err := m.store.DB.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", model.Table(), err)
	}
	return nil
}

func (m *Migrator) alterTable(ctx context.Context, model *metadata.Model) error {
	existing, err := m.store.Dialect.GetColumns(ctx, m.store.DB, model.Table())
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", model.Table(), err)
	}
	for _, p := range model.Properties {
		if _, ok := existing[p.Name()]; ok || p.IsKey() {
			continue
		}
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", model.Table(), m.columnDef(model, p))
		if _, err := m.store.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("add column %s.%s: %w", model.Table(), p.Name(), err)
		}
	}
	return nil
}

func (m *Migrator) columnDef(model *metadata.Model, p *rules.Property) string {
	if p.IsKey() {
		return m.store.Dialect.KeyColumn(p.Name(), p.Type())
	}
	col := p.Name() + " " + m.store.Dialect.ColumnType(p.Type(), model.Precision(p.Name()))
	if v, ok := model.Default(p.Name()); ok {
		col += " DEFAULT " + sqlLiteral(v)
	}
	return col
}

func sqlLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case float64, int, int64:
		return fmt.Sprintf("%v", val)
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", val), "'", "''") + "'"
	}
}
