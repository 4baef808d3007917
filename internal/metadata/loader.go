package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Querier is the part of *sql.DB and *sql.Tx the loader needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// LoadAll composes the given base definitions plus every definition stored
// in _models and populates the registry. Stored definitions replace base
// ones of the same name. Definitions that fail to parse or compose are
// skipped with a warning.
func LoadAll(ctx context.Context, q Querier, reg *Registry, base []*ModelDefinition) error {
	stored, err := loadDefinitions(ctx, q)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}

	byName := make(map[string]*ModelDefinition, len(base)+len(stored))
	var order []string
	for _, def := range append(append([]*ModelDefinition(nil), base...), stored...) {
		if _, seen := byName[def.Name]; !seen {
			order = append(order, def.Name)
		}
		byName[def.Name] = def
	}

	fallback := reg.NoAccessBehavior()
	models := make([]*Model, 0, len(order))
	for _, name := range order {
		m, err := ComposeWithDefault(byName[name], fallback)
		if err != nil {
			log.Printf("WARN: skipping model %s: %v", name, err)
			continue
		}
		models = append(models, m)
	}
	reg.Load(models)

	log.Printf("Loaded %d models into registry", len(models))
	return nil
}

// Reload is an alias for LoadAll, called after admin mutations.
func Reload(ctx context.Context, q Querier, reg *Registry, base []*ModelDefinition) error {
	return LoadAll(ctx, q, reg, base)
}

func loadDefinitions(ctx context.Context, q Querier) ([]*ModelDefinition, error) {
	if q == nil {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, "SELECT name, definition FROM _models ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*ModelDefinition
	for rows.Next() {
		var name string
		var defJSON []byte
		if err := rows.Scan(&name, &defJSON); err != nil {
			return nil, fmt.Errorf("scan model row: %w", err)
		}

		var def ModelDefinition
		if err := json.Unmarshal(defJSON, &def); err != nil {
			log.Printf("WARN: skipping model %s (invalid JSON): %v", name, err)
			continue
		}
		if def.Name == "" {
			def.Name = name
		}
		defs = append(defs, &def)
	}
	return defs, rows.Err()
}

// LoadDir parses every *.yaml, *.yml and *.json file in dir. Files are read
// concurrently; the result is sorted by model name. Any unreadable or
// malformed file fails the whole load.
func LoadDir(ctx context.Context, dir string) ([]*ModelDefinition, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read models dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}

	defs := make([]*ModelDefinition, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			def, err := ParseDefinitionFile(path)
			if err != nil {
				return err
			}
			defs[i] = def
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// ParseDefinitionFile reads one definition; the extension picks the format.
func ParseDefinitionFile(path string) (*ModelDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	def, err := ParseDefinition(data, strings.ToLower(filepath.Ext(path)) == ".json")
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return def, nil
}

// ParseDefinition decodes a JSON or YAML definition.
func ParseDefinition(data []byte, isJSON bool) (*ModelDefinition, error) {
	var def ModelDefinition
	if isJSON {
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("model definition has no name")
	}
	return &def, nil
}
