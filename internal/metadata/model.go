package metadata

import "business-objects/internal/rules"

// Kind is the stereotype of a model.
type Kind string

const (
	EditableRoot  Kind = "editableRoot"
	ReadOnlyRoot  Kind = "readOnlyRoot"
	EditableChild Kind = "editableChild"
	ReadOnlyChild Kind = "readOnlyChild"
	Command       Kind = "command"

	// Collection kinds declare a model that is read as a list of root
	// items. Items of an editable collection are saved one by one.
	EditableRootCollection Kind = "editableRootCollection"
	ReadOnlyRootCollection Kind = "readOnlyRootCollection"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case EditableRoot, ReadOnlyRoot, EditableChild, ReadOnlyChild, Command,
		EditableRootCollection, ReadOnlyRootCollection:
		return true
	}
	return false
}

// ModelDefinition is the stored form of a model: its JSON lives in _models,
// its YAML or JSON in the definitions directory.
type ModelDefinition struct {
	Name             string                  `json:"name" yaml:"name"`
	Kind             Kind                    `json:"kind" yaml:"kind"`
	Table            string                  `json:"table,omitempty" yaml:"table,omitempty"`
	Parent           string                  `json:"parent,omitempty" yaml:"parent,omitempty"`
	Properties       []PropertyDef           `json:"properties" yaml:"properties"`
	Rules            []RuleDef               `json:"rules,omitempty" yaml:"rules,omitempty"`
	Permissions      []PermissionDef         `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Methods          []string                `json:"methods,omitempty" yaml:"methods,omitempty"`
	NoAccessBehavior *rules.NoAccessBehavior `json:"noAccessBehavior,omitempty" yaml:"noAccessBehavior,omitempty"`
}

// PropertyDef declares one property.
type PropertyDef struct {
	Name      string   `json:"name" yaml:"name"`
	Type      string   `json:"type,omitempty" yaml:"type,omitempty"` // text, integer, decimal, boolean, datetime, enum, json
	Key       bool     `json:"key,omitempty" yaml:"key,omitempty"`
	ParentKey bool     `json:"parentKey,omitempty" yaml:"parentKey,omitempty"`
	ReadOnly  bool     `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
	Hidden    bool     `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Default   any      `json:"default,omitempty" yaml:"default,omitempty"`
	Enum      []string `json:"enum,omitempty" yaml:"enum,omitempty"`
	Precision int      `json:"precision,omitempty" yaml:"precision,omitempty"`
}

// RuleDef declares one validation rule. Which of the parameters apply
// depends on Rule.
type RuleDef struct {
	Rule            string                  `json:"rule" yaml:"rule"`
	Property        string                  `json:"property" yaml:"property"`
	Message         string                  `json:"message" yaml:"message"`
	Priority        *int                    `json:"priority,omitempty" yaml:"priority,omitempty"`
	StopsProcessing bool                    `json:"stopsProcessing,omitempty" yaml:"stopsProcessing,omitempty"`
	Severity        *rules.Severity         `json:"severity,omitempty" yaml:"severity,omitempty"`
	Value           any                     `json:"value,omitempty" yaml:"value,omitempty"`
	Pattern         string                  `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	NullResult      *rules.NullResultOption `json:"nullResult,omitempty" yaml:"nullResult,omitempty"`
	Expression      string                  `json:"expression,omitempty" yaml:"expression,omitempty"`
	Tag             string                  `json:"tag,omitempty" yaml:"tag,omitempty"`
	Inputs          []string                `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Affected        []string                `json:"affected,omitempty" yaml:"affected,omitempty"`
}

// PermissionDef declares one authorization rule.
type PermissionDef struct {
	Rule             string                  `json:"rule" yaml:"rule"`
	Action           rules.Action            `json:"action" yaml:"action"`
	Property         string                  `json:"property,omitempty" yaml:"property,omitempty"`
	Method           string                  `json:"method,omitempty" yaml:"method,omitempty"`
	Roles            []string                `json:"roles" yaml:"roles"`
	Message          string                  `json:"message" yaml:"message"`
	Priority         *int                    `json:"priority,omitempty" yaml:"priority,omitempty"`
	StopsProcessing  bool                    `json:"stopsProcessing,omitempty" yaml:"stopsProcessing,omitempty"`
	NoAccessBehavior *rules.NoAccessBehavior `json:"noAccessBehavior,omitempty" yaml:"noAccessBehavior,omitempty"`
}

// Model is a composed definition: property identities plus the rule
// manager shared by every instance.
type Model struct {
	Def        *ModelDefinition
	Properties []*rules.Property
	Rules      *rules.RuleManager

	byName   map[string]*rules.Property
	defaults map[string]any
	enums    map[string][]string
	methods  map[string]bool
	key      *rules.Property
	parent   *rules.Property
}

func (m *Model) Name() string { return m.Def.Name }
func (m *Model) Kind() Kind   { return m.Def.Kind }

// Table returns the storage table, defaulting to the model name.
func (m *Model) Table() string {
	if m.Def.Table != "" {
		return m.Def.Table
	}
	return m.Def.Name
}

// Property returns the property with the given name, or nil.
func (m *Model) Property(name string) *rules.Property { return m.byName[name] }

// Key returns the key property; command models have none.
func (m *Model) Key() *rules.Property { return m.key }

// ParentKey returns the parent key property of child models, or nil.
func (m *Model) ParentKey() *rules.Property { return m.parent }

// Default returns the declared default of a property.
func (m *Model) Default(name string) (any, bool) {
	v, ok := m.defaults[name]
	return v, ok
}

// Enum returns the allowed values of an enum property.
func (m *Model) Enum(name string) []string { return m.enums[name] }

func (m *Model) HasMethod(name string) bool { return m.methods[name] }

// IsReadOnly reports whether instances can never be saved.
func (m *Model) IsReadOnly() bool {
	switch m.Def.Kind {
	case ReadOnlyRoot, ReadOnlyChild, ReadOnlyRootCollection:
		return true
	}
	return false
}

func (m *Model) IsCollection() bool {
	return m.Def.Kind == EditableRootCollection || m.Def.Kind == ReadOnlyRootCollection
}

func (m *Model) IsCommand() bool { return m.Def.Kind == Command }

func (m *Model) IsChild() bool {
	return m.Def.Kind == EditableChild || m.Def.Kind == ReadOnlyChild
}

// Precision returns the declared decimal precision of a property.
func (m *Model) Precision(name string) int {
	for _, p := range m.Def.Properties {
		if p.Name == name {
			return p.Precision
		}
	}
	return 0
}
