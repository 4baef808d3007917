package metadata

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"business-objects/internal/rules"
)

// Compose turns a definition into a Model. Every rule and permission is
// constructed here, so malformed definitions fail before any instance exists.
func Compose(def *ModelDefinition) (*Model, error) {
	return ComposeWithDefault(def, rules.ThrowError)
}

// ComposeWithDefault is Compose with the no-access behavior used when the
// definition declares none.
func ComposeWithDefault(def *ModelDefinition, fallback rules.NoAccessBehavior) (*Model, error) {
	if def == nil || strings.TrimSpace(def.Name) == "" {
		return nil, &rules.ArgumentError{Param: "name", Reason: "model name is required"}
	}
	if def.Kind == "" {
		def.Kind = EditableRoot
	}
	if !def.Kind.Valid() {
		return nil, fmt.Errorf("model %s: %w", def.Name, &rules.ArgumentError{Param: "kind", Reason: fmt.Sprintf("unknown kind %q", def.Kind)})
	}

	m := &Model{
		Def:      def,
		Rules:    rules.NewRuleManager(),
		byName:   make(map[string]*rules.Property, len(def.Properties)),
		defaults: make(map[string]any),
		enums:    make(map[string][]string),
		methods:  make(map[string]bool, len(def.Methods)),
	}

	for _, pd := range def.Properties {
		if _, dup := m.byName[pd.Name]; dup {
			return nil, fmt.Errorf("model %s: %w", def.Name, &rules.ArgumentError{Param: "property", Reason: "duplicate property " + pd.Name})
		}
		p, err := rules.NewProperty(pd.Name, pd.Type, propertyOptions(pd)...)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", def.Name, err)
		}
		if pd.Key {
			if m.key != nil {
				return nil, fmt.Errorf("model %s: %w", def.Name, &rules.ArgumentError{Param: "key", Reason: "only one key property is allowed"})
			}
			m.key = p
		}
		if pd.ParentKey {
			m.parent = p
		}
		if pd.Default != nil {
			m.defaults[pd.Name] = pd.Default
		}
		if p.Type() == rules.TypeEnum {
			if len(pd.Enum) == 0 {
				return nil, fmt.Errorf("model %s: %w", def.Name, &rules.ArgumentError{Param: "enum", Reason: "enum property " + pd.Name + " has no values"})
			}
			m.enums[pd.Name] = pd.Enum
		}
		m.byName[pd.Name] = p
		m.Properties = append(m.Properties, p)
	}

	if m.key == nil && !m.IsCommand() {
		return nil, fmt.Errorf("model %s: %w", def.Name, &rules.ArgumentError{Param: "key", Reason: "a key property is required"})
	}
	if m.IsChild() && m.parent == nil {
		return nil, fmt.Errorf("model %s: %w", def.Name, &rules.ArgumentError{Param: "parentKey", Reason: "child models need a parent key property"})
	}
	for _, name := range def.Methods {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("model %s: %w", def.Name, &rules.ArgumentError{Param: "method", Reason: "method names must not be empty"})
		}
		m.methods[name] = true
	}

	behavior := fallback
	if def.NoAccessBehavior != nil {
		behavior = *def.NoAccessBehavior
	}
	if err := m.Rules.Initialize(behavior); err != nil {
		return nil, fmt.Errorf("model %s: %w", def.Name, err)
	}

	for _, pd := range def.Properties {
		values, ok := m.enums[pd.Name]
		if !ok {
			continue
		}
		name := pd.Name
		r, err := rules.Expression(m.byName[name], enumPattern(values), fmt.Sprintf("%s must be one of: %s", name, strings.Join(values, ", ")))
		if err != nil {
			return nil, fmt.Errorf("model %s: enum %s: %w", def.Name, name, err)
		}
		if err := m.Rules.Add(r); err != nil {
			return nil, fmt.Errorf("model %s: enum %s: %w", def.Name, name, err)
		}
	}

	for i, rd := range def.Rules {
		r, err := m.validationRule(rd)
		if err != nil {
			return nil, fmt.Errorf("model %s: rule %d (%s): %w", def.Name, i, rd.Rule, err)
		}
		if err := m.Rules.Add(r); err != nil {
			return nil, fmt.Errorf("model %s: rule %d (%s): %w", def.Name, i, rd.Rule, err)
		}
	}

	for i, pd := range def.Permissions {
		r, err := m.authorizationRule(pd)
		if err != nil {
			return nil, fmt.Errorf("model %s: permission %d (%s): %w", def.Name, i, pd.Rule, err)
		}
		if err := m.Rules.Add(r); err != nil {
			return nil, fmt.Errorf("model %s: permission %d (%s): %w", def.Name, i, pd.Rule, err)
		}
	}
	return m, nil
}

func propertyOptions(pd PropertyDef) []rules.PropertyOption {
	var opts []rules.PropertyOption
	if pd.Key {
		opts = append(opts, rules.AsKey())
	}
	if pd.ParentKey {
		opts = append(opts, rules.AsParentKey())
	}
	if pd.ReadOnly {
		opts = append(opts, rules.AsReadOnly())
	}
	if pd.Hidden {
		opts = append(opts, rules.AsHidden())
	}
	return opts
}

func enumPattern(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = regexp.QuoteMeta(v)
	}
	return "^(?:" + strings.Join(quoted, "|") + ")$"
}

func (m *Model) lookup(name string) (*rules.Property, error) {
	p := m.byName[name]
	if p == nil {
		return nil, &rules.ArgumentError{Param: "property", Reason: fmt.Sprintf("unknown property %q", name)}
	}
	return p, nil
}

func (m *Model) lookupAll(names []string) ([]*rules.Property, error) {
	out := make([]*rules.Property, 0, len(names))
	for _, n := range names {
		p, err := m.lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Model) validationRule(rd RuleDef) (rules.ValidationRule, error) {
	p, err := m.lookup(rd.Property)
	if err != nil {
		return nil, err
	}
	var opts []rules.Option
	if rd.Priority != nil {
		opts = append(opts, rules.WithPriority(*rd.Priority))
	}
	if rd.StopsProcessing {
		opts = append(opts, rules.WithStopsProcessing())
	}
	if rd.Severity != nil {
		opts = append(opts, rules.WithSeverity(*rd.Severity))
	}
	if rd.NullResult != nil {
		opts = append(opts, rules.WithNullResult(*rd.NullResult))
	}
	inputs, err := m.lookupAll(rd.Inputs)
	if err != nil {
		return nil, err
	}
	if len(inputs) > 0 {
		opts = append(opts, rules.WithInputs(inputs...))
	}
	affected, err := m.lookupAll(rd.Affected)
	if err != nil {
		return nil, err
	}

	switch rd.Rule {
	case "Required":
		return asValidation(rules.Required(p, rd.Message, appendAffected(opts, affected)...))
	case "MaxLength":
		n, err := intValue(rd.Value)
		if err != nil {
			return nil, err
		}
		return asValidation(rules.MaxLength(p, n, rd.Message, appendAffected(opts, affected)...))
	case "MinLength":
		n, err := intValue(rd.Value)
		if err != nil {
			return nil, err
		}
		return asValidation(rules.MinLength(p, n, rd.Message, appendAffected(opts, affected)...))
	case "LengthIs":
		n, err := intValue(rd.Value)
		if err != nil {
			return nil, err
		}
		return asValidation(rules.LengthIs(p, n, rd.Message, appendAffected(opts, affected)...))
	case "MaxValue":
		return asValidation(rules.MaxValue(p, rd.Value, rd.Message, appendAffected(opts, affected)...))
	case "MinValue":
		return asValidation(rules.MinValue(p, rd.Value, rd.Message, appendAffected(opts, affected)...))
	case "Expression":
		return asValidation(rules.Expression(p, rd.Pattern, rd.Message, appendAffected(opts, affected)...))
	case "Dependency":
		return asValidation(rules.Dependency(p, affected, rd.Message, opts...))
	case "Information":
		return asValidation(rules.Information(p, rd.Message, appendAffected(opts, affected)...))
	case "Expr":
		return asValidation(rules.Expr(p, rd.Expression, rd.Message, appendAffected(opts, affected)...))
	case "Format":
		return asValidation(rules.Format(p, rd.Tag, rd.Message, appendAffected(opts, affected)...))
	default:
		return nil, &rules.ArgumentError{Param: "rule", Reason: fmt.Sprintf("unknown validation rule %q", rd.Rule)}
	}
}

func appendAffected(opts []rules.Option, affected []*rules.Property) []rules.Option {
	if len(affected) == 0 {
		return opts
	}
	return append(opts, rules.WithAffected(affected...))
}

// asValidation widens a concrete constructor result to the interface without
// turning a typed nil into a non-nil interface.
func asValidation[R rules.ValidationRule](r R, err error) (rules.ValidationRule, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Model) authorizationRule(pd PermissionDef) (rules.AuthorizationRule, error) {
	target := rules.NoTarget
	switch {
	case pd.Property != "":
		p, err := m.lookup(pd.Property)
		if err != nil {
			return nil, err
		}
		target = rules.PropertyTarget(p)
	case pd.Method != "":
		if !m.methods[pd.Method] {
			return nil, &rules.ArgumentError{Param: "method", Reason: fmt.Sprintf("undeclared method %q", pd.Method)}
		}
		target = rules.MethodTarget(pd.Method)
	}

	var opts []rules.Option
	if pd.Priority != nil {
		opts = append(opts, rules.WithPriority(*pd.Priority))
	}
	if pd.StopsProcessing {
		opts = append(opts, rules.WithStopsProcessing())
	}
	if pd.NoAccessBehavior != nil {
		opts = append(opts, rules.WithNoAccessBehavior(*pd.NoAccessBehavior))
	}

	switch pd.Rule {
	case "IsInRole":
		if len(pd.Roles) != 1 {
			return nil, &rules.ArgumentError{Rule: pd.Rule, Param: "roles", Reason: "exactly one role is required"}
		}
		return asAuthorization(rules.IsInRole(pd.Action, target, pd.Roles[0], pd.Message, opts...))
	case "IsInAnyRole":
		return asAuthorization(rules.IsInAnyRole(pd.Action, target, pd.Roles, pd.Message, opts...))
	case "IsInAllRoles":
		return asAuthorization(rules.IsInAllRoles(pd.Action, target, pd.Roles, pd.Message, opts...))
	case "IsNotInRole":
		if len(pd.Roles) != 1 {
			return nil, &rules.ArgumentError{Rule: pd.Rule, Param: "roles", Reason: "exactly one role is required"}
		}
		return asAuthorization(rules.IsNotInRole(pd.Action, target, pd.Roles[0], pd.Message, opts...))
	case "IsNotInAnyRole":
		return asAuthorization(rules.IsNotInAnyRole(pd.Action, target, pd.Roles, pd.Message, opts...))
	default:
		return nil, &rules.ArgumentError{Param: "rule", Reason: fmt.Sprintf("unknown authorization rule %q", pd.Rule)}
	}
}

func asAuthorization[R rules.AuthorizationRule](r R, err error) (rules.AuthorizationRule, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

// intValue reads a length bound decoded from JSON (float64) or YAML (int).
func intValue(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, &rules.ArgumentError{Param: "value", Reason: fmt.Sprintf("%v is not a whole number", n)}
		}
		return int(n), nil
	}
	return 0, &rules.ArgumentError{Param: "value", Reason: fmt.Sprintf("expected a number, got %T", v)}
}
