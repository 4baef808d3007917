package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"business-objects/internal/metadata"
	"business-objects/internal/rules"
)

// State is the persistence state of an Instance.
type State int

const (
	StateNew State = iota
	StatePristine
	StateDirty
	StateRemoved
)

var stateNames = [...]string{"new", "pristine", "dirty", "removed"}

func (s State) String() string {
	if s < StateNew || s > StateRemoved {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Instance is one object of a model: its property values, persistence state
// and broken rules. The identity it was created for decides which properties
// it may read and write. An Instance is not safe for concurrent use.
type Instance struct {
	model     *metadata.Model
	identity  rules.Identity
	values    map[*rules.Property]any
	state     State
	persisted bool
	broken    *rules.BrokenRuleList
}

// NewInstance returns a new, unsaved instance with the model's defaults
// applied. No rules run.
func NewInstance(m *metadata.Model, id rules.Identity) *Instance {
	obj := &Instance{
		model:    m,
		identity: id,
		values:   make(map[*rules.Property]any, len(m.Properties)),
		state:    StateNew,
		broken:   rules.NewBrokenRuleList(m.Name()),
	}
	for _, p := range m.Properties {
		if v, ok := m.Default(p.Name()); ok {
			obj.values[p] = coerce(p, v)
		}
	}
	return obj
}

// load replaces the values with a stored row and marks the instance as
// persisted and unchanged.
func (i *Instance) load(row map[string]any) {
	for _, p := range i.model.Properties {
		if v, ok := row[p.Name()]; ok {
			i.values[p] = coerce(p, v)
		}
	}
	i.persisted = true
	i.state = StatePristine
}

func (i *Instance) Model() *metadata.Model   { return i.model }
func (i *Instance) Identity() rules.Identity { return i.identity }
func (i *Instance) State() State             { return i.state }
func (i *Instance) IsNew() bool              { return !i.persisted }

// IsDirty reports whether the instance has changes that Save would write.
func (i *Instance) IsDirty() bool {
	return !i.persisted || i.state == StateDirty || i.state == StateRemoved
}

// Key returns the key value as it appears in URLs, or "" before one is
// assigned.
func (i *Instance) Key() string {
	if k := i.model.Key(); k != nil {
		return keyString(i.values[k])
	}
	return ""
}

// ReadValue returns the raw value of p without permission checks. Rules read
// values through it.
func (i *Instance) ReadValue(p *rules.Property) any { return i.values[p] }

// Value is ReadValue by property name.
func (i *Instance) Value(name string) any {
	if p := i.model.Property(name); p != nil {
		return i.values[p]
	}
	return nil
}

// Values returns every value by property name, unchecked. It is the form
// handed to DataAccess.
func (i *Instance) Values() map[string]any {
	out := make(map[string]any, len(i.values))
	for p, v := range i.values {
		out[p.Name()] = v
	}
	return out
}

// GetValue returns the value of the named property if the identity may read
// it. A denial under a throwing behavior is returned as an error; under any
// other behavior ok is false and the denial is kept in BrokenRules.
func (i *Instance) GetValue(name string) (v any, ok bool, err error) {
	p, err := i.property(name)
	if err != nil {
		return nil, false, err
	}
	allowed, err := i.can(rules.ReadProperty, rules.PropertyTarget(p))
	if err != nil || !allowed {
		return nil, false, err
	}
	return i.values[p], true, nil
}

// SetValue writes the named property if the identity may write it, then
// re-checks the property's rules and those of every property its rules name
// as affected. It reports whether the value was written. A value that does
// not fit the property type is an argument error and no rule runs.
func (i *Instance) SetValue(name string, v any) (bool, error) {
	p, err := i.property(name)
	if err != nil {
		return false, err
	}
	if p.IsReadOnly() {
		return false, &rules.ArgumentError{Param: name, Reason: "property is read-only"}
	}
	if p.IsKey() && i.persisted {
		return false, &rules.ArgumentError{Param: name, Reason: "key of a saved object cannot change"}
	}
	if i.state == StateRemoved {
		return false, &rules.ArgumentError{Param: name, Reason: "object is marked for removal"}
	}

	v = coerce(p, v)
	if !p.Accepts(v) {
		return false, &rules.ArgumentError{Param: name, Reason: fmt.Sprintf("%T value is not a valid %s", v, p.Type())}
	}

	allowed, err := i.can(rules.WriteProperty, rules.PropertyTarget(p))
	if err != nil || !allowed {
		return false, err
	}

	i.values[p] = v
	i.state = StateDirty
	return true, i.checkRules(p)
}

// Apply sets several values in name order. Keys of saved objects are
// skipped so a client may send back what it fetched.
func (i *Instance) Apply(values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if p := i.model.Property(name); p != nil && p.IsKey() && i.persisted {
			continue
		}
		if _, err := i.SetValue(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

// Validate clears the validation results of every property and runs all
// rules again.
func (i *Instance) Validate() error {
	for _, p := range i.model.Properties {
		i.broken.Clear(p)
	}
	_, err := i.model.Rules.ValidateAll(i.model.Properties, rules.ValidationContext{Values: i, BrokenRules: i.broken})
	return err
}

// IsValid reports whether no broken rule has error severity.
func (i *Instance) IsValid() bool { return i.broken.IsValid() }

func (i *Instance) BrokenRules() *rules.BrokenRuleList { return i.broken }

// ToDTO returns the values the identity may see. Hidden properties are
// never included.
func (i *Instance) ToDTO() (map[string]any, error) {
	dto := make(map[string]any, len(i.model.Properties))
	for _, p := range i.model.Properties {
		if !p.IsVisible() {
			continue
		}
		allowed, err := i.can(rules.ReadProperty, rules.PropertyTarget(p))
		if err != nil {
			if rules.IsAuthorizationError(err) {
				continue
			}
			return nil, err
		}
		if allowed {
			dto[p.Name()] = i.values[p]
		}
	}
	return dto, nil
}

// MarkRemoved flags the instance for deletion on the next Save.
func (i *Instance) MarkRemoved() { i.state = StateRemoved }

func (i *Instance) property(name string) (*rules.Property, error) {
	p := i.model.Property(name)
	if p == nil {
		return nil, &rules.ArgumentError{Param: "property", Reason: fmt.Sprintf("%s has no property %q", i.model.Name(), name)}
	}
	return p, nil
}

// can runs the authorization rules of a and t. Denials recorded under a
// non-throwing behavior are merged into the instance's broken rules once.
func (i *Instance) can(a rules.Action, t rules.Target) (bool, error) {
	if !i.model.Rules.HasAuthorizationRules(a, t) {
		return true, nil
	}
	scratch := rules.NewBrokenRuleList(i.model.Name())
	ctx, err := rules.NewAuthorizationContext(a, t, i.identity, scratch)
	if err != nil {
		return false, err
	}
	allowed, err := i.model.Rules.HasPermission(ctx)
	i.mergePreserved(scratch)
	return allowed, err
}

func (i *Instance) mergePreserved(from *rules.BrokenRuleList) {
	for _, br := range from.Entries() {
		dup := false
		for _, have := range i.broken.GetByName(br.PropertyName) {
			if have.RuleName == br.RuleName && have.Message == br.Message {
				dup = true
				break
			}
		}
		if !dup {
			i.broken.Add(br)
		}
	}
}

// checkRules re-validates p and the properties its rules affect, each once.
func (i *Instance) checkRules(p *rules.Property) error {
	queue := []*rules.Property{p}
	seen := map[*rules.Property]bool{p: true}
	if list := i.model.Rules.Group(rules.ValidationKey(p)); list != nil {
		for _, r := range list.Rules() {
			vr, ok := r.(rules.ValidationRule)
			if !ok {
				continue
			}
			for _, a := range vr.AffectedProperties() {
				if !seen[a] {
					seen[a] = true
					queue = append(queue, a)
				}
			}
		}
	}

	ctx := rules.ValidationContext{Values: i, BrokenRules: i.broken}
	for _, q := range queue {
		i.broken.Clear(q)
		if _, err := i.model.Rules.Validate(q, ctx); err != nil {
			return fmt.Errorf("check %s.%s: %w", i.model.Name(), q.Name(), err)
		}
	}
	return nil
}

// coerce narrows transport values to the property type. JSON numbers arrive
// as float64 and integer properties want int64. A float outside the int64
// range is left as it is.
func coerce(p *rules.Property, v any) any {
	if p.Type() != rules.TypeInteger {
		return v
	}
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n)
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
	case int:
		return int64(n)
	case int32:
		return int64(n)
	}
	return v
}
