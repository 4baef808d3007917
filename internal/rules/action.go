package rules

import (
	"fmt"
	"strconv"
)

// Action is an object or property operation gated by authorization rules.
type Action int

const (
	CreateObject Action = iota
	FetchObject
	UpdateObject
	RemoveObject
	ExecuteCommand
	ExecuteMethod
	ReadProperty
	WriteProperty
)

var actionNames = [...]string{
	"createObject",
	"fetchObject",
	"updateObject",
	"removeObject",
	"executeCommand",
	"executeMethod",
	"readProperty",
	"writeProperty",
}

func (a Action) String() string {
	if a < CreateObject || a > WriteProperty {
		return "Action(" + strconv.Itoa(int(a)) + ")"
	}
	return actionNames[a]
}

// ParseAction converts the textual form back to an Action.
func ParseAction(s string) (Action, error) {
	for i, name := range actionNames {
		if name == s {
			return Action(i), nil
		}
	}
	return CreateObject, fmt.Errorf("unknown authorization action %q", s)
}

func (a Action) MarshalText() ([]byte, error) {
	if a < CreateObject || a > WriteProperty {
		return nil, fmt.Errorf("invalid authorization action %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	v, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// IsPropertyAction reports whether the action targets a single property.
func (a Action) IsPropertyAction() bool {
	return a == ReadProperty || a == WriteProperty
}

// Target is what an authorization rule guards: a property for property
// actions, a method name for ExecuteMethod, nothing for object actions.
type Target struct {
	property *Property
	method   string
}

// NoTarget is the target of object-level actions.
var NoTarget = Target{}

// PropertyTarget returns a target for ReadProperty / WriteProperty.
func PropertyTarget(p *Property) Target {
	return Target{property: p}
}

// MethodTarget returns a target for ExecuteMethod.
func MethodTarget(name string) Target {
	return Target{method: name}
}

// Property returns the targeted property, or nil.
func (t Target) Property() *Property { return t.property }

// Method returns the targeted method name, or "".
func (t Target) Method() string { return t.method }

// IsZero reports whether the target is empty.
func (t Target) IsZero() bool { return t.property == nil && t.method == "" }

// Name is the display name used for results and broken-rule keys.
func (t Target) Name() string {
	if t.property != nil {
		return t.property.Name()
	}
	return t.method
}

func (t Target) String() string {
	switch {
	case t.property != nil:
		return "property " + t.property.Name()
	case t.method != "":
		return "method " + t.method
	default:
		return "object"
	}
}

// checkTarget enforces the action/target pairing.
func checkTarget(a Action, t Target) error {
	switch {
	case a < CreateObject || a > WriteProperty:
		return fmt.Errorf("unknown authorization action %d", int(a))
	case a.IsPropertyAction():
		if t.property == nil || t.method != "" {
			return fmt.Errorf("action %s requires a property target", a)
		}
	case a == ExecuteMethod:
		if t.method == "" || t.property != nil {
			return fmt.Errorf("action %s requires a method name target", a)
		}
	default:
		if !t.IsZero() {
			return fmt.Errorf("action %s does not take a target, got %s", a, t)
		}
	}
	return nil
}

type groupKind uint8

const (
	validationGroup groupKind = iota + 1
	authorizationGroup
)

// GroupKey identifies one RuleList inside a RuleManager. Validation groups are
// keyed by property, authorization groups by action plus optional target, so a
// property named like an action never collides with it. Properties are keyed
// by identity: two distinct properties sharing a name get distinct groups.
type GroupKey struct {
	kind     groupKind
	action   Action
	property *Property
	method   string
}

// ValidationKey returns the group key of the validation rules of p.
func ValidationKey(p *Property) GroupKey {
	return GroupKey{kind: validationGroup, property: p}
}

// AuthorizationKey returns the group key of the authorization rules of an
// action and target.
func AuthorizationKey(a Action, t Target) GroupKey {
	return GroupKey{kind: authorizationGroup, action: a, property: t.property, method: t.method}
}

func (k GroupKey) propertyName() string {
	if k.property == nil {
		return ""
	}
	return k.property.Name()
}

func (k GroupKey) String() string {
	switch k.kind {
	case validationGroup:
		return "validate:" + k.propertyName()
	case authorizationGroup:
		s := "authorize:" + k.action.String()
		if k.property != nil {
			s += "." + k.propertyName()
		}
		if k.method != "" {
			s += "." + k.method
		}
		return s
	default:
		return "invalid"
	}
}
