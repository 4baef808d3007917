package rules

import (
	"fmt"
	"sort"
)

// RuleList holds the rules of one group, highest priority first. Equal
// priorities keep their insertion order.
type RuleList struct {
	rules []Rule
}

func (l *RuleList) add(r Rule) {
	l.rules = append(l.rules, r)
	sort.SliceStable(l.rules, func(i, j int) bool {
		return l.rules[i].Priority() > l.rules[j].Priority()
	})
}

func (l *RuleList) Len() int { return len(l.rules) }

// Rules returns the rules in execution order.
func (l *RuleList) Rules() []Rule { return append([]Rule(nil), l.rules...) }

// RuleManager owns the rules of one model type. It is built once when the
// model is composed; after that it is only read, so one manager serves every
// instance concurrently. Add and Initialize must not race with Validate or
// HasPermission.
type RuleManager struct {
	groups   map[GroupKey]*RuleList
	order    []GroupKey
	noAccess NoAccessBehavior
}

// NewRuleManager returns an empty manager whose default no-access behavior is
// ThrowError.
func NewRuleManager() *RuleManager {
	return &RuleManager{groups: make(map[GroupKey]*RuleList), noAccess: ThrowError}
}

// Initialize sets the behavior used by authorization rules that do not carry
// their own.
func (m *RuleManager) Initialize(b NoAccessBehavior) error {
	if b < ThrowError || b > ShowInformation {
		return &ArgumentError{Param: "noAccessBehavior", Reason: b.String()}
	}
	m.noAccess = b
	return nil
}

func (m *RuleManager) NoAccessBehavior() NoAccessBehavior { return m.noAccess }

// Add files r under its group key.
func (m *RuleManager) Add(r Rule) error {
	var key GroupKey
	switch rule := r.(type) {
	case ValidationRule:
		if rule.Property() == nil {
			return &ArgumentError{Rule: rule.Name(), Param: "property", Reason: "primary property is required"}
		}
		key = ValidationKey(rule.Property())
	case AuthorizationRule:
		if err := checkTarget(rule.Action(), rule.Target()); err != nil {
			return &ArgumentError{Rule: rule.Name(), Param: "target", Reason: err.Error()}
		}
		key = AuthorizationKey(rule.Action(), rule.Target())
	case nil:
		return &ArgumentError{Param: "rule", Reason: "rule must not be nil"}
	default:
		return &ArgumentError{Rule: r.Name(), Param: "rule", Reason: fmt.Sprintf("%T is neither a validation nor an authorization rule", r)}
	}
	list, ok := m.groups[key]
	if !ok {
		list = &RuleList{}
		m.groups[key] = list
		m.order = append(m.order, key)
	}
	list.add(r)
	return nil
}

// Group returns the rule list of key, or nil.
func (m *RuleManager) Group(key GroupKey) *RuleList { return m.groups[key] }

// Keys returns the group keys in the order they were first used.
func (m *RuleManager) Keys() []GroupKey { return append([]GroupKey(nil), m.order...) }

// HasAuthorizationRules reports whether any rule gates a and t.
func (m *RuleManager) HasAuthorizationRules(a Action, t Target) bool {
	l := m.groups[AuthorizationKey(a, t)]
	return l != nil && l.Len() > 0
}

// Validate runs the validation rules of p in priority order. Failures are
// recorded in ctx.BrokenRules; Dependency notifications are returned but not
// recorded. A failing result with StopsProcessing ends the group. An error
// from a rule's Execute is returned as is, together with the results produced
// before it.
func (m *RuleManager) Validate(p *Property, ctx ValidationContext) ([]*ValidationResult, error) {
	if p == nil {
		return nil, &ArgumentError{Param: "property", Reason: "property must not be nil"}
	}
	list := m.groups[ValidationKey(p)]
	if list == nil {
		return nil, nil
	}
	var results []*ValidationResult
	for _, r := range list.rules {
		rule := r.(ValidationRule)
		res, err := rule.Execute(inputsFor(rule, ctx.Values))
		if err != nil {
			return results, err
		}
		if res == nil {
			continue
		}
		results = append(results, res)
		if ctx.BrokenRules != nil {
			ctx.BrokenRules.AddResult(res)
		}
		if res.StopsProcessing() {
			break
		}
	}
	return results, nil
}

// ValidateAll runs Validate for each property in turn. Stop-processing ends
// only the group it happens in.
func (m *RuleManager) ValidateAll(props []*Property, ctx ValidationContext) ([]*ValidationResult, error) {
	var all []*ValidationResult
	for _, p := range props {
		res, err := m.Validate(p, ctx)
		all = append(all, res...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// HasPermission runs the authorization rules of ctx.Action and ctx.Target.
//
// A failing rule whose behavior is ThrowError returns false and an
// *AuthorizationError at once; nothing is recorded. Under any other behavior
// the failure is recorded as a preserved broken rule with the behavior's
// severity, evaluation goes on unless the rule stops processing, and the
// verdict is false.
func (m *RuleManager) HasPermission(ctx AuthorizationContext) (bool, error) {
	list := m.groups[AuthorizationKey(ctx.Action, ctx.Target)]
	if list == nil {
		return true, nil
	}
	allowed := true
	var preserved []*AuthorizationResult
	for _, r := range list.rules {
		rule := r.(AuthorizationRule)
		res := rule.Execute(ctx.Identity)
		if res == nil {
			continue
		}
		behavior := m.noAccess
		if b, ok := rule.NoAccessBehavior(); ok {
			behavior = b
		}
		if behavior == ThrowError {
			return false, newAuthorizationError(res)
		}
		allowed = false
		preserved = append(preserved, res.preserve(behavior))
		if res.StopsProcessing() {
			break
		}
	}
	if ctx.BrokenRules != nil {
		for _, res := range preserved {
			ctx.BrokenRules.AddResult(res)
		}
	}
	return allowed, nil
}

func inputsFor(rule ValidationRule, values ValueReader) InputValues {
	in := InputValues{}
	if values == nil {
		return in
	}
	p := rule.Property()
	in[p] = values.ReadValue(p)
	for _, q := range rule.InputProperties() {
		in[q] = values.ReadValue(q)
	}
	return in
}
