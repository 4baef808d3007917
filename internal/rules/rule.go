package rules

import (
	"fmt"
	"strings"
)

// Default priorities. Higher runs first.
const (
	DefaultPriority     = 10
	RequiredPriority    = 100
	DependencyPriority  = -100
	InformationPriority = 1
)

// Rule is the part every rule shares. A Rule is either a ValidationRule or an
// AuthorizationRule; both are sealed by the unexported methods of
// ValidationBase and AuthorizationBase, which custom rules embed.
type Rule interface {
	Name() string
	Message() string
	Priority() int
	StopsProcessing() bool
}

// ValidationRule checks business data of one primary property.
type ValidationRule interface {
	Rule
	Property() *Property
	InputProperties() []*Property
	AffectedProperties() []*Property
	// Execute returns nil when the rule holds. A non-nil error is a defect in
	// the rule or its inputs, never a validation failure.
	Execute(in InputValues) (*ValidationResult, error)

	validationRule()
}

// AuthorizationRule gates an action for an identity.
type AuthorizationRule interface {
	Rule
	Action() Action
	Target() Target
	// NoAccessBehavior returns the rule's own behavior, if it overrides the
	// manager's default.
	NoAccessBehavior() (NoAccessBehavior, bool)
	// Execute returns nil when the identity is allowed.
	Execute(id Identity) *AuthorizationResult

	authorizationRule()
}

// Identity is the caller whose roles authorization rules inspect. A nil
// Identity has no roles.
type Identity interface {
	IsInRole(role string) bool
}

// InputValues holds the current values a validation rule needs, keyed by
// property identity.
type InputValues map[*Property]any

// Get returns the value of p, or nil.
func (in InputValues) Get(p *Property) any {
	if in == nil {
		return nil
	}
	return in[p]
}

// ByName flattens the values to a name keyed map.
func (in InputValues) ByName() map[string]any {
	out := make(map[string]any, len(in))
	for p, v := range in {
		out[p.Name()] = v
	}
	return out
}

type ruleOptions struct {
	priority    int
	hasPriority bool
	stops       bool
	inputs      []*Property
	affected    []*Property
	severity    Severity
	hasSeverity bool
	noAccess    NoAccessBehavior
	hasNoAccess bool
	nullResult  NullResultOption
	hasNull     bool
}

// Option customises a rule at construction.
type Option func(*ruleOptions)

// WithPriority overrides the rule's default priority.
func WithPriority(n int) Option {
	return func(o *ruleOptions) { o.priority, o.hasPriority = n, true }
}

// WithStopsProcessing stops the rule's group when the rule fails.
func WithStopsProcessing() Option {
	return func(o *ruleOptions) { o.stops = true }
}

// WithInputs adds properties whose values the validation rule reads.
func WithInputs(ps ...*Property) Option {
	return func(o *ruleOptions) { o.inputs = append(o.inputs, ps...) }
}

// WithAffected names properties to re-check when the validation rule reports.
func WithAffected(ps ...*Property) Option {
	return func(o *ruleOptions) { o.affected = append(o.affected, ps...) }
}

// WithSeverity sets the severity of a validation rule's results.
func WithSeverity(s Severity) Option {
	return func(o *ruleOptions) { o.severity, o.hasSeverity = s, true }
}

// WithNoAccessBehavior overrides the manager default for one authorization rule.
func WithNoAccessBehavior(b NoAccessBehavior) Option {
	return func(o *ruleOptions) { o.noAccess, o.hasNoAccess = b, true }
}

// WithNullResult sets how an Expression rule treats a missing value.
func WithNullResult(n NullResultOption) Option {
	return func(o *ruleOptions) { o.nullResult, o.hasNull = n, true }
}

func collectOptions(opts []Option) ruleOptions {
	var o ruleOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

type ruleBase struct {
	name     string
	message  string
	priority int
	stops    bool
}

func (r *ruleBase) Name() string          { return r.name }
func (r *ruleBase) Message() string       { return r.message }
func (r *ruleBase) Priority() int         { return r.priority }
func (r *ruleBase) StopsProcessing() bool { return r.stops }

func newRuleBase(name, message string, defaultPriority int, o ruleOptions) (ruleBase, error) {
	if strings.TrimSpace(name) == "" {
		return ruleBase{}, &ArgumentError{Param: "name", Reason: "rule name must not be empty"}
	}
	if strings.TrimSpace(message) == "" {
		return ruleBase{}, &ArgumentError{Rule: name, Param: "message", Reason: "message must not be empty"}
	}
	b := ruleBase{name: name, message: message, priority: defaultPriority, stops: o.stops}
	if o.hasPriority {
		b.priority = o.priority
	}
	return b, nil
}

// ValidationBase carries the shared state of a validation rule. Concrete
// rules embed it and implement Execute.
type ValidationBase struct {
	ruleBase
	property *Property
	inputs   []*Property
	affected []*Property
	severity Severity
}

// NewValidationBase checks and captures the common validation attributes.
func NewValidationBase(name string, p *Property, message string, defaultPriority int, opts ...Option) (ValidationBase, error) {
	o := collectOptions(opts)
	rb, err := newRuleBase(name, message, defaultPriority, o)
	if err != nil {
		return ValidationBase{}, err
	}
	if p == nil {
		return ValidationBase{}, &ArgumentError{Rule: name, Param: "property", Reason: "primary property is required"}
	}
	if o.hasNoAccess {
		return ValidationBase{}, &ArgumentError{Rule: name, Param: "noAccessBehavior", Reason: "only applies to authorization rules"}
	}
	for _, q := range append(append([]*Property(nil), o.inputs...), o.affected...) {
		if q == nil {
			return ValidationBase{}, &ArgumentError{Rule: name, Param: "property", Reason: "input and affected properties must not be nil"}
		}
	}
	sev := SeverityError
	if o.hasSeverity {
		if o.severity <= SeveritySuccess || o.severity > SeverityError {
			return ValidationBase{}, &ArgumentError{Rule: name, Param: "severity",
				Reason: fmt.Sprintf("%s is not a broken rule severity", o.severity)}
		}
		sev = o.severity
	}
	return ValidationBase{
		ruleBase: rb,
		property: p,
		inputs:   append([]*Property(nil), o.inputs...),
		affected: append([]*Property(nil), o.affected...),
		severity: sev,
	}, nil
}

func (b *ValidationBase) Property() *Property { return b.property }

func (b *ValidationBase) InputProperties() []*Property {
	return append([]*Property(nil), b.inputs...)
}

func (b *ValidationBase) AffectedProperties() []*Property {
	return append([]*Property(nil), b.affected...)
}

// Severity is the severity failing results are reported with.
func (b *ValidationBase) Severity() Severity { return b.severity }

// Result builds the rule's result with its configured severity.
func (b *ValidationBase) Result(message string) *ValidationResult {
	return b.ResultWithSeverity(message, b.severity)
}

// ResultWithSeverity builds the rule's result with an explicit severity. An
// empty message falls back to the rule's message.
func (b *ValidationBase) ResultWithSeverity(message string, s Severity) *ValidationResult {
	if message == "" {
		message = b.message
	}
	return &ValidationResult{
		resultBase: resultBase{
			ruleName:     b.name,
			propertyName: b.property.Name(),
			message:      message,
			severity:     s,
			stops:        b.stops,
		},
		affected: b.affected,
	}
}

// Value returns the primary property's value from in.
func (b *ValidationBase) Value(in InputValues) any { return in.Get(b.property) }

func (*ValidationBase) validationRule() {}

// AuthorizationBase carries the shared state of an authorization rule.
type AuthorizationBase struct {
	ruleBase
	action      Action
	target      Target
	noAccess    NoAccessBehavior
	hasNoAccess bool
}

// NewAuthorizationBase checks the action/target pairing and captures the
// common authorization attributes.
func NewAuthorizationBase(name string, a Action, t Target, message string, opts ...Option) (AuthorizationBase, error) {
	o := collectOptions(opts)
	rb, err := newRuleBase(name, message, DefaultPriority, o)
	if err != nil {
		return AuthorizationBase{}, err
	}
	if err := checkTarget(a, t); err != nil {
		return AuthorizationBase{}, &ArgumentError{Rule: name, Param: "target", Reason: err.Error()}
	}
	if len(o.inputs) > 0 || len(o.affected) > 0 || o.hasSeverity || o.hasNull {
		return AuthorizationBase{}, &ArgumentError{Rule: name, Param: "option", Reason: "only validation options were given"}
	}
	if o.hasNoAccess && (o.noAccess < ThrowError || o.noAccess > ShowInformation) {
		return AuthorizationBase{}, &ArgumentError{Rule: name, Param: "noAccessBehavior", Reason: o.noAccess.String()}
	}
	return AuthorizationBase{
		ruleBase:    rb,
		action:      a,
		target:      t,
		noAccess:    o.noAccess,
		hasNoAccess: o.hasNoAccess,
	}, nil
}

func (b *AuthorizationBase) Action() Action { return b.action }
func (b *AuthorizationBase) Target() Target { return b.target }

func (b *AuthorizationBase) NoAccessBehavior() (NoAccessBehavior, bool) {
	return b.noAccess, b.hasNoAccess
}

// Result builds the rule's error-severity result. An empty message falls back
// to the rule's message.
func (b *AuthorizationBase) Result(message string) *AuthorizationResult {
	if message == "" {
		message = b.message
	}
	return &AuthorizationResult{
		resultBase: resultBase{
			ruleName:     b.name,
			propertyName: b.target.Name(),
			message:      message,
			severity:     SeverityError,
			stops:        b.stops,
		},
		action: b.action,
		target: b.target,
	}
}

func (*AuthorizationBase) authorizationRule() {}

// Must panics if err is non-nil. It is meant for rule tables built at
// package init.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
