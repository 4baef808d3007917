package rules

// Result is the outcome of one failing rule execution. It is either a
// *ValidationResult or an *AuthorizationResult.
type Result interface {
	RuleName() string
	PropertyName() string
	Message() string
	Severity() Severity
	StopsProcessing() bool
	IsPreserved() bool
	ToBrokenRule() BrokenRule

	isResult()
}

type resultBase struct {
	ruleName     string
	propertyName string
	message      string
	severity     Severity
	stops        bool
	preserved    bool
}

func (r *resultBase) RuleName() string      { return r.ruleName }
func (r *resultBase) PropertyName() string  { return r.propertyName }
func (r *resultBase) Message() string       { return r.message }
func (r *resultBase) Severity() Severity    { return r.severity }
func (r *resultBase) StopsProcessing() bool { return r.stops }
func (r *resultBase) IsPreserved() bool     { return r.preserved }

func (r *resultBase) ToBrokenRule() BrokenRule {
	return BrokenRule{
		RuleName:     r.ruleName,
		IsPreserved:  r.preserved,
		PropertyName: r.propertyName,
		Message:      r.message,
		Severity:     r.severity,
	}
}

func (*resultBase) isResult() {}

// ValidationResult is produced by a failing validation rule, or by a
// Dependency notification.
type ValidationResult struct {
	resultBase
	affected []*Property
}

// Affected returns the properties whose recorded state may be stale after
// this result.
func (r *ValidationResult) Affected() []*Property {
	return append([]*Property(nil), r.affected...)
}

// IsNotification reports whether the result only announces affected
// properties and must not be recorded as a broken rule.
func (r *ValidationResult) IsNotification() bool {
	return r.severity == SeveritySuccess
}

// AuthorizationResult is produced by a failing authorization rule.
type AuthorizationResult struct {
	resultBase
	action Action
	target Target
}

func (r *AuthorizationResult) Action() Action { return r.action }
func (r *AuthorizationResult) Target() Target { return r.target }

// preserve returns a copy recorded under a non-throwing behavior.
func (r *AuthorizationResult) preserve(b NoAccessBehavior) *AuthorizationResult {
	cp := *r
	cp.preserved = true
	cp.severity = b.Severity()
	return &cp
}
