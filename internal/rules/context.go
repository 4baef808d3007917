package rules

import "fmt"

// ValueReader supplies current property values to a validation pass without
// any permission checks.
type ValueReader interface {
	ReadValue(p *Property) any
}

// ReadValue lets InputValues serve as a ValueReader.
func (in InputValues) ReadValue(p *Property) any { return in.Get(p) }

// ValidationContext carries the instance state of one validation pass.
type ValidationContext struct {
	Values      ValueReader
	BrokenRules *BrokenRuleList
}

// AuthorizationContext carries the request of one permission check.
type AuthorizationContext struct {
	Action      Action
	Target      Target
	Identity    Identity
	BrokenRules *BrokenRuleList
}

// NewAuthorizationContext checks the action/target pairing.
func NewAuthorizationContext(a Action, t Target, id Identity, list *BrokenRuleList) (AuthorizationContext, error) {
	if err := checkTarget(a, t); err != nil {
		return AuthorizationContext{}, &ArgumentError{Param: "target", Reason: err.Error()}
	}
	return AuthorizationContext{Action: a, Target: t, Identity: id, BrokenRules: list}, nil
}

func (c AuthorizationContext) String() string {
	return fmt.Sprintf("%s on %s", c.Action, c.Target)
}
