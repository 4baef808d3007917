package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is matched by every ArgumentError.
	ErrInvalidArgument = errors.New("rules: invalid argument")
	// ErrAccessDenied is matched by every AuthorizationError.
	ErrAccessDenied = errors.New("rules: access denied")
)

// ArgumentError reports a malformed rule or property definition.
type ArgumentError struct {
	Rule   string
	Param  string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("rules: %s: invalid %s: %s", e.Rule, e.Param, e.Reason)
	}
	return fmt.Sprintf("rules: invalid %s: %s", e.Param, e.Reason)
}

// Is reports whether target is ErrInvalidArgument.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// AuthorizationError is returned by HasPermission when a rule fails under
// ThrowError.
type AuthorizationError struct {
	result *AuthorizationResult
}

func newAuthorizationError(r *AuthorizationResult) *AuthorizationError {
	return &AuthorizationError{result: r}
}

func (e *AuthorizationError) Error() string {
	return "rules: access denied: " + e.result.Message()
}

// Is reports whether target is ErrAccessDenied.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrAccessDenied
}

// Result returns the failing authorization result.
func (e *AuthorizationError) Result() *AuthorizationResult { return e.result }

// Action returns the action that was denied.
func (e *AuthorizationError) Action() Action { return e.result.Action() }

// IsAuthorizationError reports whether err is, or wraps, an AuthorizationError.
func IsAuthorizationError(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsArgumentError reports whether err is, or wraps, an ArgumentError.
func IsArgumentError(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}
