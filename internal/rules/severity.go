package rules

import (
	"fmt"
	"strconv"
)

// Severity orders rule outcomes: success < information < warning < error.
// Only error-severity entries make a BrokenRuleList invalid.
type Severity int

const (
	SeveritySuccess Severity = iota
	SeverityInformation
	SeverityWarning
	SeverityError
)

var severityNames = [...]string{"success", "information", "warning", "error"}

func (s Severity) String() string {
	if s < SeveritySuccess || s > SeverityError {
		return "Severity(" + strconv.Itoa(int(s)) + ")"
	}
	return severityNames[s]
}

// ParseSeverity converts the textual form back to a Severity.
func ParseSeverity(s string) (Severity, error) {
	for i, name := range severityNames {
		if name == s {
			return Severity(i), nil
		}
	}
	return SeveritySuccess, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalText() ([]byte, error) {
	if s < SeveritySuccess || s > SeverityError {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// NoAccessBehavior decides what a failed authorization rule does.
type NoAccessBehavior int

const (
	// ThrowError aborts the operation with an AuthorizationError.
	ThrowError NoAccessBehavior = iota
	// ShowError records a preserved error-severity broken rule.
	ShowError
	// ShowWarning records a preserved warning-severity broken rule.
	ShowWarning
	// ShowInformation records a preserved information-severity broken rule.
	ShowInformation
)

var noAccessNames = [...]string{"throwError", "showError", "showWarning", "showInformation"}

func (b NoAccessBehavior) String() string {
	if b < ThrowError || b > ShowInformation {
		return "NoAccessBehavior(" + strconv.Itoa(int(b)) + ")"
	}
	return noAccessNames[b]
}

// Severity returns the severity a non-throwing behavior records with.
// ThrowError maps to SeverityError.
func (b NoAccessBehavior) Severity() Severity {
	switch b {
	case ShowWarning:
		return SeverityWarning
	case ShowInformation:
		return SeverityInformation
	default:
		return SeverityError
	}
}

// ParseNoAccessBehavior converts the textual form back to a NoAccessBehavior.
func ParseNoAccessBehavior(s string) (NoAccessBehavior, error) {
	for i, name := range noAccessNames {
		if name == s {
			return NoAccessBehavior(i), nil
		}
	}
	return ThrowError, fmt.Errorf("unknown no-access behavior %q", s)
}

func (b NoAccessBehavior) MarshalText() ([]byte, error) {
	if b < ThrowError || b > ShowInformation {
		return nil, fmt.Errorf("invalid no-access behavior %d", int(b))
	}
	return []byte(b.String()), nil
}

func (b *NoAccessBehavior) UnmarshalText(text []byte) error {
	v, err := ParseNoAccessBehavior(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// NullResultOption controls how an Expression rule treats a missing value.
type NullResultOption int

const (
	// ReturnTrue lets a missing value pass.
	ReturnTrue NullResultOption = iota
	// ReturnFalse fails a missing value.
	ReturnFalse
	// ConvertToEmptyString matches the pattern against "".
	ConvertToEmptyString
)

var nullResultNames = [...]string{"returnTrue", "returnFalse", "convertToEmptyString"}

func (o NullResultOption) String() string {
	if o < ReturnTrue || o > ConvertToEmptyString {
		return "NullResultOption(" + strconv.Itoa(int(o)) + ")"
	}
	return nullResultNames[o]
}

// ParseNullResultOption converts the textual form back to a NullResultOption.
func ParseNullResultOption(s string) (NullResultOption, error) {
	for i, name := range nullResultNames {
		if name == s {
			return NullResultOption(i), nil
		}
	}
	return ReturnTrue, fmt.Errorf("unknown null result option %q", s)
}

func (o *NullResultOption) UnmarshalText(text []byte) error {
	v, err := ParseNullResultOption(string(text))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

func (o NullResultOption) MarshalText() ([]byte, error) {
	if o < ReturnTrue || o > ConvertToEmptyString {
		return nil, fmt.Errorf("invalid null result option %d", int(o))
	}
	return []byte(o.String()), nil
}
