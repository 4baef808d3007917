package rules

import (
	"fmt"
	"regexp"
)

// RequiredRule fails when the property has no value.
type RequiredRule struct {
	ValidationBase
}

func Required(p *Property, message string, opts ...Option) (*RequiredRule, error) {
	b, err := NewValidationBase("Required", p, message, RequiredPriority, opts...)
	if err != nil {
		return nil, err
	}
	return &RequiredRule{ValidationBase: b}, nil
}

func (r *RequiredRule) Execute(in InputValues) (*ValidationResult, error) {
	if IsEmpty(r.Value(in)) {
		return r.Result(""), nil
	}
	return nil, nil
}

// MaxLengthRule fails when the text is longer than Max. A missing value passes.
type MaxLengthRule struct {
	ValidationBase
	Max int
}

func MaxLength(p *Property, max int, message string, opts ...Option) (*MaxLengthRule, error) {
	if max < 0 {
		return nil, &ArgumentError{Rule: "MaxLength", Param: "max", Reason: "must not be negative"}
	}
	b, err := NewValidationBase("MaxLength", p, message, DefaultPriority, opts...)
	if err != nil {
		return nil, err
	}
	return &MaxLengthRule{ValidationBase: b, Max: max}, nil
}

func (r *MaxLengthRule) Execute(in InputValues) (*ValidationResult, error) {
	v := r.Value(in)
	if v == nil || textLength(v) <= r.Max {
		return nil, nil
	}
	return r.Result(""), nil
}

// MinLengthRule fails when the value is missing or shorter than Min.
type MinLengthRule struct {
	ValidationBase
	Min int
}

func MinLength(p *Property, min int, message string, opts ...Option) (*MinLengthRule, error) {
	if min < 0 {
		return nil, &ArgumentError{Rule: "MinLength", Param: "min", Reason: "must not be negative"}
	}
	b, err := NewValidationBase("MinLength", p, message, DefaultPriority, opts...)
	if err != nil {
		return nil, err
	}
	return &MinLengthRule{ValidationBase: b, Min: min}, nil
}

func (r *MinLengthRule) Execute(in InputValues) (*ValidationResult, error) {
	v := r.Value(in)
	if v == nil || textLength(v) < r.Min {
		return r.Result(""), nil
	}
	return nil, nil
}

// LengthIsRule fails when the value is missing or not exactly Length long.
type LengthIsRule struct {
	ValidationBase
	Length int
}

func LengthIs(p *Property, length int, message string, opts ...Option) (*LengthIsRule, error) {
	if length < 0 {
		return nil, &ArgumentError{Rule: "LengthIs", Param: "length", Reason: "must not be negative"}
	}
	b, err := NewValidationBase("LengthIs", p, message, DefaultPriority, opts...)
	if err != nil {
		return nil, err
	}
	return &LengthIsRule{ValidationBase: b, Length: length}, nil
}

func (r *LengthIsRule) Execute(in InputValues) (*ValidationResult, error) {
	v := r.Value(in)
	if v == nil || textLength(v) != r.Length {
		return r.Result(""), nil
	}
	return nil, nil
}

// MaxValueRule fails when the value exceeds Max. A missing value passes.
type MaxValueRule struct {
	ValidationBase
	Max any
}

func MaxValue(p *Property, max any, message string, opts ...Option) (*MaxValueRule, error) {
	if err := checkBound("MaxValue", max); err != nil {
		return nil, err
	}
	b, err := NewValidationBase("MaxValue", p, message, DefaultPriority, opts...)
	if err != nil {
		return nil, err
	}
	return &MaxValueRule{ValidationBase: b, Max: max}, nil
}

func (r *MaxValueRule) Execute(in InputValues) (*ValidationResult, error) {
	v := r.Value(in)
	if isMissing(v) {
		return nil, nil
	}
	c, err := compareValues(v, r.Max)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", r.Name(), r.Property().Name(), err)
	}
	if c > 0 {
		return r.Result(""), nil
	}
	return nil, nil
}

// MinValueRule fails when the value is missing or below Min.
type MinValueRule struct {
	ValidationBase
	Min any
}

func MinValue(p *Property, min any, message string, opts ...Option) (*MinValueRule, error) {
	if err := checkBound("MinValue", min); err != nil {
		return nil, err
	}
	b, err := NewValidationBase("MinValue", p, message, DefaultPriority, opts...)
	if err != nil {
		return nil, err
	}
	return &MinValueRule{ValidationBase: b, Min: min}, nil
}

func (r *MinValueRule) Execute(in InputValues) (*ValidationResult, error) {
	v := r.Value(in)
	if isMissing(v) {
		return r.Result(""), nil
	}
	c, err := compareValues(v, r.Min)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", r.Name(), r.Property().Name(), err)
	}
	if c < 0 {
		return r.Result(""), nil
	}
	return nil, nil
}

func checkBound(rule string, bound any) error {
	if isMissing(bound) {
		return &ArgumentError{Rule: rule, Param: "bound", Reason: "a bound value is required"}
	}
	if _, err := compareValues(bound, bound); err != nil {
		return &ArgumentError{Rule: rule, Param: "bound", Reason: err.Error()}
	}
	return nil
}

// ExpressionRule fails when the text does not match Pattern. nil and "" are
// handled by the rule's NullResultOption.
type ExpressionRule struct {
	ValidationBase
	Pattern    *regexp.Regexp
	NullResult NullResultOption
}

func Expression(p *Property, pattern string, message string, opts ...Option) (*ExpressionRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &ArgumentError{Rule: "Expression", Param: "pattern", Reason: err.Error()}
	}
	b, err := NewValidationBase("Expression", p, message, DefaultPriority, opts...)
	if err != nil {
		return nil, err
	}
	o := collectOptions(opts)
	null := ReturnTrue
	if o.hasNull {
		null = o.nullResult
	}
	return &ExpressionRule{ValidationBase: b, Pattern: re, NullResult: null}, nil
}

func (r *ExpressionRule) Execute(in InputValues) (*ValidationResult, error) {
	v := r.Value(in)
	var text string
	if v == nil || v == "" {
		switch r.NullResult {
		case ReturnTrue:
			return nil, nil
		case ReturnFalse:
			return r.Result(""), nil
		}
	} else {
		text = stringify(v)
	}
	if r.Pattern.MatchString(text) {
		return nil, nil
	}
	return r.Result(""), nil
}

// DependencyRule announces, while its primary property has a value, that the
// affected properties must be re-checked. Its success-severity result is a
// notification: the manager hands it back to the caller without recording it.
type DependencyRule struct {
	ValidationBase
}

func Dependency(p *Property, affected []*Property, message string, opts ...Option) (*DependencyRule, error) {
	if len(affected) == 0 {
		return nil, &ArgumentError{Rule: "Dependency", Param: "affected", Reason: "at least one dependent property is required"}
	}
	opts = append(opts, WithAffected(affected...))
	b, err := NewValidationBase("Dependency", p, message, DependencyPriority, opts...)
	if err != nil {
		return nil, err
	}
	b.stops = false
	return &DependencyRule{ValidationBase: b}, nil
}

func (r *DependencyRule) Execute(in InputValues) (*ValidationResult, error) {
	if IsEmpty(r.Value(in)) {
		return nil, nil
	}
	return r.ResultWithSeverity("", SeveritySuccess), nil
}

// InformationRule always reports its message with information severity.
type InformationRule struct {
	ValidationBase
}

func Information(p *Property, message string, opts ...Option) (*InformationRule, error) {
	b, err := NewValidationBase("Information", p, message, InformationPriority, opts...)
	if err != nil {
		return nil, err
	}
	return &InformationRule{ValidationBase: b}, nil
}

func (r *InformationRule) Execute(in InputValues) (*ValidationResult, error) {
	return r.ResultWithSeverity("", SeverityInformation), nil
}
