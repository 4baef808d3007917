package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/go-playground/validator/v10"
)

// ExprRule fails when its boolean expression evaluates to true. The
// environment holds every input value by property name plus "value", the
// primary property's value.
type ExprRule struct {
	ValidationBase
	Source  string
	program *vm.Program
}

func Expr(p *Property, source string, message string, opts ...Option) (*ExprRule, error) {
	prog, err := expr.Compile(source, expr.AsBool())
	if err != nil {
		return nil, &ArgumentError{Rule: "Expr", Param: "expression", Reason: err.Error()}
	}
	b, err := NewValidationBase("Expr", p, message, DefaultPriority, opts...)
	if err != nil {
		return nil, err
	}
	return &ExprRule{ValidationBase: b, Source: source, program: prog}, nil
}

func (r *ExprRule) Execute(in InputValues) (*ValidationResult, error) {
	env := in.ByName()
	env["value"] = r.Value(in)
	out, err := expr.Run(r.program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q on %s: %w", r.Source, r.Property().Name(), err)
	}
	if violated, ok := out.(bool); ok && violated {
		return r.Result(""), nil
	}
	return nil, nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func formatValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// FormatRule checks the value against a validator tag such as "email",
// "url" or "uuid4". A missing value passes.
type FormatRule struct {
	ValidationBase
	Tag string
}

func Format(p *Property, tag string, message string, opts ...Option) (*FormatRule, error) {
	if err := checkTag(tag); err != nil {
		return nil, &ArgumentError{Rule: "Format", Param: "tag", Reason: err.Error()}
	}
	b, err := NewValidationBase("Format", p, message, DefaultPriority, opts...)
	if err != nil {
		return nil, err
	}
	return &FormatRule{ValidationBase: b, Tag: tag}, nil
}

func (r *FormatRule) Execute(in InputValues) (*ValidationResult, error) {
	v := r.Value(in)
	if IsEmpty(v) {
		return nil, nil
	}
	if err := formatValidator().Var(v, r.Tag); err != nil {
		if _, ok := err.(validator.ValidationErrors); ok {
			return r.Result(""), nil
		}
		return nil, fmt.Errorf("format %q on %s: %w", r.Tag, r.Property().Name(), err)
	}
	return nil, nil
}

// checkTag catches unknown tags, which the validator reports by panicking.
func checkTag(tag string) (err error) {
	if tag == "" {
		return fmt.Errorf("tag must not be empty")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	_ = formatValidator().Var("", tag)
	return nil
}
