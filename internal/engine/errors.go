package engine

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"business-objects/internal/rules"
	"business-objects/internal/store"
)

var (
	// ErrReadOnlyModel is returned when saving an instance of a read-only model.
	ErrReadOnlyModel = errors.New("model is read-only")
	// ErrNotCommand is returned by Execute for models that are not commands.
	ErrNotCommand = errors.New("model is not a command")
	// ErrNoHandler is returned when no command or method handler is registered.
	ErrNoHandler = errors.New("no handler registered")
)

type AppError struct {
	Code    string        `json:"code" msgpack:"code"`
	Status  int           `json:"-" msgpack:"-"`
	Message string        `json:"message" msgpack:"message"`
	Details []ErrorDetail `json:"details,omitempty" msgpack:"details,omitempty"`
}

type ErrorDetail struct {
	Field    string `json:"field,omitempty" msgpack:"field,omitempty"`
	Rule     string `json:"rule,omitempty" msgpack:"rule,omitempty"`
	Message  string `json:"message" msgpack:"message"`
	Severity string `json:"severity,omitempty" msgpack:"severity,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error any `json:"error" msgpack:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(model, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with id %s not found", model, id),
	}
}

func UnknownModelError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_MODEL",
		Status:  fiber.StatusNotFound,
		Message: fmt.Sprintf("Unknown model: %s", name),
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: fiber.StatusUnauthorized, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: fiber.StatusForbidden, Message: msg}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: fiber.StatusConflict, Message: msg}
}

// DeniedError reports an action refused under a non-throwing no-access
// behavior. Output carries the preserved broken rules that explain why.
type DeniedError struct {
	Action rules.Action
	Model  string
	Output *rules.BrokenRulesOutput
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s on %s is not allowed", e.Action, e.Model)
}

// Is makes errors.Is(err, rules.ErrAccessDenied) hold for denials of either kind.
func (e *DeniedError) Is(target error) bool { return target == rules.ErrAccessDenied }

// toAppError maps a portal or store error to its HTTP form. Validation errors
// are returned unchanged since they carry their own status.
func toAppError(err error) (any, int) {
	var verr *rules.ValidationError
	if errors.As(err, &verr) {
		return verr, verr.Status()
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, appErr.Status
	}

	var authErr *rules.AuthorizationError
	if errors.As(err, &authErr) {
		res := authErr.Result()
		e := ForbiddenError(res.Message())
		e.Details = []ErrorDetail{{Field: res.PropertyName(), Rule: res.RuleName(), Message: res.Message()}}
		return e, e.Status
	}

	var denied *DeniedError
	if errors.As(err, &denied) {
		e := ForbiddenError(denied.Error())
		if denied.Output != nil {
			for _, key := range denied.Output.Keys() {
				for _, entry := range denied.Output.Get(key) {
					e.Details = append(e.Details, ErrorDetail{Field: key, Message: entry.Message, Severity: entry.Severity.String()})
				}
			}
		}
		return e, e.Status
	}

	var fiberErr *fiber.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		e := NewAppError("NOT_FOUND", fiber.StatusNotFound, err.Error())
		return e, e.Status
	case errors.Is(err, store.ErrUniqueViolation):
		e := ConflictError("A record with this key already exists")
		return e, e.Status
	case errors.Is(err, ErrReadOnlyModel):
		e := NewAppError("READ_ONLY", fiber.StatusMethodNotAllowed, err.Error())
		return e, e.Status
	case errors.Is(err, ErrNotCommand), errors.Is(err, rules.ErrInvalidArgument):
		e := NewAppError("INVALID_ARGUMENT", fiber.StatusBadRequest, err.Error())
		return e, e.Status
	case errors.Is(err, ErrNoHandler):
		e := NewAppError("NOT_IMPLEMENTED", fiber.StatusNotImplemented, err.Error())
		return e, e.Status
	case errors.As(err, &fiberErr):
		e := NewAppError("HTTP_ERROR", fiberErr.Code, fiberErr.Message)
		return e, e.Status
	}
	return nil, fiber.StatusInternalServerError
}
