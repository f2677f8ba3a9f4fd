// AngelaMos | 2026
// errors.go

package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrExternalService = errors.New("external service failure")
)

// AppError is a transport-ready error carrying an HTTP status and a
// provider-agnostic machine code. Raw upstream error text never rides
// inside Message.
type AppError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(status int, code, message string) *AppError {
	return &AppError{Status: status, Code: code, Message: message}
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func BadRequestError(code, message string) *AppError {
	return NewAppError(http.StatusBadRequest, code, message)
}

func UnauthorizedError(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, "unauthorized", message)
}

func ForbiddenError(message string) *AppError {
	return NewAppError(http.StatusForbidden, "forbidden", message)
}

func NotFoundError(code, message string) *AppError {
	return NewAppError(http.StatusNotFound, code, message)
}

func TokenExpiredError() *AppError {
	return NewAppError(http.StatusUnauthorized, "token_expired", "token has expired")
}

func TokenInvalidError() *AppError {
	return NewAppError(http.StatusUnauthorized, "token_invalid", "token is invalid")
}

// QuotaExceededError is distinct from transport failures so clients can
// render an upgrade prompt instead of a generic error page.
func QuotaExceededError() *AppError {
	return NewAppError(http.StatusPaymentRequired, "quota_exceeded", "message allowance exhausted")
}

func ExternalServiceError(code string) *AppError {
	return NewAppError(http.StatusBadGateway, code, "upstream service failure")
}

func FormatValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return "invalid request"
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		field := strings.ToLower(fieldErr.Field())
		switch fieldErr.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s is too short", field))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s is too long", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf(
				"%s must be one of: %s", field, fieldErr.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}

	return strings.Join(msgs, "; ")
}
