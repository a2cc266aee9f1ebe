package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/genealogy/pkg/apperror"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = apperror.Token("unauthorized")
	ErrForbidden          = apperror.Permission("forbidden")
	ErrNotFound           = apperror.NotFound("not_found")
	ErrInvalidRequest     = apperror.Validation("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{{Field: field, Code: code, Message: message}},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    string(apperror.KindValidation),
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "too many requests"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "service unavailable"}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{Type: string(apperror.KindNotFound), Message: "not found"}
	}

	code := apperror.CodeOf(err)
	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		return http.StatusBadRequest, errorPayload{
			Type:    string(apperror.KindValidation),
			Code:    code,
			Message: "validation error",
			Errors: []ValidationError{{
				Field:   validationErrorField(code),
				Code:    code,
				Message: validationErrorMessage(code),
			}},
		}
	case apperror.KindNotFound:
		return http.StatusNotFound, errorPayload{Type: string(apperror.KindNotFound), Code: code, Message: "not found"}
	case apperror.KindConflict:
		return http.StatusConflict, errorPayload{Type: string(apperror.KindConflict), Code: code, Message: "conflict"}
	case apperror.KindConcurrency:
		return http.StatusConflict, errorPayload{Type: string(apperror.KindConcurrency), Code: code, Message: "concurrent modification, retry the request"}
	case apperror.KindPermission:
		return http.StatusForbidden, errorPayload{Type: string(apperror.KindPermission), Code: code, Message: "forbidden"}
	case apperror.KindToken:
		return http.StatusUnauthorized, errorPayload{Type: string(apperror.KindToken), Code: code, Message: "unauthorized"}
	case apperror.KindTokenStale:
		return http.StatusGone, errorPayload{Type: string(apperror.KindTokenStale), Code: code, Message: "token no longer valid"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

// classifyErrorForLog feeds the request log with the same type and code
// that the client receives.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(code string) string {
	switch {
	case code == "invalid_request":
		return "request"
	case strings.HasPrefix(code, "invalid_"):
		return strings.TrimPrefix(code, "invalid_")
	default:
		return ""
	}
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "duplicate_parent_uid":
		return "a parent uid is listed more than once"
	case "noop_status_change":
		return "status is unchanged"
	case "reserved_stage":
		return "stage is reserved for system events"
	default:
		return "invalid value"
	}
}
