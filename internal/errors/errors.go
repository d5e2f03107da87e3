// Package errors renders the API's JSON error envelope and maps pipeline
// errors onto HTTP status codes.
package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/middleware"
)

// Error code constants for standardized error responses
const (
	ErrNotFound           = "NOT_FOUND"
	ErrBadRequest         = "BAD_REQUEST"
	ErrInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrValidation         = "VALIDATION_ERROR"
	ErrSchema             = "SCHEMA_ERROR"
	ErrFeatureMismatch    = "FEATURE_MISMATCH"
	ErrNotImplemented     = "NOT_IMPLEMENTED"
	ErrServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorResponse is the top-level error response structure.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// respond writes the envelope and logs a warning for client errors.
func respond(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	requestID := middleware.GetRequestID(c)

	if log := middleware.GetLogger(c); log != nil && status < http.StatusInternalServerError {
		fields := map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
			"path":       c.Request.URL.Path,
		}
		if details != nil {
			fields["details"] = details
		}
		log.Warn("Request rejected", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	})
}

// NotFound returns a 404 Not Found error response.
func NotFound(c *gin.Context, message string) {
	respond(c, http.StatusNotFound, ErrNotFound, message, nil)
}

// BadRequest returns a 400 Bad Request error response with optional details.
func BadRequest(c *gin.Context, message string, details map[string]interface{}) {
	respond(c, http.StatusBadRequest, ErrBadRequest, message, details)
}

// NotImplemented returns a 501 for capabilities the loaded model lacks.
func NotImplemented(c *gin.Context, message string) {
	respond(c, http.StatusNotImplemented, ErrNotImplemented, message, nil)
}

// ServiceUnavailable returns a 503, used while no model is loaded or a
// dependency is down.
func ServiceUnavailable(c *gin.Context, message string) {
	respond(c, http.StatusServiceUnavailable, ErrServiceUnavailable, message, nil)
}

// InternalServerError returns a 500 Internal Server Error response.
// The error is logged with full context; the client only sees message.
func InternalServerError(c *gin.Context, message string, err error) {
	log := middleware.GetLogger(c)
	requestID := middleware.GetRequestID(c)

	if log != nil {
		log.Error("Internal server error", err, map[string]interface{}{
			"message":    message,
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
		})
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error: ErrorDetail{
			Code:      ErrInternalServer,
			Message:   message,
			RequestID: requestID,
		},
	})
}

// ValidationError returns a 400 Bad Request error response with field-specific validation errors.
func ValidationError(c *gin.Context, validationErrors validator.ValidationErrors) {
	details := make(map[string]interface{}, len(validationErrors))
	for _, err := range validationErrors {
		details[err.Namespace()] = formatValidationError(err)
	}
	respond(c, http.StatusBadRequest, ErrValidation, "Validation failed for one or more fields", details)
}

// Domain maps a pipeline error onto a response. Input problems the caller
// can fix become 4xx with the error text; everything else is a 500 with
// fallback as the message.
func Domain(c *gin.Context, err error, fallback string) {
	var validationErrors validator.ValidationErrors
	var mismatch *domainerr.FeatureMismatchError

	switch {
	case stderrors.As(err, &validationErrors):
		ValidationError(c, validationErrors)
	case stderrors.As(err, &mismatch):
		respond(c, http.StatusBadRequest, ErrFeatureMismatch, err.Error(), map[string]interface{}{
			"expected": mismatch.Expected,
			"got":      mismatch.Got,
		})
	case stderrors.Is(err, domainerr.ErrFeatureMismatch):
		respond(c, http.StatusBadRequest, ErrFeatureMismatch, err.Error(), nil)
	case stderrors.Is(err, domainerr.ErrSchema):
		respond(c, http.StatusBadRequest, ErrSchema, err.Error(), nil)
	case stderrors.Is(err, domainerr.ErrInvalidInput):
		BadRequest(c, err.Error(), nil)
	case stderrors.Is(err, domainerr.ErrUnsupportedOperation):
		NotImplemented(c, err.Error())
	default:
		InternalServerError(c, fallback, err)
	}
}

// formatValidationError converts a validator.FieldError to a human-readable message.
func formatValidationError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too short or small (minimum: " + err.Param() + ")"
	case "max":
		return "Value is too long or large (maximum: " + err.Param() + ")"
	case "gt":
		return "Must be greater than " + err.Param()
	case "gte":
		return "Must be greater than or equal to " + err.Param()
	case "lt":
		return "Must be less than " + err.Param()
	case "lte":
		return "Must be less than or equal to " + err.Param()
	case "oneof":
		return "Must be one of: " + err.Param()
	case "dive":
		return "Invalid element"
	case "datetime":
		return "Must be a date in the form " + err.Param()
	default:
		return "Validation failed for tag: " + err.Tag()
	}
}
