// internal/api/response_helpers.go
package api

import (
	"errors"
	"net/http"
	"time"

	apperrors "github.com/Corphon/AutoAnnotator/internal/errors"
	"github.com/Corphon/AutoAnnotator/internal/utils"
	"github.com/gin-gonic/gin"
)

// APIResponse is the envelope of every JSON response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError is the error part of the envelope
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper writes enveloped responses
type ResponseHelper struct {
	logger *utils.Logger
}

// NewResponseHelper creates a response helper
func NewResponseHelper(logger *utils.Logger) *ResponseHelper {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &ResponseHelper{logger: logger}
}

// Success writes a 200 response
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// Error writes an error response
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: message,
	}

	if len(details) > 0 {
		apiError.Details = details[0]
	}

	response := &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// BadRequest writes a 400 response
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// InternalError writes a 500 response
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// AppError maps an error from the service layer to a status code and writes it.
// Causes of internal errors are logged, not returned.
func (rh *ResponseHelper) AppError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		rh.logger.Error("unhandled error", map[string]interface{}{
			"path":       c.FullPath(),
			"request_id": rh.getRequestID(c),
			"error":      err.Error(),
		})
		rh.InternalError(c, "internal error")
		return
	}

	status := statusForType(appErr.Type)
	if status >= http.StatusInternalServerError {
		rh.logger.Error(appErr.Message, map[string]interface{}{
			"path":       c.FullPath(),
			"request_id": rh.getRequestID(c),
			"error":      err.Error(),
		})
		rh.Error(c, status, appErr.Code, appErr.Message)
		return
	}

	details := ""
	if appErr.Err != nil {
		details = appErr.Err.Error()
	}
	rh.Error(c, status, appErr.Code, appErr.Message, details)
}

func statusForType(t apperrors.ErrorType) int {
	switch t {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound, apperrors.ErrorTypeDisabled:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
