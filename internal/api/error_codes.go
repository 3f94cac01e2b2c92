// internal/api/error_codes.go
package api

import "github.com/Corphon/AutoAnnotator/internal/services"

// API error codes
const (
	// Generic
	ErrorBadRequest        = "BAD_REQUEST"
	ErrorInternalError     = "INTERNAL_ERROR"
	ErrorRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

	// Annotations
	ErrorInvalidJSON        = services.CodeInvalidJSON
	ErrorNoValidAnnotations = services.CodeNoValidAnnotations
	ErrorLoadFailed         = services.CodeLoadFailed
	ErrorAuditDisabled      = services.CodeAuditDisabled

	// Files
	ErrorFileNotFound   = services.CodeFileNotFound
	ErrorIndexNotFound  = "INDEX_NOT_FOUND"
	ErrorInvalidRequest = "INVALID_REQUEST"
)
