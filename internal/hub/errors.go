package hub

// Wire-level error codes, per spec §6.
const (
	CodeAuthRequired        = "AUTH_REQUIRED"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeNotAuthenticated    = "NOT_AUTHENTICATED"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeAccessDenied        = "ACCESS_DENIED"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidDocumentID   = "INVALID_DOCUMENT_ID"
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeUnknownMessageType  = "UNKNOWN_MESSAGE_TYPE"
	CodeInternalError       = "INTERNAL_ERROR"
)
