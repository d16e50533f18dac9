package models

// ErrorCategory classifies why a send failed
type ErrorCategory string

const (
	ErrorCategoryNetwork             ErrorCategory = "network"
	ErrorCategoryBlocked             ErrorCategory = "blocked"
	ErrorCategoryRateLimit           ErrorCategory = "rate_limit"
	ErrorCategoryInvalidRecipient    ErrorCategory = "invalid_recipient"
	ErrorCategoryPermission          ErrorCategory = "permission"
	ErrorCategorySessionDisconnected ErrorCategory = "session_disconnected"
	ErrorCategoryMedia               ErrorCategory = "media"
	ErrorCategoryOther               ErrorCategory = "other"
)
