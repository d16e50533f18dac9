package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"wacampaign/internal/models"
)

// ErrUnknownCredential is returned by CheckCredential when the provider does not know the token
var ErrUnknownCredential = errors.New("unknown credential")

// SendError is the only error type adapters return from provider calls
type SendError struct {
	Category   models.ErrorCategory
	Detail     string
	StatusCode int
	// AccountBlocked marks a blocked failure aimed at the sending account, not the recipient
	AccountBlocked bool
	Err            error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Category, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// NewSendError builds a SendError without a transport cause
func NewSendError(category models.ErrorCategory, detail string) *SendError {
	return &SendError{Category: category, Detail: detail}
}

// CategoryOf extracts the category of err, defaulting to other
func CategoryOf(err error) models.ErrorCategory {
	var se *SendError
	if errors.As(err, &se) {
		return se.Category
	}
	if isTimeout(err) {
		return models.ErrorCategoryNetwork
	}
	return models.ErrorCategoryOther
}

// IsSessionLevel reports whether err says the sending session itself is unusable:
// it is disconnected, or its account is banned. A recipient that blocked the sender is not.
func IsSessionLevel(err error) bool {
	var se *SendError
	if !errors.As(err, &se) {
		return false
	}
	return se.Category == models.ErrorCategorySessionDisconnected ||
		(se.Category == models.ErrorCategoryBlocked && se.AccountBlocked)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var bodyRules = []struct {
	needles  []string
	category models.ErrorCategory
	account  bool
}{
	{[]string{"rate limit", "rate-limit", "too many requests", "throttl"}, models.ErrorCategoryRateLimit, false},
	{[]string{"banned", "account blocked", "account suspended", "account disabled", "spam"}, models.ErrorCategoryBlocked, true},
	{[]string{"blocked"}, models.ErrorCategoryBlocked, false},
	{[]string{"not on whatsapp", "not registered", "invalid number", "invalid phone", "number does not exist", "invalid jid", "no lid"}, models.ErrorCategoryInvalidRecipient, false},
	{[]string{"not connected", "disconnected", "not logged", "logged out", "session not found", "session closed", "not ready"}, models.ErrorCategorySessionDisconnected, false},
	{[]string{"media", "download", "file", "mimetype", "unsupported format"}, models.ErrorCategoryMedia, false},
	{[]string{"unauthorized", "forbidden", "api key", "apikey", "token"}, models.ErrorCategoryPermission, false},
}

// Categorize maps a transport result to a SendError. err is the transport error (may be nil),
// statusCode and body describe the HTTP response when there was one.
func Categorize(statusCode int, body string, err error) *SendError {
	if err != nil {
		var se *SendError
		if errors.As(err, &se) {
			return se
		}
		return &SendError{Category: models.ErrorCategoryNetwork, Detail: err.Error(), Err: err}
	}

	detail := strings.TrimSpace(body)
	if len(detail) > 300 {
		detail = detail[:300]
	}
	if detail == "" {
		detail = http.StatusText(statusCode)
	}
	out := &SendError{Detail: detail, StatusCode: statusCode}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		out.Category = models.ErrorCategoryPermission
		return out
	case http.StatusTooManyRequests:
		out.Category = models.ErrorCategoryRateLimit
		return out
	case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		out.Category = models.ErrorCategoryNetwork
		return out
	}

	lower := strings.ToLower(body)
	for _, rule := range bodyRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				out.Category = rule.category
				out.AccountBlocked = rule.account
				return out
			}
		}
	}

	out.Category = models.ErrorCategoryOther
	return out
}
