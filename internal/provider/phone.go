package provider

import (
	"regexp"
	"strings"
)

var nonDigits = regexp.MustCompile(`[^\d]`)

// NormalizePhone strips formatting and any JID suffix, leaving international digits only
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if at := strings.IndexByte(phone, '@'); at >= 0 {
		phone = phone[:at]
	}
	if colon := strings.IndexByte(phone, ':'); colon >= 0 {
		phone = phone[:colon]
	}
	return nonDigits.ReplaceAllString(phone, "")
}

// ChatID returns the personal chat JID of a phone number
func ChatID(phone string) string {
	return NormalizePhone(phone) + "@c.us"
}

// RemoteIDFromJID extracts the phone number part of a JID such as "628123:43@s.whatsapp.net"
func RemoteIDFromJID(jid string) string {
	return NormalizePhone(jid)
}
