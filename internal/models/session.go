package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Provider identifies which upstream WhatsApp gateway holds a session
type Provider string

const (
	ProviderA Provider = "a"
	ProviderB Provider = "b"
	ProviderC Provider = "c"
)

// IsValid reports whether p is one of the known providers
func (p Provider) IsValid() bool {
	return p == ProviderA || p == ProviderB || p == ProviderC
}

// SessionStatus is the canonical connection state of a session
type SessionStatus string

const (
	SessionStatusConnectingQR SessionStatus = "connecting_qr"
	SessionStatusWorking      SessionStatus = "working"
	SessionStatusStopped      SessionStatus = "stopped"
	SessionStatusFailed       SessionStatus = "failed"
)

// Identity is the remote WhatsApp account a working session is logged into
type Identity struct {
	RemoteID string `json:"remote_id"`
	PushName string `json:"push_name"`
}

// Value implements driver.Valuer so Identity can be stored as JSONB
func (i Identity) Value() (driver.Value, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (i *Identity) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Identity", src)
	}
	return json.Unmarshal(data, i)
}

// Session represents a WhatsApp connection handle mirrored to one provider
type Session struct {
	Name        string        `json:"name" db:"name"`
	DisplayName string        `json:"display_name" db:"display_name"`
	Provider    Provider      `json:"provider" db:"provider"`
	Status      SessionStatus `json:"status" db:"status"`
	Credential  *string       `json:"-" db:"credential"`
	Identity    *Identity     `json:"identity,omitempty" db:"identity"`
	QR          *string       `json:"qr,omitempty" db:"qr"`
	QRExpiresAt *time.Time    `json:"qr_expires_at,omitempty" db:"qr_expires_at"`
	TenantID    int           `json:"tenant_id" db:"tenant_id"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,47}$`)

// SessionName builds the globally unique, tenant-prefixed session name
func SessionName(tenantID int, slug string) string {
	return fmt.Sprintf("t%d_%s", tenantID, slug)
}

// ValidSlug reports whether slug can be used as the tenant-local part of a session name
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// InitialSessionStatus returns the status a freshly created session starts in.
// Provider C needs an explicit connect step before any QR exists.
func InitialSessionStatus(p Provider) SessionStatus {
	if p == ProviderC {
		return SessionStatusStopped
	}
	return SessionStatusConnectingQR
}

// IsWorking reports whether the session can currently send
func (s *Session) IsWorking() bool {
	return s.Status == SessionStatusWorking
}

// CredentialValue returns the stored credential or an empty string
func (s *Session) CredentialValue() string {
	if s.Credential == nil {
		return ""
	}
	return *s.Credential
}

// Validate checks the session invariants
func (s *Session) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("session name is required")
	}
	if !s.Provider.IsValid() {
		return fmt.Errorf("invalid provider: %q", s.Provider)
	}
	if (s.QR == nil) != (s.QRExpiresAt == nil) {
		return fmt.Errorf("qr and qr_expires_at must be set together")
	}
	if s.Status == SessionStatusWorking {
		if s.Identity == nil {
			return fmt.Errorf("working session %s has no identity", s.Name)
		}
		if s.Provider == ProviderC && s.CredentialValue() == "" {
			return fmt.Errorf("working provider C session %s has no credential", s.Name)
		}
	}
	return nil
}

// SessionUpdate is a partial write to a session row. Nil fields are left untouched;
// ClearIdentity and ClearQR are the only way to null those columns.
type SessionUpdate struct {
	Name          string
	TenantID      *int
	Provider      *Provider
	DisplayName   *string
	Status        *SessionStatus
	Credential    *string
	Identity      *Identity
	ClearIdentity bool
	QR            *string
	QRExpiresAt   *time.Time
	ClearQR       bool
}

// Validate checks the update does not break the qr pairing invariant
func (u *SessionUpdate) Validate() error {
	if u.Name == "" {
		return fmt.Errorf("session name is required")
	}
	if (u.QR == nil) != (u.QRExpiresAt == nil) {
		return fmt.Errorf("qr and qr_expires_at must be set together")
	}
	if u.ClearQR && u.QR != nil {
		return fmt.Errorf("cannot set and clear qr in the same update")
	}
	if u.ClearIdentity && u.Identity != nil {
		return fmt.Errorf("cannot set and clear identity in the same update")
	}
	if u.Provider != nil && !u.Provider.IsValid() {
		return fmt.Errorf("invalid provider: %q", *u.Provider)
	}
	return nil
}

// IsEmpty reports whether the update changes nothing besides updated_at
func (u *SessionUpdate) IsEmpty() bool {
	return u.DisplayName == nil && u.Status == nil && u.Credential == nil &&
		u.Identity == nil && !u.ClearIdentity && u.QR == nil && !u.ClearQR
}

// Diff computes the partial update that turns from into to
func Diff(from, to *Session) *SessionUpdate {
	u := &SessionUpdate{Name: to.Name}
	if from.DisplayName != to.DisplayName {
		u.DisplayName = &to.DisplayName
	}
	if from.Status != to.Status {
		status := to.Status
		u.Status = &status
	}
	if to.Credential != nil && from.CredentialValue() != *to.Credential {
		cred := *to.Credential
		u.Credential = &cred
	}
	switch {
	case to.Identity == nil && from.Identity != nil:
		u.ClearIdentity = true
	case to.Identity != nil && (from.Identity == nil || *from.Identity != *to.Identity):
		id := *to.Identity
		u.Identity = &id
	}
	switch {
	case to.QR == nil && from.QR != nil:
		u.ClearQR = true
	case to.QR != nil && (from.QR == nil || *from.QR != *to.QR):
		u.QR = to.QR
		u.QRExpiresAt = to.QRExpiresAt
	}
	return u
}
