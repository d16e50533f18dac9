// Package provider normalizes the three upstream WhatsApp gateways behind one interface.
package provider

import (
	"context"
	"fmt"

	"github.com/vincent-petithory/dataurl"

	"wacampaign/internal/models"
)

// SessionRef addresses a session on its provider
type SessionRef struct {
	Name       string
	Credential string
}

// RefFor builds the provider reference of a stored session
func RefFor(s *models.Session) SessionRef {
	return SessionRef{Name: s.Name, Credential: s.CredentialValue()}
}

// PairingResult is the outcome of starting a session
type PairingResult struct {
	Status models.SessionStatus
	// QR is a PNG image, present only while Status is connecting_qr
	QR []byte
}

// QRDataURL encodes the QR image for storage and display
func (p PairingResult) QRDataURL() string {
	if len(p.QR) == 0 {
		return ""
	}
	return dataurl.New(p.QR, "image/png").String()
}

// Reachability tells whether a phone number has a WhatsApp account.
// Err is set when the check itself failed; Reachable says nothing then.
type Reachability struct {
	Reachable bool
	ChatID    string
	Err       error
}

// Known reports whether the provider actually answered the check
func (r Reachability) Known() bool {
	return r.Err == nil
}

// PayloadKind is the type of a single outbound message
type PayloadKind string

const (
	PayloadText     PayloadKind = "text"
	PayloadImage    PayloadKind = "image"
	PayloadVideo    PayloadKind = "video"
	PayloadAudio    PayloadKind = "audio"
	PayloadDocument PayloadKind = "document"
)

// Payload is one rendered message ready to send
type Payload struct {
	Kind     PayloadKind
	Text     string
	MediaURL string
	Caption  string
	FileName string
}

// Provider is the capability set every gateway adapter implements
type Provider interface {
	CreateSession(ctx context.Context, name string) (SessionRef, error)
	StartSession(ctx context.Context, ref SessionRef) (PairingResult, error)
	StopSession(ctx context.Context, ref SessionRef) error
	DeleteSession(ctx context.Context, ref SessionRef) error
	GetStatus(ctx context.Context, ref SessionRef) (models.SessionStatus, *models.Identity, error)
	// CheckRecipientReachable never fails; adapter errors report the number unreachable
	CheckRecipientReachable(ctx context.Context, ref SessionRef, phone string) Reachability
	Send(ctx context.Context, ref SessionRef, phone string, payload Payload) (string, error)
}

// RemoteSession is one session object listed on a provider C account
type RemoteSession struct {
	Token    string
	Ready    bool
	Identity *models.Identity
}

// CredentialHealth is the health of one provider C credential
type CredentialHealth struct {
	Status   models.SessionStatus
	Identity *models.Identity
}

// CredentialDiscoverer is implemented by providers that assign session tokens themselves
type CredentialDiscoverer interface {
	MintCredential() string
	// CheckCredential returns ErrUnknownCredential when the provider has no memory of credential
	CheckCredential(ctx context.Context, credential string) (CredentialHealth, error)
	ListAccountSessions(ctx context.Context) ([]RemoteSession, error)
}

// Set holds the configured adapters by provider
type Set struct {
	providers map[models.Provider]Provider
}

// NewSet creates an empty provider set
func NewSet() *Set {
	return &Set{providers: make(map[models.Provider]Provider)}
}

// Register adds an adapter
func (s *Set) Register(p models.Provider, adapter Provider) {
	s.providers[p] = adapter
}

// Get returns the adapter for p
func (s *Set) Get(p models.Provider) (Provider, error) {
	adapter, ok := s.providers[p]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", p)
	}
	return adapter, nil
}

// Has reports whether p is configured
func (s *Set) Has(p models.Provider) bool {
	_, ok := s.providers[p]
	return ok
}

var (
	_ Provider             = (*ProviderA)(nil)
	_ Provider             = (*ProviderB)(nil)
	_ Provider             = (*ProviderC)(nil)
	_ CredentialDiscoverer = (*ProviderC)(nil)
)
