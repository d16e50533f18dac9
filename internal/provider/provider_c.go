package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"wacampaign/internal/config"
	"wacampaign/internal/models"
)

const accountListingKey = "account-sessions"

// ProviderC talks to a gateway that assigns session tokens itself. Operational calls use
// the per-session token; the account listing uses the account user and password.
// Status is free text and the QR arrives as an image stream, and only from the second
// start call on a fresh token.
type ProviderC struct {
	http     *resty.Client
	username string
	password string
	listing  *cache.Cache
}

type cRemoteSession struct {
	Token    string `json:"token"`
	Status   string `json:"status"`
	Phone    string `json:"phone"`
	PushName string `json:"pushName"`
}

// NewProviderC creates the provider C adapter
func NewProviderC(cfg config.ProviderConfig, listingTTL time.Duration) (*ProviderC, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("provider C account credentials cannot be empty")
	}
	client, err := newRestyClient(cfg)
	if err != nil {
		return nil, err
	}
	if listingTTL <= 0 {
		listingTTL = 5 * time.Second
	}

	log.Info().Str("provider", "c").Str("baseURL", cfg.BaseURL).Msg("Provider C client configured")
	return &ProviderC{
		http:     client,
		username: cfg.Username,
		password: cfg.Password,
		listing:  cache.New(listingTTL, 2*listingTTL),
	}, nil
}

func (p *ProviderC) request(ctx context.Context, token string) *resty.Request {
	return p.http.R().SetContext(ctx).SetAuthToken(token)
}

func tokenPath(token, op string) string {
	return "/api/" + url.PathEscape(token) + "/" + op
}

// MintCredential reserves a fresh opaque token
func (p *ProviderC) MintCredential() string {
	return uuid.NewString()
}

// CreateSession only reserves a local token; the remote object appears on first connect
func (p *ProviderC) CreateSession(_ context.Context, name string) (SessionRef, error) {
	return SessionRef{Name: name, Credential: p.MintCredential()}, nil
}

// StartSession starts pairing. A fresh token yields no QR on the first call, so start and
// fetch are attempted twice.
func (p *ProviderC) StartSession(ctx context.Context, ref SessionRef) (PairingResult, error) {
	if ref.Credential == "" {
		return PairingResult{}, NewSendError(models.ErrorCategoryPermission, "session has no credential")
	}

	status := models.SessionStatusConnectingQR
	for attempt := 0; attempt < 2; attempt++ {
		var out struct {
			Status string `json:"status"`
		}
		resp, err := p.request(ctx, ref.Credential).
			SetResult(&out).
			Post(tokenPath(ref.Credential, "start-session"))
		if err := check(resp, err); err != nil {
			return PairingResult{}, err
		}

		status = ClassifyStatus(models.ProviderC, out.Status)
		if status == models.SessionStatusWorking {
			p.listing.Delete(accountListingKey)
			return PairingResult{Status: status}, nil
		}

		png, err := p.fetchQR(ctx, ref.Credential)
		if err != nil {
			return PairingResult{}, err
		}
		if len(png) > 0 {
			return PairingResult{Status: models.SessionStatusConnectingQR, QR: png}, nil
		}
	}

	log.Debug().Str("provider", "c").Str("session", ref.Name).Msg("No QR available after second start")
	if status == models.SessionStatusFailed {
		return PairingResult{Status: status}, nil
	}
	return PairingResult{Status: models.SessionStatusConnectingQR}, nil
}

func (p *ProviderC) fetchQR(ctx context.Context, token string) ([]byte, error) {
	resp, err := p.request(ctx, token).
		SetHeader("Accept", "image/png").
		Get(tokenPath(token, "qrcode-session"))
	if err != nil {
		return nil, Categorize(0, "", err)
	}
	if resp.StatusCode() == http.StatusNoContent || resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, Categorize(resp.StatusCode(), resp.String(), nil)
	}
	if !strings.HasPrefix(resp.Header().Get("Content-Type"), "image/") {
		return nil, nil
	}
	return resp.Body(), nil
}

// StopSession closes the remote session
func (p *ProviderC) StopSession(ctx context.Context, ref SessionRef) error {
	if ref.Credential == "" {
		return nil
	}
	resp, err := p.request(ctx, ref.Credential).Post(tokenPath(ref.Credential, "close-session"))
	return check(resp, err)
}

// DeleteSession logs the remote session out, which discards it
func (p *ProviderC) DeleteSession(ctx context.Context, ref SessionRef) error {
	if ref.Credential == "" {
		return nil
	}
	resp, err := p.request(ctx, ref.Credential).Post(tokenPath(ref.Credential, "logout-session"))
	p.listing.Delete(accountListingKey)
	return check(resp, err)
}

// CheckCredential classifies the free-text health of credential
func (p *ProviderC) CheckCredential(ctx context.Context, credential string) (CredentialHealth, error) {
	resp, err := p.request(ctx, credential).Get(tokenPath(credential, "check-connection-session"))
	if err != nil {
		return CredentialHealth{}, Categorize(0, "", err)
	}

	body := resp.String()
	lower := strings.ToLower(body)
	if resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusUnauthorized ||
		strings.Contains(lower, "unknown") || strings.Contains(lower, "invalid token") {
		return CredentialHealth{}, ErrUnknownCredential
	}
	if resp.IsError() {
		return CredentialHealth{}, Categorize(resp.StatusCode(), body, nil)
	}

	result := CredentialHealth{Status: ClassifyStatus(models.ProviderC, body)}
	if result.Status != models.SessionStatusWorking {
		return result, nil
	}

	var device struct {
		Phone    string `json:"phone"`
		PushName string `json:"pushName"`
	}
	resp, err = p.request(ctx, credential).SetResult(&device).Get(tokenPath(credential, "host-device"))
	if err := check(resp, err); err != nil {
		return CredentialHealth{}, err
	}
	if device.Phone != "" {
		result.Identity = &models.Identity{RemoteID: NormalizePhone(device.Phone), PushName: device.PushName}
	}
	return result, nil
}

// ListAccountSessions lists every remote session on the account. Results are cached briefly
// so one sync cycle over many sessions lists the account once.
func (p *ProviderC) ListAccountSessions(ctx context.Context) ([]RemoteSession, error) {
	if cached, ok := p.listing.Get(accountListingKey); ok {
		return cached.([]RemoteSession), nil
	}

	var out []cRemoteSession
	resp, err := p.http.R().
		SetContext(ctx).
		SetBasicAuth(p.username, p.password).
		SetResult(&out).
		Get("/api/account/sessions")
	if err := check(resp, err); err != nil {
		return nil, err
	}

	sessions := make([]RemoteSession, 0, len(out))
	for _, s := range out {
		rs := RemoteSession{
			Token: s.Token,
			Ready: ClassifyStatus(models.ProviderC, s.Status) == models.SessionStatusWorking,
		}
		if s.Phone != "" {
			rs.Identity = &models.Identity{RemoteID: NormalizePhone(s.Phone), PushName: s.PushName}
		}
		sessions = append(sessions, rs)
	}

	p.listing.SetDefault(accountListingKey, sessions)
	return sessions, nil
}

// GetStatus checks the session's credential
func (p *ProviderC) GetStatus(ctx context.Context, ref SessionRef) (models.SessionStatus, *models.Identity, error) {
	if ref.Credential == "" {
		return "", nil, ErrUnknownCredential
	}
	result, err := p.CheckCredential(ctx, ref.Credential)
	if err != nil {
		return "", nil, err
	}
	return result.Status, result.Identity, nil
}

// CheckRecipientReachable asks whether phone has a WhatsApp account
func (p *ProviderC) CheckRecipientReachable(ctx context.Context, ref SessionRef, phone string) Reachability {
	var out struct {
		Response struct {
			NumberExists bool `json:"numberExists"`
			ID           struct {
				Serialized string `json:"_serialized"`
			} `json:"id"`
		} `json:"response"`
	}
	resp, err := p.request(ctx, ref.Credential).
		SetResult(&out).
		Get(tokenPath(ref.Credential, "check-number-status/"+url.PathEscape(NormalizePhone(phone))))
	if err := check(resp, err); err != nil {
		log.Debug().Err(err).Str("provider", "c").Str("session", ref.Name).Msg("Reachability check failed")
		return Reachability{Err: err}
	}
	return Reachability{Reachable: out.Response.NumberExists, ChatID: out.Response.ID.Serialized}
}

// Send delivers one payload and returns the provider message id
func (p *ProviderC) Send(ctx context.Context, ref SessionRef, phone string, payload Payload) (string, error) {
	number := NormalizePhone(phone)
	var op string
	body := map[string]interface{}{"phone": number}

	switch payload.Kind {
	case PayloadText:
		op = "send-message"
		body["message"] = payload.Text
	case PayloadImage:
		op = "send-image"
		body["path"], body["caption"] = payload.MediaURL, payload.Caption
	case PayloadVideo, PayloadDocument:
		op = "send-file"
		body["path"], body["caption"] = payload.MediaURL, payload.Caption
		if payload.FileName != "" {
			body["filename"] = payload.FileName
		}
	case PayloadAudio:
		op = "send-voice"
		body["path"] = payload.MediaURL
	default:
		return "", NewSendError(models.ErrorCategoryOther, fmt.Sprintf("unsupported payload kind %q", payload.Kind))
	}

	var out struct {
		Response []struct {
			ID string `json:"id"`
		} `json:"response"`
	}
	resp, err := p.request(ctx, ref.Credential).SetBody(body).SetResult(&out).Post(tokenPath(ref.Credential, op))
	if err := check(resp, err); err != nil {
		return "", err
	}
	if len(out.Response) == 0 {
		return "", nil
	}
	return out.Response[0].ID, nil
}

// IsUnknownCredential reports whether err means the provider forgot the token
func IsUnknownCredential(err error) bool {
	return errors.Is(err, ErrUnknownCredential)
}
