package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/vincent-petithory/dataurl"

	"wacampaign/internal/config"
	"wacampaign/internal/models"
)

// ProviderA talks to a gateway authenticated by one static API key header.
// Its start call returns the QR inline as a base64 data URL.
type ProviderA struct {
	http *resty.Client
}

type aSessionResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	QR     string `json:"qr,omitempty"`
	Me     *struct {
		ID       string `json:"id"`
		PushName string `json:"pushName"`
	} `json:"me,omitempty"`
}

type aFile struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

type aSendRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text,omitempty"`
	File    *aFile `json:"file,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// NewProviderA creates the provider A adapter
func NewProviderA(cfg config.ProviderConfig) (*ProviderA, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider A API key cannot be empty")
	}
	client, err := newRestyClient(cfg)
	if err != nil {
		return nil, err
	}
	client.SetHeader("X-Api-Key", cfg.APIKey)

	log.Info().Str("provider", "a").Str("baseURL", cfg.BaseURL).Msg("Provider A client configured")
	return &ProviderA{http: client}, nil
}

// CreateSession registers the session remotely without starting it
func (p *ProviderA) CreateSession(ctx context.Context, name string) (SessionRef, error) {
	resp, err := p.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"name": name, "start": false}).
		Post("/api/sessions")
	if err := check(resp, err); err != nil {
		return SessionRef{}, err
	}
	return SessionRef{Name: name}, nil
}

// StartSession starts the session and decodes the inline QR when pairing is needed
func (p *ProviderA) StartSession(ctx context.Context, ref SessionRef) (PairingResult, error) {
	var out aSessionResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetResult(&out).
		Post("/api/sessions/" + url.PathEscape(ref.Name) + "/start")
	if err := check(resp, err); err != nil {
		return PairingResult{}, err
	}

	result := PairingResult{Status: ClassifyStatus(models.ProviderA, out.Status)}
	if result.Status == models.SessionStatusConnectingQR && out.QR != "" {
		decoded, err := dataurl.DecodeString(out.QR)
		if err != nil {
			return PairingResult{}, NewSendError(models.ErrorCategoryMedia, fmt.Sprintf("invalid qr data url: %v", err))
		}
		result.QR = decoded.Data
	}
	return result, nil
}

// StopSession stops the remote session
func (p *ProviderA) StopSession(ctx context.Context, ref SessionRef) error {
	resp, err := p.http.R().SetContext(ctx).Post("/api/sessions/" + url.PathEscape(ref.Name) + "/stop")
	return check(resp, err)
}

// DeleteSession removes the remote session
func (p *ProviderA) DeleteSession(ctx context.Context, ref SessionRef) error {
	resp, err := p.http.R().SetContext(ctx).Delete("/api/sessions/" + url.PathEscape(ref.Name))
	return check(resp, err)
}

// GetStatus reads the session status and, when working, the logged-in account
func (p *ProviderA) GetStatus(ctx context.Context, ref SessionRef) (models.SessionStatus, *models.Identity, error) {
	var out aSessionResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/sessions/" + url.PathEscape(ref.Name))
	if err := check(resp, err); err != nil {
		return "", nil, err
	}

	status := ClassifyStatus(models.ProviderA, out.Status)
	if status != models.SessionStatusWorking || out.Me == nil {
		return status, nil, nil
	}
	return status, &models.Identity{RemoteID: RemoteIDFromJID(out.Me.ID), PushName: out.Me.PushName}, nil
}

// CheckRecipientReachable asks whether phone has a WhatsApp account
func (p *ProviderA) CheckRecipientReachable(ctx context.Context, ref SessionRef, phone string) Reachability {
	var out struct {
		NumberExists bool   `json:"numberExists"`
		ChatID       string `json:"chatId"`
	}
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"session": ref.Name, "phone": NormalizePhone(phone)}).
		SetResult(&out).
		Get("/api/contacts/check-exists")
	if err := check(resp, err); err != nil {
		log.Debug().Err(err).Str("provider", "a").Str("session", ref.Name).Msg("Reachability check failed")
		return Reachability{Err: err}
	}
	return Reachability{Reachable: out.NumberExists, ChatID: out.ChatID}
}

// Send delivers one payload and returns the provider message id
func (p *ProviderA) Send(ctx context.Context, ref SessionRef, phone string, payload Payload) (string, error) {
	body := aSendRequest{Session: ref.Name, ChatID: ChatID(phone)}
	var path string
	switch payload.Kind {
	case PayloadText:
		path, body.Text = "/api/sendText", payload.Text
	case PayloadImage:
		path, body.File, body.Caption = "/api/sendImage", &aFile{URL: payload.MediaURL}, payload.Caption
	case PayloadVideo:
		path, body.File, body.Caption = "/api/sendVideo", &aFile{URL: payload.MediaURL}, payload.Caption
	case PayloadAudio:
		path, body.File = "/api/sendVoice", &aFile{URL: payload.MediaURL}
	case PayloadDocument:
		path = "/api/sendFile"
		body.File = &aFile{URL: payload.MediaURL, Filename: payload.FileName}
		body.Caption = payload.Caption
	default:
		return "", NewSendError(models.ErrorCategoryOther, fmt.Sprintf("unsupported payload kind %q", payload.Kind))
	}

	var out struct {
		ID string `json:"id"`
	}
	resp, err := p.http.R().SetContext(ctx).SetBody(body).SetResult(&out).Post(path)
	if err := check(resp, err); err != nil {
		return "", err
	}
	return out.ID, nil
}
