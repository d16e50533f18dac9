package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"wacampaign/internal/config"
	"wacampaign/internal/models"
)

const qrImageSize = 256

// ProviderB talks to an instance-based gateway. Creating an instance returns a per-instance
// token used for every later call; the connect call returns the raw pairing string, which
// is rendered into a QR image locally.
type ProviderB struct {
	http      *resty.Client
	globalKey string
}

type bSendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// NewProviderB creates the provider B adapter
func NewProviderB(cfg config.ProviderConfig) (*ProviderB, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider B API key cannot be empty")
	}
	client, err := newRestyClient(cfg)
	if err != nil {
		return nil, err
	}

	log.Info().Str("provider", "b").Str("baseURL", cfg.BaseURL).Msg("Provider B client configured")
	return &ProviderB{http: client, globalKey: cfg.APIKey}, nil
}

func (p *ProviderB) request(ctx context.Context, ref SessionRef) *resty.Request {
	key := ref.Credential
	if key == "" {
		key = p.globalKey
	}
	return p.http.R().SetContext(ctx).SetHeader("apikey", key)
}

// CreateSession creates the remote instance and returns its token as the credential
func (p *ProviderB) CreateSession(ctx context.Context, name string) (SessionRef, error) {
	var out struct {
		Instance struct {
			InstanceName string `json:"instanceName"`
		} `json:"instance"`
		Hash string `json:"hash"`
	}
	resp, err := p.request(ctx, SessionRef{}).
		SetBody(map[string]interface{}{"instanceName": name, "qrcode": false}).
		SetResult(&out).
		Post("/instance/create")
	if err := check(resp, err); err != nil {
		return SessionRef{}, err
	}
	return SessionRef{Name: name, Credential: out.Hash}, nil
}

// StartSession connects the instance and renders the pairing string into a PNG
func (p *ProviderB) StartSession(ctx context.Context, ref SessionRef) (PairingResult, error) {
	var out struct {
		Code  string `json:"code"`
		Count int    `json:"count"`
	}
	resp, err := p.request(ctx, ref).
		SetResult(&out).
		Get("/instance/connect/" + url.PathEscape(ref.Name))
	if err := check(resp, err); err != nil {
		return PairingResult{}, err
	}

	if out.Code == "" {
		status, _, err := p.GetStatus(ctx, ref)
		if err != nil {
			return PairingResult{}, err
		}
		return PairingResult{Status: status}, nil
	}

	png, err := qrcode.Encode(out.Code, qrcode.Medium, qrImageSize)
	if err != nil {
		return PairingResult{}, NewSendError(models.ErrorCategoryMedia, fmt.Sprintf("failed to render qr: %v", err))
	}
	return PairingResult{Status: models.SessionStatusConnectingQR, QR: png}, nil
}

// StopSession logs the instance out
func (p *ProviderB) StopSession(ctx context.Context, ref SessionRef) error {
	resp, err := p.request(ctx, ref).Delete("/instance/logout/" + url.PathEscape(ref.Name))
	return check(resp, err)
}

// DeleteSession deletes the instance
func (p *ProviderB) DeleteSession(ctx context.Context, ref SessionRef) error {
	resp, err := p.request(ctx, ref).Delete("/instance/delete/" + url.PathEscape(ref.Name))
	return check(resp, err)
}

// GetStatus reads the connection state, then the owner account when open
func (p *ProviderB) GetStatus(ctx context.Context, ref SessionRef) (models.SessionStatus, *models.Identity, error) {
	var state struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	resp, err := p.request(ctx, ref).
		SetResult(&state).
		Get("/instance/connectionState/" + url.PathEscape(ref.Name))
	if err := check(resp, err); err != nil {
		return "", nil, err
	}

	status := ClassifyStatus(models.ProviderB, state.Instance.State)
	if status != models.SessionStatusWorking {
		return status, nil, nil
	}

	var instances []struct {
		OwnerJID    string `json:"ownerJid"`
		ProfileName string `json:"profileName"`
	}
	resp, err = p.request(ctx, ref).
		SetQueryParam("instanceName", ref.Name).
		SetResult(&instances).
		Get("/instance/fetchInstances")
	if err := check(resp, err); err != nil {
		return "", nil, err
	}
	if len(instances) == 0 || instances[0].OwnerJID == "" {
		return status, nil, nil
	}
	return status, &models.Identity{
		RemoteID: RemoteIDFromJID(instances[0].OwnerJID),
		PushName: instances[0].ProfileName,
	}, nil
}

// CheckRecipientReachable asks whether phone has a WhatsApp account
func (p *ProviderB) CheckRecipientReachable(ctx context.Context, ref SessionRef, phone string) Reachability {
	var out []struct {
		Exists bool   `json:"exists"`
		JID    string `json:"jid"`
	}
	resp, err := p.request(ctx, ref).
		SetBody(map[string]interface{}{"numbers": []string{NormalizePhone(phone)}}).
		SetResult(&out).
		Post("/chat/whatsappNumbers/" + url.PathEscape(ref.Name))
	if err := check(resp, err); err != nil {
		log.Debug().Err(err).Str("provider", "b").Str("session", ref.Name).Msg("Reachability check failed")
		return Reachability{Err: err}
	}
	if len(out) == 0 {
		return Reachability{Err: NewSendError(models.ErrorCategoryOther, "empty number check response")}
	}
	return Reachability{Reachable: out[0].Exists, ChatID: out[0].JID}
}

// Send delivers one payload and returns the provider message id
func (p *ProviderB) Send(ctx context.Context, ref SessionRef, phone string, payload Payload) (string, error) {
	number := NormalizePhone(phone)
	var path string
	var body map[string]interface{}

	switch payload.Kind {
	case PayloadText:
		path = "/message/sendText/"
		body = map[string]interface{}{"number": number, "text": payload.Text}
	case PayloadImage, PayloadVideo, PayloadDocument:
		path = "/message/sendMedia/"
		body = map[string]interface{}{
			"number":    number,
			"mediatype": string(payload.Kind),
			"media":     payload.MediaURL,
			"caption":   payload.Caption,
		}
		if payload.FileName != "" {
			body["fileName"] = payload.FileName
		}
	case PayloadAudio:
		path = "/message/sendWhatsAppAudio/"
		body = map[string]interface{}{"number": number, "audio": payload.MediaURL}
	default:
		return "", NewSendError(models.ErrorCategoryOther, fmt.Sprintf("unsupported payload kind %q", payload.Kind))
	}

	var out bSendResponse
	resp, err := p.request(ctx, ref).SetBody(body).SetResult(&out).Post(path + url.PathEscape(ref.Name))
	if err := check(resp, err); err != nil {
		return "", err
	}
	return out.Key.ID, nil
}
