package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wacampaign/internal/models"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		provider models.Provider
		raw      string
		want     models.SessionStatus
	}{
		{models.ProviderA, "WORKING", models.SessionStatusWorking},
		{models.ProviderA, "scan_qr_code", models.SessionStatusConnectingQR},
		{models.ProviderA, "STARTING", models.SessionStatusConnectingQR},
		{models.ProviderA, "STOPPED", models.SessionStatusStopped},
		{models.ProviderA, "FAILED", models.SessionStatusFailed},
		{models.ProviderA, "open", models.SessionStatusFailed},
		{models.ProviderB, "open", models.SessionStatusWorking},
		{models.ProviderB, "connecting", models.SessionStatusConnectingQR},
		{models.ProviderB, "close", models.SessionStatusStopped},
		{models.ProviderB, "refused", models.SessionStatusFailed},
		{models.ProviderB, "WORKING", models.SessionStatusFailed},
		{models.ProviderC, "Connected", models.SessionStatusWorking},
		{models.ProviderC, "inChat", models.SessionStatusWorking},
		{models.ProviderC, "isLogged ready", models.SessionStatusWorking},
		{models.ProviderC, "Disconnected", models.SessionStatusStopped},
		{models.ProviderC, "desconnectedMobile", models.SessionStatusStopped},
		{models.ProviderC, "browserClose", models.SessionStatusStopped},
		{models.ProviderC, "Session not connected", models.SessionStatusStopped},
		{models.ProviderC, "notLogged", models.SessionStatusConnectingQR},
		{models.ProviderC, "QRCODE", models.SessionStatusConnectingQR},
		{models.ProviderC, "qrReadSuccess", models.SessionStatusConnectingQR},
		{models.ProviderC, "something unexpected", models.SessionStatusFailed},
		{models.ProviderC, "", models.SessionStatusFailed},
		{models.Provider("z"), "WORKING", models.SessionStatusFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider)+"/"+tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.provider, tt.raw))
		})
	}
}

func TestClassifyStatus_Stable(t *testing.T) {
	for _, raw := range []string{"Connected", "desconnectedMobile", "qrcode", "garbage"} {
		first := ClassifyStatus(models.ProviderC, raw)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, ClassifyStatus(models.ProviderC, raw))
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "6281234567890", NormalizePhone("+62 812-3456-7890"))
	assert.Equal(t, "6281234567890", NormalizePhone("6281234567890:12@s.whatsapp.net"))
	assert.Equal(t, "6281234567890", NormalizePhone("6281234567890@c.us"))
	assert.Equal(t, "6281234567890@c.us", ChatID("+6281234567890"))
	assert.Equal(t, "", NormalizePhone("  "))
}
