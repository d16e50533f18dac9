package provider

import (
	"strings"

	"wacampaign/internal/models"
)

var statusTableA = map[string]models.SessionStatus{
	"WORKING":      models.SessionStatusWorking,
	"SCAN_QR_CODE": models.SessionStatusConnectingQR,
	"STARTING":     models.SessionStatusConnectingQR,
	"STOPPED":      models.SessionStatusStopped,
	"FAILED":       models.SessionStatusFailed,
}

var statusTableB = map[string]models.SessionStatus{
	"open":       models.SessionStatusWorking,
	"connecting": models.SessionStatusConnectingQR,
	"qrcode":     models.SessionStatusConnectingQR,
	"close":      models.SessionStatusStopped,
	"closed":     models.SessionStatusStopped,
	"refused":    models.SessionStatusFailed,
}

// Checked in order: negated phrases must win over the positive words they contain.
var statusRulesC = []struct {
	needle string
	status models.SessionStatus
}{
	{"disconnected", models.SessionStatusStopped},
	{"desconnected", models.SessionStatusStopped},
	{"browserclose", models.SessionStatusStopped},
	{"not connected", models.SessionStatusStopped},
	{"not ready", models.SessionStatusStopped},
	{"closed", models.SessionStatusStopped},
	{"stopped", models.SessionStatusStopped},
	{"notlogged", models.SessionStatusConnectingQR},
	{"qrread", models.SessionStatusConnectingQR},
	{"qrcode", models.SessionStatusConnectingQR},
	{"qr code", models.SessionStatusConnectingQR},
	{"scan", models.SessionStatusConnectingQR},
	{"initializing", models.SessionStatusConnectingQR},
	{"starting", models.SessionStatusConnectingQR},
	{"ready", models.SessionStatusWorking},
	{"connected", models.SessionStatusWorking},
	{"inchat", models.SessionStatusWorking},
}

// ClassifyStatus maps a provider's raw status text onto the canonical statuses.
// Anything unrecognized is failed, never working.
func ClassifyStatus(p models.Provider, raw string) models.SessionStatus {
	raw = strings.TrimSpace(raw)
	switch p {
	case models.ProviderA:
		if s, ok := statusTableA[strings.ToUpper(raw)]; ok {
			return s
		}
	case models.ProviderB:
		if s, ok := statusTableB[strings.ToLower(raw)]; ok {
			return s
		}
	case models.ProviderC:
		lower := strings.ToLower(raw)
		for _, rule := range statusRulesC {
			if strings.Contains(lower, rule.needle) {
				return rule.status
			}
		}
	}
	return models.SessionStatusFailed
}
