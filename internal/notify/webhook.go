package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"moodline/internal/models"
)

type webhookPayload struct {
	PartyID string              `json:"party_id"`
	Alert   models.AlertSummary `json:"alert"`
}

// WebhookNotifier posts alert summaries to a dispatch endpoint that routes
// them to the responsible party.
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

func NewWebhookNotifier(url, token string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &WebhookNotifier{httpClient: client, url: url, logger: logger}
}

func (n *WebhookNotifier) Notify(ctx context.Context, partyID string, summary models.AlertSummary) (bool, error) {
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(webhookPayload{PartyID: partyID, Alert: summary}).
		Post(n.url)
	if err != nil {
		return false, fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	n.logger.Debug("alert delivered to webhook",
		zap.String("alert_id", summary.AlertID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return true, nil
}
