// Package escalation delivers escalation notifications to a webhook-style
// channel, retrying with backoff and surfacing failed deliveries as events.
package escalation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/simonlevelai/askeve-core/pkg/logger"
	"github.com/simonlevelai/askeve-core/pkg/metrics"
)

// EventPublisher records delivery outcomes on the event stream.
type EventPublisher interface {
	PublishEvent(ctx context.Context, conversationID, eventType string, payload any) (uint64, error)
}

// Notice is the outbound escalation payload. UserID is hashed before it
// leaves the process.
type Notice struct {
	EscalationID     string    `json:"escalation_id"`
	ConversationID   string    `json:"-"`
	Severity         string    `json:"severity"`
	Urgency          string    `json:"urgency"`
	UserID           string    `json:"user_id"`
	Timestamp        time.Time `json:"timestamp"`
	Summary          string    `json:"summary"`
	TriggerMatches   []string  `json:"trigger_matches,omitempty"`
	RequiresCallback bool      `json:"requires_callback"`
}

// Notifier posts notices to a webhook with exponential backoff.
type Notifier struct {
	webhookURL string
	client     *http.Client
	events     EventPublisher
	logger     *logger.Logger
	maxElapsed time.Duration
}

// NewNotifier creates an escalation notifier. A nil events publisher is
// allowed; failed deliveries are then only logged and counted.
func NewNotifier(webhookURL string, events EventPublisher, log *logger.Logger, maxElapsed time.Duration) *Notifier {
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		events:     events,
		logger:     log,
		maxElapsed: maxElapsed,
	}
}

// HashUserID returns a truncated sha256 of the user id, so the outbound
// channel never sees the raw identifier.
func HashUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])[:12]
}

// Notify delivers a notice, retrying with backoff. Delivery failure is
// surfaced as a failed-delivery event and an error, never silently dropped.
func (n *Notifier) Notify(ctx context.Context, notice Notice) error {
	notice.UserID = HashUserID(notice.UserID)
	if notice.Timestamp.IsZero() {
		notice.Timestamp = time.Now()
	}
	if notice.ConversationID == "" {
		// System-level escalations (provider exhaustion) have no
		// conversation; events still need a valid subject.
		notice.ConversationID = "system"
	}

	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("webhook rejected notice: %d", resp.StatusCode))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = n.maxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		metrics.EscalationsTotal.WithLabelValues(notice.Severity, "failed").Inc()
		n.logger.Error("escalation delivery failed",
			zap.String("escalation_id", notice.EscalationID),
			zap.String("severity", notice.Severity),
			zap.Error(err),
		)
		if n.events != nil {
			if _, pubErr := n.events.PublishEvent(ctx, notice.ConversationID, "escalation_delivery_failed", notice); pubErr != nil {
				n.logger.Error("failed to record delivery failure", zap.Error(pubErr))
			}
		}
		return fmt.Errorf("escalation delivery failed: %w", err)
	}

	metrics.EscalationsTotal.WithLabelValues(notice.Severity, "delivered").Inc()
	if n.events != nil {
		if _, pubErr := n.events.PublishEvent(ctx, notice.ConversationID, "escalation_delivered", notice); pubErr != nil {
			n.logger.Warn("failed to record delivery", zap.Error(pubErr))
		}
	}
	return nil
}
