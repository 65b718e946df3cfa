// SPDX-License-Identifier: Apache-2.0

// Package notifier delivers signed notifications of domain events to the
// owning principal's subscribed webhook endpoints. Dispatch is
// fire-and-forget: the triggering business action never waits on, and never
// learns about, delivery outcomes. Every physical attempt is logged.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/finkeeper/trustgate/internal/domain"
	"github.com/finkeeper/trustgate/internal/metrics"
	"github.com/finkeeper/trustgate/internal/task"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerEvent     = "X-Webhook-Event"
	headerTimestamp = "X-Webhook-Timestamp"
	userAgent       = "FinKeeper-Webhooks/1.0"

	defaultBackoffBase = time.Second
	backoffCap         = 30 * time.Second
)

type SubscriptionLister interface {
	ListActiveSubscriptions(ctx context.Context, userID uuid.UUID, eventType string) ([]domain.WebhookRegistration, error)
}

type AttemptLogger interface {
	AppendAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
}

type Deps struct {
	Webhooks   SubscriptionLister
	Logs       AttemptLogger
	HTTPClient *http.Client
	Logger     *slog.Logger

	// BackoffBase overrides the first retry delay; tests shrink it to keep
	// retry sequences fast. Zero means the production default of 1s.
	BackoffBase time.Duration
}

type Notifier struct {
	webhooks    SubscriptionLister
	logs        AttemptLogger
	httpClient  *http.Client
	logger      *slog.Logger
	backoffBase time.Duration
}

func New(deps Deps) *Notifier {
	if deps.Webhooks == nil {
		panic("notifier.New requires a subscription lister")
	}
	if deps.Logs == nil {
		panic("notifier.New requires an attempt logger")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	base := deps.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}

	return &Notifier{
		webhooks:    deps.Webhooks,
		logs:        deps.Logs,
		httpClient:  client,
		logger:      logger,
		backoffBase: base,
	}
}

type deliveryPayload struct {
	Event      string         `json:"event"`
	Data       map[string]any `json:"data"`
	UserID     uuid.UUID      `json:"user_id"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Trigger looks up the principal's active registrations subscribed to
// eventType and starts an independent detached delivery sequence for each.
// Zero matches is a silent no-op. Lookup failures are absorbed: the
// triggering business action must never fail because of notification
// plumbing.
func (n *Notifier) Trigger(ctx context.Context, eventType string, data map[string]any, userID uuid.UUID) {
	regs, err := n.webhooks.ListActiveSubscriptions(ctx, userID, eventType)
	if err != nil {
		n.logger.Error("webhook subscription lookup failed",
			"event_type", eventType,
			"user_id", userID,
			"error", err,
		)
		return
	}
	if len(regs) == 0 {
		return
	}

	event := domain.DeliveryEvent{
		Type:       eventType,
		Data:       data,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}

	for _, reg := range regs {
		reg := reg
		task.Go(n.logger, "webhook_delivery", func(ctx context.Context) error {
			n.deliver(ctx, reg, event)
			return nil
		})
	}
}

// Deliver runs one full delivery sequence synchronously: bounded attempts
// with capped exponential backoff, one log row per physical attempt. Used
// directly by the webhook test endpoint; Trigger wraps it in detached tasks.
func (n *Notifier) Deliver(ctx context.Context, reg domain.WebhookRegistration, event domain.DeliveryEvent) bool {
	return n.deliver(ctx, reg, event)
}

func (n *Notifier) deliver(ctx context.Context, reg domain.WebhookRegistration, event domain.DeliveryEvent) bool {
	body, err := json.Marshal(deliveryPayload{
		Event:      event.Type,
		Data:       event.Data,
		UserID:     event.UserID,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		n.logger.Error("webhook payload marshal failed",
			"webhook_id", reg.ID,
			"event_type", event.Type,
			"error", err,
		)
		return false
	}

	signature := Sign(reg.Secret, body)

	maxAttempts := reg.RetryCount
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultWebhookRetryCount
	}
	timeout := time.Duration(reg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(domain.DefaultWebhookTimeoutSeconds) * time.Second
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result := n.attemptOnce(ctx, reg, event, body, signature, timeout)
		n.logAttempt(ctx, reg, event, body, attempt, result)

		if result.success {
			metrics.IncDeliveryAttempt(metrics.DeliverySuccess)
			n.logger.Info("webhook delivered",
				"webhook_id", reg.ID,
				"event_type", event.Type,
				"attempt", attempt,
				"status", derefStatus(result.statusCode),
			)
			return true
		}

		metrics.IncDeliveryAttempt(metrics.DeliveryFailure)
		n.logger.Warn("webhook delivery attempt failed",
			"webhook_id", reg.ID,
			"event_type", event.Type,
			"attempt", attempt,
			"status", derefStatus(result.statusCode),
			"error", result.err,
		)

		if attempt < maxAttempts {
			metrics.IncDeliveryRetries()
			wait := backoffDelay(attempt, n.backoffBase, backoffCap)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				n.logger.Warn("webhook delivery abandoned before retry",
					"webhook_id", reg.ID,
					"event_type", event.Type,
					"attempt", attempt,
					"error", ctx.Err(),
				)
				return false
			case <-timer.C:
			}
		}
	}

	n.logger.Error("webhook delivery retries exhausted",
		"webhook_id", reg.ID,
		"event_type", event.Type,
		"attempts", maxAttempts,
	)
	return false
}

type attemptResult struct {
	statusCode   *int
	responseBody string
	err          error
	duration     time.Duration
	success      bool
}

func (n *Notifier) attemptOnce(
	ctx context.Context,
	reg domain.WebhookRegistration,
	event domain.DeliveryEvent,
	body []byte,
	signature string,
	timeout time.Duration,
) attemptResult {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, reg.URL, bytes.NewReader(body))
	if err != nil {
		return attemptResult{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerSignature, signature)
	req.Header.Set(headerEvent, event.Type)
	req.Header.Set(headerTimestamp, event.OccurredAt.Format(time.RFC3339))
	req.Header.Set("User-Agent", userAgent)

	started := time.Now()
	resp, err := n.httpClient.Do(req)
	duration := time.Since(started)
	metrics.ObserveDeliveryDuration(duration)

	if err != nil {
		return attemptResult{err: err, duration: duration}
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, domain.MaxLoggedResponseBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	result := attemptResult{
		statusCode:   &resp.StatusCode,
		responseBody: string(snippet),
		duration:     duration,
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		result.success = true
		return result
	}

	result.err = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	return result
}

func (n *Notifier) logAttempt(
	ctx context.Context,
	reg domain.WebhookRegistration,
	event domain.DeliveryEvent,
	body []byte,
	attempt int,
	result attemptResult,
) {
	row := domain.DeliveryAttempt{
		WebhookID:    reg.ID,
		EventType:    event.Type,
		Payload:      body,
		StatusCode:   result.statusCode,
		ResponseBody: result.responseBody,
		Attempt:      attempt,
		Success:      result.success,
		DurationMS:   result.duration.Milliseconds(),
	}
	if result.err != nil {
		errText := result.err.Error()
		row.Error = &errText
	}

	// The attempt log is an audit trail; a logging failure must not stop
	// the retry loop.
	if err := n.logs.AppendAttempt(ctx, row); err != nil {
		n.logger.Error("delivery attempt log write failed",
			"webhook_id", reg.ID,
			"event_type", event.Type,
			"attempt", attempt,
			"error", err,
		)
	}
}

// backoffDelay returns the pause before attempt+1: base doubled per
// completed attempt, capped.
func backoffDelay(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > ceiling {
		return ceiling
	}
	return delay
}

func derefStatus(code *int) int {
	if code == nil {
		return 0
	}
	return *code
}
