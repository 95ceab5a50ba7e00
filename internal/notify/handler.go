// Package notify turns order events into e-mails sent through an HTTP mail endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/messaging"
)

type Message struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body"`
}

type Handler struct {
	mailURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxTries   uint
	newBackOff func() backoff.BackOff
}

func NewHandler(mailURL string, client *http.Client, logger *slog.Logger) *Handler {
	return &Handler{
		mailURL:    mailURL,
		httpClient: client,
		logger:     logger,
		maxTries:   4,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

// Handle sends the e-mail for one order event. Events this handler does not
// know and events without a recipient are skipped.
func (h *Handler) Handle(ctx context.Context, d messaging.Delivery) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(d.Payload, &event); err != nil {
		return fmt.Errorf("unmarshal order event: %w", err)
	}
	if event.Type == "" {
		event.Type = domain.EventType(d.EventType)
	}

	msg, ok := compose(event)
	if !ok {
		h.logger.DebugContext(ctx, "skipping event", "event_type", event.Type, "order_id", event.OrderID)
		return nil
	}

	h.logger.InfoContext(ctx, "processing order event", "event_type", event.Type, "order_id", event.OrderID)
	if err := h.sendWithRetry(ctx, msg); err != nil {
		h.logger.ErrorContext(ctx, "failed to send email", "error", err, "event_type", event.Type, "order_id", event.OrderID)
		return fmt.Errorf("send %s email: %w", event.Type, err)
	}

	h.logger.InfoContext(ctx, "email sent", "event_type", event.Type, "order_id", event.OrderID, "to", msg.To)
	return nil
}

func compose(event domain.OrderEvent) (Message, bool) {
	if event.Email == "" {
		return Message{}, false
	}

	total := formatAmount(event.Total, event.Currency)
	switch event.Type {
	case domain.EventOrderCreated:
		return Message{
			To:      event.Email,
			Subject: "Order received: " + event.OrderNumber,
			Body:    fmt.Sprintf("We received your order %s with %d lines, total %s. We will let you know once payment is confirmed.", event.OrderNumber, len(event.Lines), total),
		}, true
	case domain.EventOrderPaid:
		return Message{
			To:      event.Email,
			Subject: "Order confirmed: " + event.OrderNumber,
			Body:    fmt.Sprintf("Payment of %s for order %s was received. Your order is confirmed.", total, event.OrderNumber),
		}, true
	case domain.EventOrderCancelled:
		body := fmt.Sprintf("Your order %s has been cancelled.", event.OrderNumber)
		if event.Reason != "" {
			body = fmt.Sprintf("Your order %s has been cancelled: %s.", event.OrderNumber, event.Reason)
		}
		return Message{
			To:      event.Email,
			Subject: "Order cancelled: " + event.OrderNumber,
			Body:    body,
		}, true
	default:
		return Message{}, false
	}
}

func formatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}

// sendWithRetry retries transport errors and 5xx responses. Other
// responses mean the mail service will never accept the message.
func (h *Handler) sendWithRetry(ctx context.Context, msg Message) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := h.send(ctx, msg)
		var status *statusError
		if errors.As(err, &status) && status.code < http.StatusInternalServerError {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			h.logger.WarnContext(ctx, "mail service call failed, retrying", "error", err, "attempt", attempt)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(h.newBackOff()), backoff.WithMaxTries(h.maxTries))
	return err
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("mail service returned status %d", e.code)
}

func (h *Handler) send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.mailURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}

	return nil
}
