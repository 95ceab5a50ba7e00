package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// HTTPProcessor talks to the processor's REST API. Calls go through a
// circuit breaker; an open breaker reports the processor as unavailable
// without touching the network.
type HTTPProcessor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

func NewHTTPProcessor(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPProcessor {
	settings := gobreaker.Settings{
		Name:        "payment-processor",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// Declines are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrProcessorRejected)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &HTTPProcessor{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cb: gobreaker.NewCircuitBreaker(settings),
	}
}

type createIntentBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type confirmBody struct {
	PaymentMethod string `json:"payment_method"`
}

type processorIntentResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (p *HTTPProcessor) CreateIntent(ctx context.Context, req CreateRequest) (string, error) {
	var resp processorIntentResponse
	err := p.call(ctx, "/v1/intents", req.IdempotencyKey, createIntentBody{
		Amount:   req.Amount,
		Currency: req.Currency,
		Metadata: req.Metadata,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: processor returned no intent id", domain.ErrProcessorUnavailable)
	}
	return resp.ID, nil
}

func (p *HTTPProcessor) Confirm(ctx context.Context, processorID, methodRef string) (Result, error) {
	var resp processorIntentResponse
	path := "/v1/intents/" + url.PathEscape(processorID) + "/confirm"
	if err := p.call(ctx, path, processorID+":confirm", confirmBody{PaymentMethod: methodRef}, &resp); err != nil {
		return Result{}, err
	}
	return Result{Status: resp.Status, FailureReason: resp.FailureReason}, nil
}

func (p *HTTPProcessor) call(ctx context.Context, path, idempotencyKey string, body, out any) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.post(ctx, path, idempotencyKey, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrProcessorUnavailable, err)
	}
	return err
}

func (p *HTTPProcessor) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrProcessorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: processor returned status %d", domain.ErrProcessorUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", domain.ErrProcessorRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding processor response: %w", domain.ErrProcessorUnavailable, err)
	}
	return nil
}
