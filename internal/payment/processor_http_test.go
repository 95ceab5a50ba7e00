package payment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

func newTestProcessor(t *testing.T, handler http.HandlerFunc) (*HTTPProcessor, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPProcessor(srv.URL, "sk_test", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return p, &hits
}

func TestHTTPProcessor_CreateAndConfirm(t *testing.T) {
	p, _ := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		switch r.URL.Path {
		case "/v1/intents":
			var body createIntentBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(5000), body.Amount)
			assert.Equal(t, "order-1", body.Metadata["order_id"])
			_ = json.NewEncoder(w).Encode(processorIntentResponse{ID: "pi_123", Status: StatusRequiresPaymentMethod})
		case "/v1/intents/pi_123/confirm":
			var body confirmBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_ = json.NewEncoder(w).Encode(processorIntentResponse{ID: "pi_123", Status: StatusPaymentFailed, FailureReason: "insufficient_funds"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	id, err := p.CreateIntent(ctx, CreateRequest{IdempotencyKey: "intent-1", Amount: 5000, Currency: "USD", Metadata: map[string]string{"order_id": "order-1"}})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", id)

	result, err := p.Confirm(ctx, id, "pm_card")
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentFailed, result.Status)
	assert.Equal(t, "insufficient_funds", result.FailureReason)
}

func TestHTTPProcessor_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"server error is transient", http.StatusBadGateway, domain.ErrProcessorUnavailable},
		{"throttling is transient", http.StatusTooManyRequests, domain.ErrProcessorUnavailable},
		{"client error is a rejection", http.StatusUnprocessableEntity, domain.ErrProcessorRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProcessor(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := p.Confirm(context.Background(), "pi_1", "pm")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPProcessor_BreakerOpensOnOutage(t *testing.T) {
	p, hits := newTestProcessor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx := context.Background()

	for range 5 {
		_, err := p.Confirm(ctx, "pi_1", "pm")
		require.ErrorIs(t, err, domain.ErrProcessorUnavailable)
	}

	_, err := p.Confirm(ctx, "pi_1", "pm")
	require.ErrorIs(t, err, domain.ErrProcessorUnavailable)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), hits.Load())
}

func TestHTTPProcessor_DeclinesDoNotTripBreaker(t *testing.T) {
	p, hits := newTestProcessor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})

	for range 8 {
		_, err := p.Confirm(context.Background(), "pi_1", "pm")
		require.ErrorIs(t, err, domain.ErrProcessorRejected)
	}
	assert.Equal(t, int32(8), hits.Load())
}
