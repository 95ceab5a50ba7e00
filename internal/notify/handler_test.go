package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/messaging"
)

func newMailServer(t *testing.T) (*Mailbox, *httptest.Server) {
	t.Helper()
	mailbox := NewMailbox(10, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", mailbox.HandleSend)
	mux.HandleFunc("GET /messages", mailbox.HandleList)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return mailbox, srv
}

func fastRetries(h *Handler) *Handler {
	h.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return h
}

func delivery(t *testing.T, event domain.OrderEvent) messaging.Delivery {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return messaging.Delivery{Key: event.OrderID, EventType: string(event.Type), Payload: payload}
}

func sampleEvent(t domain.EventType) domain.OrderEvent {
	return domain.OrderEvent{
		Type:        t,
		OrderID:     "o1",
		OrderNumber: "SF-ABC123",
		Email:       "buyer@example.com",
		Lines:       []domain.OrderLine{{UnitID: "A", Quantity: 2, UnitPrice: 1250}},
		Total:       2500,
		Currency:    "EUR",
		Timestamp:   time.Now(),
	}
}

func TestHandler_Handle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("sends one email per known event", func(t *testing.T) {
		mailbox, srv := newMailServer(t)
		h := NewHandler(srv.URL, srv.Client(), logger)

		for _, et := range []domain.EventType{domain.EventOrderCreated, domain.EventOrderPaid, domain.EventOrderCancelled} {
			require.NoError(t, h.Handle(context.Background(), delivery(t, sampleEvent(et))))
		}

		msgs := mailbox.Messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, "Order received: SF-ABC123", msgs[0].Subject)
		assert.Contains(t, msgs[0].Body, "25.00 EUR")
		assert.Equal(t, "Order confirmed: SF-ABC123", msgs[1].Subject)
		assert.Equal(t, "Order cancelled: SF-ABC123", msgs[2].Subject)
		for _, m := range msgs {
			assert.Equal(t, "buyer@example.com", m.To)
		}
	})

	t.Run("includes the cancellation reason", func(t *testing.T) {
		mailbox, srv := newMailServer(t)
		h := NewHandler(srv.URL, srv.Client(), logger)

		event := sampleEvent(domain.EventOrderCancelled)
		event.Reason = "payment not completed in time"
		require.NoError(t, h.Handle(context.Background(), delivery(t, event)))

		msgs := mailbox.Messages()
		require.Len(t, msgs, 1)
		assert.True(t, strings.HasSuffix(msgs[0].Body, "payment not completed in time."))
	})

	t.Run("skips unknown events and missing recipients", func(t *testing.T) {
		mailbox, srv := newMailServer(t)
		h := NewHandler(srv.URL, srv.Client(), logger)

		require.NoError(t, h.Handle(context.Background(), delivery(t, sampleEvent("OrderShipped"))))
		noEmail := sampleEvent(domain.EventOrderPaid)
		noEmail.Email = ""
		require.NoError(t, h.Handle(context.Background(), delivery(t, noEmail)))

		assert.Empty(t, mailbox.Messages())
	})

	t.Run("falls back to the event type header", func(t *testing.T) {
		mailbox, srv := newMailServer(t)
		h := NewHandler(srv.URL, srv.Client(), logger)

		event := sampleEvent("")
		d := delivery(t, event)
		d.EventType = string(domain.EventOrderPaid)
		require.NoError(t, h.Handle(context.Background(), d))
		assert.Len(t, mailbox.Messages(), 1)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()
		h := fastRetries(NewHandler(srv.URL, srv.Client(), logger))

		require.NoError(t, h.Handle(context.Background(), delivery(t, sampleEvent(domain.EventOrderPaid))))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		h := fastRetries(NewHandler(srv.URL, srv.Client(), logger))

		err := h.Handle(context.Background(), delivery(t, sampleEvent(domain.EventOrderPaid)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
		assert.Equal(t, int32(h.maxTries), calls.Load())
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()
		h := fastRetries(NewHandler(srv.URL, srv.Client(), logger))

		err := h.Handle(context.Background(), delivery(t, sampleEvent(domain.EventOrderPaid)))
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		h := NewHandler("http://unused", http.DefaultClient, logger)
		err := h.Handle(context.Background(), messaging.Delivery{Payload: []byte("{")})
		require.Error(t, err)
	})
}

func TestMailbox(t *testing.T) {
	mailbox, srv := newMailServer(t)

	resp, err := http.Post(srv.URL+"/send", "application/json", strings.NewReader(`{"to":"not-an-address","subject":"x"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	for i := 0; i < 12; i++ {
		resp, err := http.Post(srv.URL+"/send", "application/json", strings.NewReader(`{"to":"a@example.com","subject":"hello"}`))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Len(t, mailbox.Messages(), 10)

	resp, err = http.Get(srv.URL + "/messages")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var listed []Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	assert.Len(t, listed, 10)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.05 USD", formatAmount(5, "USD"))
	assert.Equal(t, "1234.50 EUR", formatAmount(123450, "EUR"))
	assert.Equal(t, "-1.00 EUR", formatAmount(-100, "EUR"))
}
