package orders

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/identity"
)

func newTestMux(s *Service) *http.ServeMux {
	h := NewHandler(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders", h.HandleList)
	mux.HandleFunc("GET /orders/{number}", h.HandleGet)
	mux.HandleFunc("POST /orders/{number}/cancel", h.HandleCancel)
	mux.HandleFunc("POST /orders/{number}/fulfillment", identity.RequireAdmin(h.HandleFulfillment))
	return mux
}

func send(mux http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Orders(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, domain.UserOwner("u1"), 2)
	mux := newTestMux(f.service)

	owner := map[string]string{identity.HeaderUserID: "u1"}
	stranger := map[string]string{identity.HeaderUserID: "u2"}
	admin := map[string]string{identity.HeaderRole: "admin"}

	t.Run("owner sees the order by number", func(t *testing.T) {
		rec := send(mux, http.MethodGet, "/orders/"+o.Number, "", owner)
		require.Equal(t, http.StatusOK, rec.Code)

		var got domain.Order
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, o.ID, got.ID)
		assert.Equal(t, o.Totals.Total, got.Totals.Total)
	})

	t.Run("other users get 404", func(t *testing.T) {
		rec := send(mux, http.MethodGet, "/orders/"+o.Number, "", stranger)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list by owner", func(t *testing.T) {
		rec := send(mux, http.MethodGet, "/orders", "", owner)
		require.Equal(t, http.StatusOK, rec.Code)

		var got []domain.Order
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Len(t, got, 1)
	})

	t.Run("fulfillment needs admin", func(t *testing.T) {
		rec := send(mux, http.MethodPost, "/orders/"+o.Number+"/fulfillment", `{"status":"PROCESSING"}`, owner)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("fulfillment on unpaid order conflicts", func(t *testing.T) {
		rec := send(mux, http.MethodPost, "/orders/"+o.Number+"/fulfillment", `{"status":"PROCESSING"}`, admin)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("fulfillment rejects unknown status", func(t *testing.T) {
		rec := send(mux, http.MethodPost, "/orders/"+o.Number+"/fulfillment", `{"status":"LOST"}`, admin)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cancel", func(t *testing.T) {
		rec := send(mux, http.MethodPost, "/orders/"+o.Number+"/cancel", `{"reason":"duplicate"}`, owner)
		require.Equal(t, http.StatusOK, rec.Code)

		var got domain.Order
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, domain.FulfillmentCancelled, got.FulfillmentStatus)
		assert.Equal(t, 10, f.available(t))
	})

	t.Run("unknown number", func(t *testing.T) {
		rec := send(mux, http.MethodGet, "/orders/SF-NOPE", "", admin)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_CancelPaidOrder(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, domain.UserOwner("u1"), 2)
	_, _, err := f.service.Transition(context.Background(), o.ID, ActionCapturePayment)
	require.NoError(t, err)
	mux := newTestMux(f.service)

	owner := map[string]string{identity.HeaderUserID: "u1"}
	admin := map[string]string{identity.HeaderRole: "admin"}
	path := "/orders/" + o.Number + "/cancel"

	t.Run("customer cannot record a refund", func(t *testing.T) {
		rec := send(mux, http.MethodPost, path, `{"refund":"issued"}`, owner)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		got, err := f.service.Get(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.FulfillmentConfirmed, got.FulfillmentStatus)
		assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
	})

	t.Run("customer without a refund decision conflicts", func(t *testing.T) {
		rec := send(mux, http.MethodPost, path, `{}`, owner)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("admin records the refund", func(t *testing.T) {
		rec := send(mux, http.MethodPost, path, `{"refund":"issued"}`, admin)
		require.Equal(t, http.StatusOK, rec.Code)

		var got domain.Order
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, domain.FulfillmentCancelled, got.FulfillmentStatus)
		assert.Equal(t, domain.PaymentRefunded, got.PaymentStatus)
	})
}
