package inventory

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
)

func newTestMux(l Ledger) *http.ServeMux {
	handler := NewHandler(l, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stock", handler.HandleListStock)
	mux.HandleFunc("GET /stock/{unitId}", handler.HandleGetStock)
	mux.HandleFunc("POST /stock/{unitId}/adjust", handler.HandleAdjust)
	return mux
}

func TestHandler_Stock(t *testing.T) {
	l := NewMemoryLedger()
	_, err := l.Adjust(context.Background(), "ITEM-001", 100)
	require.NoError(t, err)
	mux := newTestMux(l)

	t.Run("get existing unit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stock/ITEM-001", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var stock domain.StockLevel
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&stock))
		assert.Equal(t, 100, stock.Available)
	})

	t.Run("unknown unit is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stock/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("adjust restocks", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/stock/ITEM-001/adjust", strings.NewReader(`{"delta": 5}`))
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var stock domain.StockLevel
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&stock))
		assert.Equal(t, 105, stock.Available)
	})

	t.Run("adjust below zero is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/stock/ITEM-001/adjust", strings.NewReader(`{"delta": -1000}`))
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stock", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var items []domain.StockLevel
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&items))
		assert.Len(t, items, 1)
	})
}
