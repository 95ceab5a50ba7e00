package inventory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// Handler exposes the ledger to operators. Reservations are only taken through checkout.
type Handler struct {
	ledger Ledger
	logger *slog.Logger
}

func NewHandler(ledger Ledger, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		logger: logger,
	}
}

func (h *Handler) HandleListStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.ledger.ListAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list stock", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.InfoContext(r.Context(), "stock listed", "count", len(items))
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	unitID := domain.UnitID(r.PathValue("unitId"))
	if unitID == "" {
		h.writeError(w, http.StatusBadRequest, "missing unit id")
		return
	}

	stock, err := h.ledger.GetStock(r.Context(), unitID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get stock", "error", err, "unit_id", unitID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if stock == nil {
		h.writeError(w, http.StatusNotFound, "unit not found")
		return
	}

	h.writeJSON(w, http.StatusOK, stock)
}

type adjustRequest struct {
	Delta int `json:"delta"`
}

func (h *Handler) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	unitID := domain.UnitID(r.PathValue("unitId"))
	if unitID == "" {
		h.writeError(w, http.StatusBadRequest, "missing unit id")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stock, err := h.ledger.Adjust(r.Context(), unitID, req.Delta)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			h.writeError(w, http.StatusConflict, "adjustment would make available stock negative")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to adjust stock", "error", err, "unit_id", unitID, "delta", req.Delta)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.InfoContext(r.Context(), "stock adjusted", "unit_id", unitID, "delta", req.Delta, "available", stock.Available)
	h.writeJSON(w, http.StatusOK, stock)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
