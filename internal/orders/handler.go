package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
	"github.com/joao-fontenele/storefront-checkout/internal/identity"
)

type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

type cancelRequest struct {
	Reason string         `json:"reason" validate:"max=500"`
	Refund RefundDecision `json:"refund" validate:"omitempty,oneof=issued declined"`
}

type fulfillmentRequest struct {
	Status domain.FulfillmentStatus `json:"status" validate:"required,oneof=PROCESSING SHIPPED DELIVERED"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner, err := identity.FromRequest(r).Owner()
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user id or session token")
		return
	}

	orders, err := h.service.ListByOwner(r.Context(), owner)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list orders", "error", err, "owner", owner.String())
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	o, ok := h.visibleOrder(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, o)
}

// HandleCancel cancels an order. Only an admin acting for the payment
// collaborator may record a refund decision.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	o, ok := h.visibleOrder(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Refund != RefundUndecided && !identity.FromRequest(r).IsAdmin() {
		h.writeError(w, http.StatusForbidden, "refund decisions require the admin role")
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by customer"
	}

	updated, err := h.service.Cancel(r.Context(), o.ID, req.Reason, req.Refund)
	if err != nil {
		h.fail(w, r, err, o.ID)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// HandleFulfillment is called by the fulfillment collaborator.
func (h *Handler) HandleFulfillment(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetByNumber(r.Context(), r.PathValue("number"))
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	var req fulfillmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.service.AdvanceFulfillment(r.Context(), o.ID, req.Status)
	if err != nil {
		h.fail(w, r, err, o.ID)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// visibleOrder loads the order named in the path. Orders of other owners
// are reported as missing unless the caller is an admin.
func (h *Handler) visibleOrder(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	id := identity.FromRequest(r)
	o, err := h.service.GetByNumber(r.Context(), r.PathValue("number"))
	if err != nil {
		h.fail(w, r, err, "")
		return nil, false
	}

	if id.IsAdmin() {
		return o, true
	}
	owner, err := id.Owner()
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user id or session token")
		return nil, false
	}
	if o.Owner != owner && !(owner.IsUser() && o.UserID == owner.ID) {
		h.writeError(w, http.StatusNotFound, domain.ErrOrderNotFound.Error())
		return nil, false
	}
	return o, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, orderID string) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, domain.ErrOrderNotFound.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRefundDecisionRequired):
		h.writeError(w, http.StatusConflict, "order is paid, a refund decision (issued or declined) is required")
	default:
		h.logger.ErrorContext(r.Context(), "order operation failed", "error", err, "order_id", orderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
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
