package checkout

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
	coordinator *Coordinator
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewHandler(coordinator *Coordinator, logger *slog.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
	}
}

type checkoutRequest struct {
	Email           string          `json:"email" validate:"required,email"`
	ShippingAddress domain.Address  `json:"shipping_address" validate:"required"`
	BillingAddress  *domain.Address `json:"billing_address,omitempty" validate:"omitempty"`
	Tax             int64           `json:"tax" validate:"gte=0"`
	Shipping        int64           `json:"shipping" validate:"gte=0"`
	Discount        int64           `json:"discount" validate:"gte=0"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
}

type checkoutResponse struct {
	*Receipt
	Error string          `json:"error,omitempty"`
	Units []domain.UnitID `json:"units,omitempty"`
	Retry bool            `json:"retry,omitempty"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	owner, err := identity.FromRequest(r).Owner()
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user id or session token")
		return
	}

	var body checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := Request{
		Owner:            owner,
		Email:            body.Email,
		ShippingAddress:  body.ShippingAddress,
		Tax:              body.Tax,
		Shipping:         body.Shipping,
		Discount:         body.Discount,
		PaymentMethodRef: body.PaymentMethod,
	}
	if body.BillingAddress != nil {
		req.BillingAddress = *body.BillingAddress
	}

	receipt, err := h.coordinator.Checkout(r.Context(), req)
	if err == nil {
		h.writeJSON(w, http.StatusCreated, checkoutResponse{Receipt: receipt})
		return
	}

	// The order exists but payment did not go through; report it with a retry hint.
	if receipt != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, domain.ErrProcessorRejected) {
			status = http.StatusPaymentRequired
		}
		h.writeJSON(w, status, checkoutResponse{Receipt: receipt, Error: err.Error(), Retry: true})
		return
	}

	var stockErr *domain.StockError
	switch {
	case errors.As(err, &stockErr):
		h.writeJSON(w, http.StatusConflict, checkoutResponse{Error: stockErr.Error(), Units: stockErr.Units})
	case errors.Is(err, domain.ErrEmptyCart):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrUnitNotFound):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "checkout failed", "error", err, "owner", owner.String())
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
