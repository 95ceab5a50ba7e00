package payment

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

const HeaderWebhookSecret = "X-Webhook-Secret"

type Handler struct {
	orchestrator  *Orchestrator
	webhookSecret string
	validate      *validator.Validate
	logger        *slog.Logger
}

func NewHandler(orchestrator *Orchestrator, webhookSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		orchestrator:  orchestrator,
		webhookSecret: webhookSecret,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		logger:        logger,
	}
}

type confirmRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
}

type webhookRequest struct {
	ProcessorIntentID string `json:"processor_intent_id" validate:"required"`
	Status            string `json:"status" validate:"required"`
	FailureReason     string `json:"failure_reason"`
}

type intentResponse struct {
	Intent *domain.PaymentIntent `json:"intent,omitempty"`
	Error  string                `json:"error,omitempty"`
	Retry  bool                  `json:"retry,omitempty"`
}

func (h *Handler) HandleGetIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := h.orchestrator.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, nil, err)
		return
	}
	h.writeJSON(w, http.StatusOK, intentResponse{Intent: intent})
}

// HandleCreateIntent opens a new payment attempt for an order, used to retry
// after a failed payment.
func (h *Handler) HandleCreateIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := h.orchestrator.CreateIntent(r.Context(), r.PathValue("orderId"))
	if err != nil {
		h.fail(w, r, intent, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, intentResponse{Intent: intent})
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	intent, err := h.orchestrator.Confirm(r.Context(), r.PathValue("id"), req.PaymentMethod)
	if err != nil {
		h.fail(w, r, intent, err)
		return
	}

	status := http.StatusOK
	if intent.Status != domain.IntentSucceeded {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, intentResponse{Intent: intent})
}

// HandleWebhook receives processor notifications. Unknown intents are
// acknowledged so the processor stops redelivering them.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get(HeaderWebhookSecret)), []byte(h.webhookSecret)) != 1 {
		h.writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	intent, err := h.orchestrator.HandleProcessorEvent(r.Context(), req.ProcessorIntentID, req.Status, req.FailureReason)
	switch {
	case errors.Is(err, domain.ErrIntentNotFound):
		h.logger.WarnContext(r.Context(), "webhook for unknown intent", "processor_intent_id", req.ProcessorIntentID)
		w.WriteHeader(http.StatusNoContent)
	case err != nil && !errors.Is(err, domain.ErrProcessorRejected):
		h.logger.ErrorContext(r.Context(), "failed to apply processor event",
			"error", err, "processor_intent_id", req.ProcessorIntentID, "status", req.Status)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		h.writeJSON(w, http.StatusOK, intentResponse{Intent: intent})
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, intent *domain.PaymentIntent, err error) {
	switch {
	case errors.Is(err, domain.ErrIntentNotFound), errors.Is(err, domain.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrProcessorRejected):
		h.writeJSON(w, http.StatusPaymentRequired, intentResponse{Intent: intent, Error: err.Error(), Retry: true})
	case errors.Is(err, domain.ErrProcessorUnavailable):
		h.writeJSON(w, http.StatusServiceUnavailable, intentResponse{Intent: intent, Error: "payment processor unavailable", Retry: true})
	case errors.Is(err, domain.ErrDuplicateIntent), errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "payment operation failed", "error", err)
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
