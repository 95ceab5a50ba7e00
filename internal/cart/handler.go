package cart

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

type addLineRequest struct {
	UnitID   string `json:"unit_id" validate:"required"`
	Quantity int    `json:"quantity"`
}

type updateLineRequest struct {
	Quantity int `json:"quantity"`
}

type cartResponse struct {
	Owner domain.CartOwner  `json:"owner"`
	Lines []domain.CartLine `json:"lines"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	lines, err := h.service.Snapshot(r.Context(), owner)
	h.respond(w, r, owner, lines, err)
}

func (h *Handler) HandleAddLine(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req addLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lines, err := h.service.AddLine(r.Context(), owner, domain.UnitID(req.UnitID), req.Quantity)
	h.respond(w, r, owner, lines, err)
}

func (h *Handler) HandleUpdateLine(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req updateLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lines, err := h.service.UpdateLine(r.Context(), owner, domain.UnitID(r.PathValue("unitId")), req.Quantity)
	h.respond(w, r, owner, lines, err)
}

func (h *Handler) HandleRemoveLine(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	lines, err := h.service.RemoveLine(r.Context(), owner, domain.UnitID(r.PathValue("unitId")))
	h.respond(w, r, owner, lines, err)
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	err := h.service.Clear(r.Context(), owner)
	h.respond(w, r, owner, nil, err)
}

// HandleMerge is called by the auth layer right after login, with both the
// new user id and the guest session token on the request.
func (h *Handler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	id := identity.FromRequest(r)
	session, ok := id.Session()
	if !ok || id.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "merge requires both a user id and a session token")
		return
	}
	user := domain.UserOwner(id.UserID)

	lines, err := h.service.Merge(r.Context(), session, user)
	h.respond(w, r, user, lines, err)
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (domain.CartOwner, bool) {
	owner, err := identity.FromRequest(r).Owner()
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "missing user id or session token")
		return domain.CartOwner{}, false
	}
	return owner, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, owner domain.CartOwner, lines []domain.CartLine, err error) {
	switch {
	case err == nil:
		if lines == nil {
			lines = []domain.CartLine{}
		}
		h.writeJSON(w, http.StatusOK, cartResponse{Owner: owner, Lines: lines})
	case errors.Is(err, domain.ErrInvalidQuantity):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidOwner):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "cart operation failed", "error", err, "owner", owner.String())
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
