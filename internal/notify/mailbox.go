package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Mailbox is a stand-in mail service for local runs. It accepts messages on
// POST /send, logs them and keeps the most recent ones for GET /messages.
type Mailbox struct {
	mu       sync.Mutex
	messages []Message
	limit    int

	validate *validator.Validate
	logger   *slog.Logger
}

func NewMailbox(limit int, logger *slog.Logger) *Mailbox {
	if limit <= 0 {
		limit = 100
	}
	return &Mailbox{
		limit:    limit,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

type sendResponse struct {
	Status string `json:"status"`
}

func (m *Mailbox) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		m.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := m.validate.Struct(msg); err != nil {
		m.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m.mu.Lock()
	m.messages = append(m.messages, msg)
	if len(m.messages) > m.limit {
		m.messages = m.messages[len(m.messages)-m.limit:]
	}
	m.mu.Unlock()

	m.logger.InfoContext(r.Context(), "email sent", "to", msg.To, "subject", msg.Subject)

	m.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

func (m *Mailbox) HandleList(w http.ResponseWriter, r *http.Request) {
	m.writeJSON(w, http.StatusOK, m.Messages())
}

func (m *Mailbox) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message{}, m.messages...)
}

func (m *Mailbox) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		m.logger.Error("failed to encode response", "error", err)
	}
}

func (m *Mailbox) writeError(w http.ResponseWriter, status int, message string) {
	m.writeJSON(w, status, map[string]string{"error": message})
}
