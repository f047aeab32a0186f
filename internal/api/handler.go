package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/RichardoC/alfred/internal/assistant"
	"github.com/RichardoC/alfred/internal/db"
	"github.com/RichardoC/alfred/internal/executor"
	"github.com/RichardoC/alfred/internal/llm"
	"github.com/RichardoC/alfred/internal/models"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	db        *db.Database
	assistant *assistant.Service
	logger    *zap.Logger
}

func NewHandler(database *db.Database, assistantService *assistant.Service, logger *zap.Logger) *Handler {
	return &Handler{
		db:        database,
		assistant: assistantService,
		logger:    logger,
	}
}

type CommandRequest struct {
	Text           string `json:"text"`
	ConversationID *int64 `json:"conversation_id"`
}

type ExecuteRequest struct {
	Command string `json:"command"`
}

type ExecuteResponse struct {
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Allowed []string `json:"allowed,omitempty"`
}

type ConversationRequest struct {
	Title *string `json:"title"`
}

type MessageRequest struct {
	ConvID  *int64  `json:"conversation"`
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

// HandleCommand turns the request text into a command and records the turn.
func (h *Handler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.assistant.Generate(r.Context(), req.Text, req.ConversationID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleExecute runs an allow-listed command and reports its output.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.assistant.Execute(r.Context(), req.Command)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ExecuteResponse{
		ReturnCode: result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
	})
}

func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.db.ListConversations(r.Context())
	if err != nil {
		h.logger.Error("Failed to get conversations",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Debug("Retrieved conversations", zap.Int("count", len(conversations)))
	h.writeJSON(w, http.StatusOK, conversations)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if !h.decode(w, r, &req) {
		return
	}
	title := ""
	if req.Title != nil {
		title = *req.Title
	}
	if !validTitle(title) {
		h.writeError(w, http.StatusBadRequest, "title must be at most 200 characters")
		return
	}

	conversation, err := h.db.CreateConversation(r.Context(), title)
	if err != nil {
		h.logger.Error("Failed to create conversation", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusCreated, conversation)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	convID, ok := h.pathID(w, r, "Invalid conversation ID")
	if !ok {
		return
	}

	detail, err := h.db.GetConversationDetail(r.Context(), convID)
	if err != nil {
		h.writeStoreError(w, err, "Failed to get conversation")
		return
	}

	h.writeJSON(w, http.StatusOK, detail)
}

// UpdateConversation serves PUT and PATCH. PUT without a title clears it;
// PATCH without a title leaves it unchanged.
func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	convID, ok := h.pathID(w, r, "Invalid conversation ID")
	if !ok {
		return
	}

	var req ConversationRequest
	if !h.decode(w, r, &req) {
		return
	}

	var title string
	switch {
	case req.Title != nil:
		title = *req.Title
	case r.Method == http.MethodPatch:
		current, err := h.db.GetConversation(r.Context(), convID)
		if err != nil {
			h.writeStoreError(w, err, "Failed to get conversation")
			return
		}
		title = current.Title
	}
	if !validTitle(title) {
		h.writeError(w, http.StatusBadRequest, "title must be at most 200 characters")
		return
	}

	conversation, err := h.db.UpdateConversationTitle(r.Context(), convID, title)
	if err != nil {
		h.writeStoreError(w, err, "Failed to update conversation")
		return
	}

	h.writeJSON(w, http.StatusOK, conversation)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	convID, ok := h.pathID(w, r, "Invalid conversation ID")
	if !ok {
		return
	}

	if err := h.db.DeleteConversation(r.Context(), convID); err != nil {
		h.writeStoreError(w, err, "Failed to delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	var filter db.MessageFilter
	raw := r.URL.Query().Get("conversation")
	if raw == "" {
		raw = r.URL.Query().Get("conversation_id")
	}
	if raw != "" {
		convID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid conversation ID")
			return
		}
		filter.ConversationID = &convID
	}

	messages, err := h.db.ListMessages(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to get messages", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ConvID == nil || req.Role == nil || req.Content == nil {
		h.writeError(w, http.StatusBadRequest, "conversation, role and content are required")
		return
	}

	msg := &models.Message{ConvID: *req.ConvID, Role: *req.Role, Content: *req.Content}
	if !models.ValidRole(msg.Role) {
		h.writeError(w, http.StatusBadRequest, "role must be one of user, assistant, system")
		return
	}

	if err := h.db.SaveMessage(r.Context(), msg); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusBadRequest, "conversation does not exist")
			return
		}
		h.logger.Error("Failed to save message", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msgID, ok := h.pathID(w, r, "Invalid message ID")
	if !ok {
		return
	}

	msg, err := h.db.GetMessage(r.Context(), msgID)
	if err != nil {
		h.writeStoreError(w, err, "Failed to get message")
		return
	}

	h.writeJSON(w, http.StatusOK, msg)
}

// UpdateMessage serves PUT (all fields required) and PATCH (any subset).
func (h *Handler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	msgID, ok := h.pathID(w, r, "Invalid message ID")
	if !ok {
		return
	}

	var req MessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if r.Method == http.MethodPut && (req.ConvID == nil || req.Role == nil || req.Content == nil) {
		h.writeError(w, http.StatusBadRequest, "conversation, role and content are required")
		return
	}

	msg, err := h.db.GetMessage(r.Context(), msgID)
	if err != nil {
		h.writeStoreError(w, err, "Failed to get message")
		return
	}
	if req.ConvID != nil {
		msg.ConvID = *req.ConvID
	}
	if req.Role != nil {
		msg.Role = *req.Role
	}
	if req.Content != nil {
		msg.Content = *req.Content
	}
	if !models.ValidRole(msg.Role) {
		h.writeError(w, http.StatusBadRequest, "role must be one of user, assistant, system")
		return
	}

	if err := h.db.UpdateMessage(r.Context(), msg); err != nil {
		if errors.Is(err, db.ErrNotFound) && req.ConvID != nil {
			h.writeError(w, http.StatusBadRequest, "conversation does not exist")
			return
		}
		h.writeStoreError(w, err, "Failed to update message")
		return
	}

	h.writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	msgID, ok := h.pathID(w, r, "Invalid message ID")
	if !ok {
		return
	}

	if err := h.db.DeleteMessage(r.Context(), msgID); err != nil {
		h.writeStoreError(w, err, "Failed to delete message")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error("Health check failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, msg string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, msg)
		return 0, false
	}
	return id, true
}

// writeServiceError maps the generate/execute error taxonomy onto status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rejected    *assistant.RejectedError
		providerErr *llm.ProviderError
	)
	switch {
	case errors.Is(err, assistant.ErrTextRequired), errors.Is(err, assistant.ErrCommandRequired):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &rejected):
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: rejected.Error(), Allowed: rejected.Allowed})
	case errors.Is(err, executor.ErrTimeout):
		h.writeError(w, http.StatusGatewayTimeout, "Command timed out")
	case errors.As(err, &providerErr):
		h.logger.Error("Provider request failed", zap.String("provider", providerErr.Provider), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Not found")
		return
	}
	h.logger.Error(msg, zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func validTitle(title string) bool {
	return utf8.RuneCountInString(title) <= models.MaxTitleLength
}
