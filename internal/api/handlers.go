package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// maxChatBodyBytes bounds the decoded request body.
const maxChatBodyBytes = 64 << 10

// chatHandler handles POST /chat.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	slog.Debug("Server.chatHandler: processing chat request", "method", r.Method, "path", r.URL.Path)

	var req models.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
		slog.Debug("Server.chatHandler: generated conversation id", "conversationID", req.ConversationID)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	route, reply, err := s.flow.ProcessMessage(ctx, req.ConversationID, req.Message, req.InputType)
	if err != nil {
		slog.Error("Server.chatHandler: failed to process message", "error", err, "conversationID", req.ConversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	slog.Info("Server.chatHandler: turn processed", "conversationID", req.ConversationID, "route", route)
	writeJSONResponse(w, http.StatusOK, models.Success(models.ChatResponse{
		ConversationID: req.ConversationID,
		Route:          route,
		Response:       reply,
	}))
}

// historyHandler handles GET /conversations/{id}.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationIDFromPath(w, r)
	if !ok {
		return
	}
	messages, err := s.flow.History(r.Context(), id, DefaultHistoryPage)
	if err != nil {
		slog.Error("Server.historyHandler: failed to load history", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation history"))
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.ConversationHistory{
		ConversationID: id,
		Messages:       messages,
	}))
}

// resetHandler handles DELETE /conversations/{id}.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationIDFromPath(w, r)
	if !ok {
		return
	}
	if err := s.flow.Reset(r.Context(), id); err != nil {
		slog.Error("Server.resetHandler: failed to clear conversation", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to clear conversation"))
		return
	}
	slog.Info("Server.resetHandler: conversation cleared", "conversationID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation cleared", nil))
}

func conversationIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyConversationID.Error()))
		return "", false
	}
	if len(id) > models.MaxConversationIDLength {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrConversationIDTooLong.Error()))
		return "", false
	}
	return id, true
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "CartPipe",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	slog.Warn("Server: method not allowed", "method", r.Method, "path", r.URL.Path)
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
}
