package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/verdantchat/chatsync/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{"data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "Not Found")
}

// handleUser serves GET /api/user.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if s.signedOut() {
		writeError(w, http.StatusUnauthorized, "Unauthenticated.")
		return
	}
	writeData(w, http.StatusOK, s.store.User())
}

// handleLogin serves POST /login and restores the session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.setSignedOut(false)
	writeData(w, http.StatusOK, s.store.User())
}

// handleLogout serves POST /logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.setSignedOut(true)
	w.WriteHeader(http.StatusNoContent)
}

// handleListConversations serves GET /api/conversations.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.FailListCount > 0 {
		s.FailListCount--
		s.mu.Unlock()
		writeError(w, http.StatusInternalServerError, "injected failure")
		return
	}
	s.mu.Unlock()

	writeData(w, http.StatusOK, s.store.ListConversations())
}

// handleGetConversation serves GET /api/conversations/{id}.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.store.GetConversation(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w)
		return
	}
	writeData(w, http.StatusOK, conv)
}

// handleCreateConversation serves POST /api/conversations.
func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ModelName) == "" || strings.TrimSpace(req.ModelProvider) == "" {
		writeValidationError(w, "model_name", "The model name field is required.")
		return
	}

	conv := s.store.CreateConversation(req.ModelName, req.ModelProvider, req.Title)
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("model", conv.ModelLabel()),
	)
	writeData(w, http.StatusCreated, conv)
}

// handleUpdateConversation serves PATCH /api/conversations/{id}.
func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeValidationError(w, "title", "The title field is required.")
		return
	}

	conv, ok := s.store.UpdateTitle(chi.URLParam(r, "id"), req.Title)
	if !ok {
		writeNotFound(w)
		return
	}
	writeData(w, http.StatusOK, conv)
}

// handleDeleteConversation serves DELETE /api/conversations/{id}.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if !s.store.DeleteConversation(chi.URLParam(r, "id")) {
		writeNotFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeValidationError(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
		"message": message,
		"errors":  map[string][]string{field: {message}},
	})
}

// handleSendMessage serves POST /api/conversations/{id}/messages. The request
// may be JSON or multipart; an Accept header of text/event-stream switches the
// response to a token stream.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.store.GetConversation(id); !ok {
		writeNotFound(w)
		return
	}

	content, err := readSendContent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(content) == "" {
		writeValidationError(w, "content", "The content field is required.")
		return
	}

	if s.FailSendStatus != 0 {
		writeError(w, s.FailSendStatus, "injected failure")
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamReply(w, r, id, content)
		return
	}

	result, ok := s.store.AppendExchange(id, content)
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Message sent successfully",
		"data":    result,
	})
}

// readSendContent extracts the message content from a JSON or multipart body.
func readSendContent(r *http.Request) (string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return "", err
		}
		return r.FormValue("content"), nil
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", err
	}
	return req.Content, nil
}

// streamReply writes the assistant reply as Server-Sent-Events: one content
// payload per token, then a terminal payload carrying the finalized pair.
// Failure injection happens before the exchange is committed, so a failed
// stream leaves no trace in the store.
func (s *Server) streamReply(w http.ResponseWriter, r *http.Request, id, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	tokens := ReplyTokens(content)
	for i, token := range tokens {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		if s.MidStreamError != "" && i == len(tokens)/2 {
			sendEvent(w, flusher, "error", map[string]string{"error": s.MidStreamError})
			return
		}

		sendEvent(w, flusher, "content", map[string]string{"content": token})
	}

	if s.TruncateStream {
		return
	}

	result, ok := s.store.AppendExchange(id, content)
	if !ok {
		sendEvent(w, flusher, "error", map[string]string{"error": "conversation not found"})
		return
	}

	sendEvent(w, flusher, "done", map[string]interface{}{
		"message":      result.AssistantMessage,
		"user_message": result.UserMessage,
		"usage":        result.Usage,
	})
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
