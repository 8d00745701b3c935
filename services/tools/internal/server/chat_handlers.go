package server

import (
	"net/http"
	"strconv"
	"strings"

	"deathmatter/internal/util"
	"deathmatter/pkg/domain"
	"deathmatter/pkg/uistream"
	"deathmatter/services/tools/internal/app"
)

// messagePayload accepts either a plain text field or UI message parts.
type messagePayload struct {
	ID    string        `json:"id"`
	Role  string        `json:"role"`
	Text  string        `json:"text"`
	Parts []domain.Part `json:"parts"`
}

func (m messagePayload) toChatMessage() app.ChatMessage {
	text := m.Text
	if strings.TrimSpace(text) == "" {
		var parts []string
		for _, p := range m.Parts {
			if p.Type == "text" && strings.TrimSpace(p.Text) != "" {
				parts = append(parts, p.Text)
			}
		}
		text = strings.Join(parts, "\n")
	}
	return app.ChatMessage{ID: m.ID, Role: m.Role, Text: text}
}

type chatRequest struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	Message    messagePayload    `json:"message"`
	Visibility domain.Visibility `json:"visibility"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	stream, err := s.app.SendChatMessage(r.Context(), user, app.ChatTurn{
		ChatID:     req.ID,
		DocumentID: req.DocumentID,
		Message:    req.Message.toChatMessage(),
		Visibility: req.Visibility,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeStream(w, r, stream)
}

type reviseRequest struct {
	DocumentID string           `json:"documentId"`
	Messages   []messagePayload `json:"messages"`
}

func (s *Server) handleRevise(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req reviseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in := app.ReviseRequest{DocumentID: req.DocumentID}
	for _, m := range req.Messages {
		in.Messages = append(in.Messages, m.toChatMessage())
	}
	stream, err := s.app.Revise(r.Context(), user, in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeStream(w, r, stream)
}

func (s *Server) writeStream(w http.ResponseWriter, r *http.Request, stream *uistream.Stream) {
	if err := stream.WriteSSE(w); err != nil {
		util.LoggerFromContext(r.Context()).Info("stream aborted", "path", r.URL.Path, "err", err)
	}
}

func (s *Server) handleLatestDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	doc, err := s.app.LatestDocument(r.Context(), user, r.URL.Query().Get("entryId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request, user domain.User) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}
	page, err := s.app.ListChats(r.Context(), user, limit, q.Get("startingAfter"), q.Get("endingBefore"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if page.Chats == nil {
		page.Chats = []domain.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": page.Chats, "hasMore": page.HasMore})
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	transcript, err := s.app.GetChatMessages(r.Context(), user, r.PathValue("chatId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transcript)
}

// handleDeleteTrailingMessages removes the message named by ?after= and
// everything sent after it.
func (s *Server) handleDeleteTrailingMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteTrailingMessages(r.Context(), user, r.PathValue("chatId"), r.URL.Query().Get("after")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatVisibility(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req struct {
		Visibility domain.Visibility `json:"visibility"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.UpdateChatVisibility(r.Context(), user, r.PathValue("chatId"), req.Visibility); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteChat(r.Context(), user, r.PathValue("chatId")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListVotes(w http.ResponseWriter, r *http.Request, user domain.User) {
	votes, err := s.app.ListVotes(r.Context(), user, r.URL.Query().Get("chatId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if votes == nil {
		votes = []domain.Vote{}
	}
	writeJSON(w, http.StatusOK, votes)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req struct {
		ChatID    string `json:"chatId"`
		MessageID string `json:"messageId"`
		Type      string `json:"type"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.Vote(r.Context(), user, req.ChatID, req.MessageID, req.Type); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
