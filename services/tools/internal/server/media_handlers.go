package server

import (
	"net/http"
	"strings"

	"deathmatter/internal/util"
	"deathmatter/pkg/domain"
	"deathmatter/pkg/scripture"
	"deathmatter/services/tools/internal/app"
)

func (s *Server) handleCreateImages(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.imageLimiter, "images", user.ID) {
		return
	}
	var in app.EpitaphInput
	if !decodeJSON(w, r, &in) {
		return
	}
	images, err := s.app.CreateImages(r.Context(), user, r.PathValue("entryId"), in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, images)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request, user domain.User) {
	images, err := s.app.ListImages(r.Context(), user, r.PathValue("entryId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if images == nil {
		images = []domain.GeneratedImage{}
	}
	writeJSON(w, http.StatusOK, images)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteImage(r.Context(), user, r.PathValue("imageId")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchQuotes(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.searchLimiter, "search", user.ID) {
		return
	}
	q := r.URL.Query()
	var lengths []string
	for _, raw := range q["lengths"] {
		lengths = append(lengths, strings.Split(raw, ",")...)
	}
	quotes, err := s.app.SearchQuotes(r.Context(), q.Get("keyword"), q.Get("author"), lengths)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if quotes == nil {
		quotes = []domain.Quote{}
	}
	writeJSON(w, http.StatusOK, quotes)
}

func (s *Server) handleSearchScripture(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.searchLimiter, "search", user.ID) {
		return
	}
	q := r.URL.Query()
	verses, err := s.app.SearchScripture(r.Context(), q.Get("faith"), q.Get("keyword"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if verses == nil {
		verses = []scripture.Verse{}
	}
	writeJSON(w, http.StatusOK, verses)
}

func (s *Server) handleListSavedQuotes(w http.ResponseWriter, r *http.Request, user domain.User) {
	items, err := s.app.ListSavedQuotes(r.Context(), user, r.PathValue("entryId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.SavedQuote{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleSaveQuote(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in app.SaveQuoteInput
	if !decodeJSON(w, r, &in) {
		return
	}
	q, err := s.app.SaveQuote(r.Context(), user, r.PathValue("entryId"), in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleDeleteSavedQuote(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteSavedQuote(r.Context(), user, r.PathValue("quoteId")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleContact is public. A valid bearer token only attaches the user id.
func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.contactLimiter, "contact", util.RateKey(s.clientIP(r))) {
		s.audit(r, "tools.contact", "rate_limited")
		return
	}
	var in app.ContactInput
	if !decodeJSON(w, r, &in) {
		return
	}
	var userID string
	if token, ok := bearerToken(r); ok {
		if id, err := s.tokenVerifier.Verify(token); err == nil {
			userID = id.Subject
		}
	}
	id, err := s.app.SubmitContact(r.Context(), userID, in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}
