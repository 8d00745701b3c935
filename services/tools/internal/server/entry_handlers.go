package server

import (
	"errors"
	"mime/multipart"
	"net/http"

	"deathmatter/internal/util"
	"deathmatter/pkg/domain"
	"deathmatter/services/tools/internal/app"
)

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request, user domain.User) {
	entries, err := s.app.ListEntries(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in app.EntryInput
	if !decodeJSON(w, r, &in) {
		return
	}
	entry, err := s.app.CreateEntry(r.Context(), user, in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request, user domain.User) {
	entry, err := s.app.GetEntry(r.Context(), user, r.PathValue("entryId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request, user domain.User) {
	var in app.EntryInput
	if !decodeJSON(w, r, &in) {
		return
	}
	entry, err := s.app.UpdateEntry(r.Context(), user, r.PathValue("entryId"), in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteEntry(r.Context(), user, r.PathValue("entryId")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetDetails(w http.ResponseWriter, r *http.Request, user domain.User) {
	details, err := s.app.GetEntryDetails(r.Context(), user, r.PathValue("entryId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleSaveDetails(w http.ResponseWriter, r *http.Request, user domain.User) {
	var details domain.EntryDetails
	if !decodeJSON(w, r, &details) {
		return
	}
	saved, err := s.app.SaveEntryDetails(r.Context(), user, r.PathValue("entryId"), details)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// readUpload parses a multipart body and returns the "file" part. It writes
// the error response itself when the body is unusable.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (app.Upload, multipart.File, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return app.Upload{}, nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return app.Upload{}, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return app.Upload{}, nil, false
	}
	return app.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, file, true
}

func (s *Server) handleUploadPortrait(w http.ResponseWriter, r *http.Request, user domain.User) {
	up, file, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()
	entry, err := s.app.UploadPortrait(r.Context(), user, r.PathValue("entryId"), up)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.generateLimiter, "generate", user.ID) {
		return
	}
	var opts app.ObituaryOptions
	if !decodeJSON(w, r, &opts) {
		return
	}
	gen, err := s.app.GenerateObituary(r.Context(), user, r.PathValue("entryId"), opts)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeGeneration(w, r, gen)
}

func (s *Server) handleGenerateFromFile(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.generateLimiter, "generate", user.ID) {
		return
	}
	up, file, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()
	gen, err := s.app.GenerateObituaryFromFile(r.Context(), user, r.PathValue("entryId"), app.FileSource{
		Upload:       up,
		Name:         r.FormValue("name"),
		Instructions: r.FormValue("instructions"),
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeGeneration(w, r, gen)
}

func (s *Server) writeGeneration(w http.ResponseWriter, r *http.Request, gen app.Generation) {
	w.Header().Set("X-Document-Id", gen.DocumentID)
	if err := gen.Stream.WriteText(w); err != nil {
		util.LoggerFromContext(r.Context()).Info("generation stream aborted", "document_id", gen.DocumentID, "err", err)
	}
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	docs, err := s.app.ListDocuments(r.Context(), user, r.PathValue("entryId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	doc, err := s.app.GetDocument(r.Context(), user, r.PathValue("documentId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteDocument(r.Context(), user, r.PathValue("documentId")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDocumentChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	out, err := s.app.GetDocumentChat(r.Context(), user, r.PathValue("documentId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
