package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"menusync/internal/catalog"
	"menusync/internal/store"
)

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := s.service.Branches(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, branches)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	branchID, err := uuid.Parse(chi.URLParam(r, "branchID"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid branch id")
		return
	}

	snap, err := s.service.BranchSnapshot(r.Context(), branchID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, snap)
}

// handleImport accepts a multipart CSV upload and starts an async
// import job. Query params: clear=true to clear-then-import,
// allow_partial=true to commit the valid subset despite row errors.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	branchID, err := uuid.Parse(chi.URLParam(r, "branchID"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid branch id")
		return
	}

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	opts := catalog.ImportOptions{
		ClearFirst:   parseBool(r.URL.Query().Get("clear")),
		AllowPartial: parseBool(r.URL.Query().Get("allow_partial")),
	}

	importID, err := s.service.StartImport(r.Context(), branchID, header.Filename, file, header.Size, opts)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(r.Context(), w, status, err.Error())
		return
	}

	writeJSON(w, map[string]string{"import_id": importID})
}

// handleImportProgress streams import progress as Server-Sent Events.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	ch, err := s.service.SubscribeProgress(importID)
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case progress, open := <-ch:
			if !open {
				return
			}
			if err := writeSSE(w, "progress", progress); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Result(chi.URLParam(r, "importID"))
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(chi.URLParam(r, "importID")); err != nil {
		writeError(r.Context(), w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "cancelling"})
}

func (s *Server) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Import.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	recs, err := s.service.ImportHistory(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid item id")
		return
	}

	var edit catalog.ItemEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := s.service.EditItem(r.Context(), itemID, edit)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(r.Context(), w, status, err.Error())
		return
	}
	writeJSON(w, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid item id")
		return
	}

	if err := s.service.DeleteItem(r.Context(), itemID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(r.Context(), w, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
