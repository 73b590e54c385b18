package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"menusync/internal/broadcast"
	"menusync/internal/logging"
)

// handleSyncStream subscribes the caller to catalog snapshots for one
// branch scope, or for every branch via the GLOBAL wildcard, delivered
// as Server-Sent Events.
//
// Delivery is lossy: a client that disconnects (or falls behind its
// buffer) misses emissions and should re-fetch the branch catalog on
// reconnect before resuming the stream.
func (s *Server) handleSyncStream(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	if scope != broadcast.Global {
		if _, err := uuid.Parse(scope); err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "scope must be a branch id or GLOBAL")
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.service.SubscribeCatalog(scope)
	defer sub.Close()

	log := logging.WithFields(r.Context(), "scope", scope)
	log.Debug("sync subscriber connected")
	defer log.Debug("sync subscriber disconnected")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeSSE(w, "catalog", ev); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSE writes one named SSE event with a JSON payload.
func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
