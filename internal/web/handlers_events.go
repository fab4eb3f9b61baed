package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/Reconcile/internal/core"
	"github.com/JonMunkholm/Reconcile/internal/logging"
)

// handleEvents streams session events as server-sent events. The stream
// opens with a "status" event and ends once the session reaches a terminal
// status or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	view, err := s.ownedSession(r.Context(), r)
	if err != nil {
		s.respondError(w, r, err, nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("%w: streaming unsupported", errBadRequest), nil)
		return
	}

	// Subscribe before the initial snapshot so nothing is missed in between.
	events, unsubscribe := s.service.Subscribe(view.Session.ID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := logging.ForImport(r.Context(), view.Session.ID, view.Session.Flavor)
	if err := writeEvent(w, "status", view); err != nil {
		return
	}
	flusher.Flush()
	if view.Session.Status.Terminal() {
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, string(ev.Kind), ev); err != nil {
				logger.Debug("event stream closed", "error", err)
				return
			}
			flusher.Flush()
			if ev.Kind == core.EventSession && core.SessionStatus(ev.Status).Terminal() {
				return
			}
		}
	}
}

// writeEvent writes one SSE frame with a JSON payload.
func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
