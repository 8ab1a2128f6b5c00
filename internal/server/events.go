package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/pdfquery/internal/session"
)

const keepaliveInterval = 15 * time.Second

// handleEvents streams one "session" event per session mutation as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	e, owner, ok := s.entry(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events := make(chan session.Event, 16)
	unsubscribe := e.Session.Subscribe(func(ev session.Event) {
		select {
		case events <- ev:
		default:
			s.logger.Debug("dropping session event for slow client", zap.String("owner", ev.Owner))
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	// Initial snapshot so clients do not wait for the first mutation.
	if err := writeEvent(w, session.Event{
		Kind:      "snapshot",
		Owner:     owner.ID,
		ActiveID:  e.Session.ActiveID(),
		Documents: e.Session.Len(),
	}); err != nil {
		return
	}
	flusher.Flush()
	s.logger.Debug("SSE stream established", zap.String("owner", owner.ID))

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", zap.String("owner", owner.ID))
			return
		case ev := <-events:
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			s.registry.Touch(owner.ID)
		}
	}
}

func writeEvent(w http.ResponseWriter, ev session.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: session\ndata: %s\n\n", data)
	return err
}
