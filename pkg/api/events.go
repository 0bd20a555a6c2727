package api

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/burrow/pkg/errors"
)

// streamEvents writes record lifecycle events as newline-delimited JSON
// until the client goes away. ?kind= restricts the stream to one kind.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.error(w, errors.ErrUnsupported.
			WithMsgf("Event streaming is not supported").
			WithCausef("connection cannot be flushed"))
		return
	}

	kind := r.URL.Query().Get("kind")
	broker := s.manager.GetEventBroker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			if kind != "" && event.Kind != kind {
				continue
			}
			if err := enc.Encode(event); err != nil {
				s.logger.Debug().Err(err).Msg("Event stream closed")
				return
			}
			flusher.Flush()
		}
	}
}
