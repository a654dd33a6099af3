package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hylla/convivencia/internal/eventbus"
)

// keepAliveInterval spaces SSE comment frames on idle streams.
const keepAliveInterval = 15 * time.Second

// eventBuffer bounds refresh signals queued for one slow client.
const eventBuffer = 16

// refreshEvent is the data payload of one `refresh` frame.
type refreshEvent struct {
	Seq    uint64 `json:"seq"`
	Source string `json:"source,omitempty"`
}

// handleEvents serves GET `/events` as a server-sent event stream with one `refresh` event per bus signal.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.signals == nil {
		writeJSONError(w, http.StatusNotImplemented, APIError{
			Code:    "not_implemented",
			Message: "refresh stream is not available",
		})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "streaming_unsupported",
			Message: "response writer does not support streaming",
		})
		return
	}

	// Signals past the buffer are dropped; bus dispatch never blocks on a client.
	pending := make(chan eventbus.Signal, eventBuffer)
	unsubscribe := h.signals.Subscribe(func(sig eventbus.Signal) {
		select {
		case pending <- sig:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	var seq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case sig := <-pending:
			seq++
			data, err := json.Marshal(refreshEvent{Seq: seq, Source: sig.Source})
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: refresh\ndata: %s\n\n", seq, data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
