package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"passkeygate.org/internal/stream"
)

// Events streams accepted batches as Server-Sent Events.
func (a *API) Events(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.events.Subscribe(ctx)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: batch\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

// WithEvents enables GET /v1/events.
func WithEvents(hub *stream.Hub) Option {
	return func(a *API) { a.events = hub }
}
