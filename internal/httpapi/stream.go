package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nazeru/medstore-orders-go/internal/auth"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
	"github.com/nazeru/medstore-orders-go/pkg/problem"
)

// stream serves the caller's events as server-sent events until the client
// goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		problem.Write(w, r, problem.New(http.StatusServiceUnavailable, "event stream disabled"))
		return
	}
	rc := http.NewResponseController(w)
	p, _ := auth.FromContext(r.Context())

	sub, unsubscribe := s.hub.Subscribe(p.UserID, p.Admin)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev := <-sub.C:
			data, err := json.Marshal(ev)
			if err != nil {
				logging.Log(logging.Fields{Service: "httpapi", EventID: ev.EventID, Step: "sse", Status: "failed", Error: err.Error()})
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.EventID, ev.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
