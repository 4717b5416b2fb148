package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"supporthub/internal/ingest"
)

type webhookIngestRequest struct {
	Events []ingest.Envelope `json:"events"`
}

type webhookIngestResponse struct {
	Accepted  int `json:"accepted"`
	Skipped   int `json:"skipped"`
	Delivered int `json:"delivered"`
}

// handleIngestAutomationEvents accepts a batch of event envelopes from the
// automation service and publishes each one. The service only posts after
// its own state change committed, so publish here is fire-and-forget:
// per-envelope problems are counted and logged, never failed back to the
// caller, and unknown event types are skipped for forward compatibility.
func (s server) handleIngestAutomationEvents(w http.ResponseWriter, r *http.Request) {
	var req webhookIngestRequest
	if !readJSONLimited(w, r, &req, 1<<20) {
		return
	}
	if len(req.Events) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no events"})
		return
	}
	if len(req.Events) > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "too many events"})
		return
	}

	var resp webhookIngestResponse
	for i, env := range req.Events {
		ev, err := env.Event()
		if err != nil {
			var unknown ingest.ErrUnknownType
			if errors.As(err, &unknown) {
				logMsg(r.Context(), fmt.Sprintf("webhook: skipping event %d of unknown type %q", i, unknown.Type))
			} else {
				logError(r.Context(), fmt.Sprintf("webhook: skipping invalid event %d", i), err)
			}
			resp.Skipped++
			continue
		}
		report := s.publisher.Publish(ev)
		resp.Accepted++
		resp.Delivered += report.Delivered
	}

	writeJSON(w, http.StatusAccepted, resp)
}
