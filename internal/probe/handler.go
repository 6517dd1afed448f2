package probe

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fabian4/console-proxy-gateway/internal/lifecycle"
)

// Handler exposes the probe over HTTP. GET reports the lifecycle state,
// POST runs one probe with a JSON Input body and returns the Result.
type Handler struct {
	Probe   *Probe
	Tracker *lifecycle.Tracker
}

var _ http.Handler = (*Handler)(nil)

type stateResponse struct {
	State lifecycle.State   `json:"state"`
	Last  lifecycle.Outcome `json:"last"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, stateResponse{State: h.Tracker.State(), Last: h.Tracker.Last()})
	case http.MethodPost:
		var in Input
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&in); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		var res *Result
		_ = h.Tracker.Do(r.Context(), func(ctx context.Context) error {
			res = h.Probe.Run(ctx, in)
			return res.Err()
		})
		writeJSON(w, http.StatusOK, res)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
