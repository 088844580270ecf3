package handler

import (
	"context"
	"net/http"

	"github.com/web3-frozen/defilens/internal/lens"
)

// Pinger is anything whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness with the active network and whether a real
// advisory backend is configured.
func Health(svc *lens.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"network":  svc.Network().Name,
			"advisory": svc.AdvisoryEnabled(),
		})
	}
}

// Ready reports ready when every dependency answers a ping. With no
// dependencies it always reports ready.
func Ready(deps ...Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		for _, d := range deps {
			if err := d.Ping(r.Context()); err != nil {
				http.Error(w, `{"status":"not ready"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}
