package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/web3-frozen/defilens/internal/lens"
)

type monitorStatus struct {
	Started   bool     `json:"started"`
	Running   bool     `json:"running"`
	Addresses []string `json:"addresses"`
}

// StartMonitor answers POST /api/monitor. The session is bound to base,
// the server lifetime context, not to the request.
func StartMonitor(base context.Context, svc *lens.Service) http.HandlerFunc {
	type request struct {
		Addresses []string `json:"addresses"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		var addrs []string
		for _, a := range req.Addresses {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
		if len(addrs) == 0 {
			writeError(w, http.StatusBadRequest, "addresses required")
			return
		}

		started := svc.StartMonitoring(base, addrs)
		running, active := svc.MonitorStatus()
		status := http.StatusAccepted
		if !started {
			status = http.StatusOK
		}
		writeJSON(w, status, monitorStatus{Started: started, Running: running, Addresses: active})
	}
}

// MonitorStatus answers GET /api/monitor.
func MonitorStatus(svc *lens.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		running, addrs := svc.MonitorStatus()
		if addrs == nil {
			addrs = []string{}
		}
		writeJSON(w, http.StatusOK, monitorStatus{Running: running, Addresses: addrs})
	}
}
