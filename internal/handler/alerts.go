package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/web3-frozen/defilens/internal/alert"
	"github.com/web3-frozen/defilens/internal/events"
	"github.com/web3-frozen/defilens/internal/lens"
)

// RuleStore persists alert rules across restarts.
type RuleStore interface {
	SaveRule(ctx context.Context, address, ruleType string, threshold float64) error
	DeleteRule(ctx context.Context, address, ruleType string) error
}

// AlertHistory lists fired alerts, newest first.
type AlertHistory interface {
	ListAlerts(ctx context.Context, address string, limit int) ([]events.Alert, error)
}

// AlertCounter counts alerts fired within a trailing window.
type AlertCounter interface {
	CountAlerts(ctx context.Context, window time.Duration) (int, error)
}

// SetAlert answers POST /api/alerts. rules may be nil.
func SetAlert(svc *lens.Service, rules RuleStore) http.HandlerFunc {
	type request struct {
		Address   string   `json:"address"`
		Type      string   `json:"type"`
		Threshold *float64 `json:"threshold"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Address = strings.TrimSpace(req.Address)
		if req.Address == "" || req.Threshold == nil {
			writeError(w, http.StatusBadRequest, "address and threshold required")
			return
		}
		if *req.Threshold < 0 {
			writeError(w, http.StatusBadRequest, "threshold must not be negative")
			return
		}

		rule := alert.Rule{Type: req.Type, Threshold: *req.Threshold}
		if err := svc.SetAlert(req.Address, rule); err != nil {
			if errors.Is(err, lens.ErrInvalidAlertType) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to register alert")
			return
		}
		rule.Type = alert.NormalizeType(rule.Type)

		if rules != nil {
			if err := rules.SaveRule(r.Context(), req.Address, rule.Type, rule.Threshold); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to persist alert")
				return
			}
		}
		writeJSON(w, http.StatusCreated, alert.Registered{Address: req.Address, Rule: rule})
	}
}

// DeleteAlert answers DELETE /api/alerts?address=&type=. rules may be nil.
func DeleteAlert(svc *lens.Service, rules RuleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("address")
		ruleType := alert.NormalizeType(r.URL.Query().Get("type"))
		if address == "" || ruleType == "" {
			writeError(w, http.StatusBadRequest, "address and type required")
			return
		}
		if !svc.RemoveAlert(address, ruleType) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		if rules != nil {
			if err := rules.DeleteRule(r.Context(), address, ruleType); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to delete alert")
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListAlerts answers GET /api/alerts with the registered rules.
func ListAlerts(svc *lens.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, svc.AlertRules())
	}
}

// AlertHistoryList answers GET /api/alerts/history. history may be nil, in
// which case the endpoint reports 503.
func AlertHistoryList(history AlertHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			writeError(w, http.StatusServiceUnavailable, "alert history not configured")
			return
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		alerts, err := history.ListAlerts(r.Context(), r.URL.Query().Get("address"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list alerts")
			return
		}
		if alerts == nil {
			alerts = []events.Alert{}
		}
		writeJSON(w, http.StatusOK, alerts)
	}
}

// AlertStats answers GET /api/alerts/stats with the number of alerts fired
// in the trailing window (default 24h).
func AlertStats(counter AlertCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if counter == nil {
			writeError(w, http.StatusServiceUnavailable, "alert history not configured")
			return
		}
		window := 24 * time.Hour
		if v := r.URL.Query().Get("window"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				writeError(w, http.StatusBadRequest, "invalid window")
				return
			}
			window = d
		}
		n, err := counter.CountAlerts(r.Context(), window)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to count alerts")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"window": window.String(), "count": n})
	}
}
