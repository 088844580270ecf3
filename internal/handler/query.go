package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/web3-frozen/defilens/internal/advisory"
	"github.com/web3-frozen/defilens/internal/lens"
	"github.com/web3-frozen/defilens/internal/opportunity"
	"github.com/web3-frozen/defilens/internal/risk"
)

const (
	defaultFeed      = "aptUsd"
	defaultTimeframe = "24h"
)

// Query answers GET /api/query. A formatted error result is returned with
// status 422.
func Query(svc *lens.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		pool := strings.TrimSpace(q.Get("pool"))
		if pool == "" {
			writeError(w, http.StatusBadRequest, "pool required")
			return
		}

		kind := risk.Kind(strings.ToLower(q.Get("kind")))
		if kind == "" {
			kind = risk.KindLiquidity
		}
		if !kind.Valid() {
			writeError(w, http.StatusBadRequest, "kind must be liquidity or apr")
			return
		}

		var opts lens.Options
		for name, dst := range map[string]*bool{
			"ai":         &opts.IncludeAI,
			"prediction": &opts.IncludePrediction,
			"risk":       &opts.IncludeRisk,
		} {
			v, err := parseBool(q.Get(name))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = v
		}

		feed := q.Get("feed")
		if feed == "" {
			feed = defaultFeed
		}

		res := svc.Answer(r.Context(), lens.Request{
			Query:       q.Get("q"),
			PoolAddress: pool,
			FeedKey:     feed,
			Kind:        kind,
			Options:     opts,
		})
		status := http.StatusOK
		if res.Failed() {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, res)
	}
}

// Opportunities answers GET /api/opportunities.
func Opportunities(svc *lens.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f opportunity.Filter

		if v := q.Get("min_apy"); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid min_apy")
				return
			}
			f.MinAPY = &n
		}
		if v := q.Get("min_tvl"); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid min_tvl")
				return
			}
			f.MinTVL = &n
		}
		switch mr := strings.ToLower(q.Get("max_risk")); mr {
		case "", opportunity.RiskLow, opportunity.RiskMedium, opportunity.RiskHigh:
			f.MaxRisk = mr
		default:
			writeError(w, http.StatusBadRequest, "max_risk must be low, medium or high")
			return
		}
		if v := q.Get("protocols"); v != "" {
			for _, p := range strings.Split(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					f.Protocols = append(f.Protocols, p)
				}
			}
		}

		opps := svc.Discover(r.Context(), f)
		if opps == nil {
			opps = []opportunity.Opportunity{}
		}
		writeJSON(w, http.StatusOK, opps)
	}
}

// Predict answers GET /api/predict.
func Predict(svc *lens.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asset := strings.TrimSpace(r.URL.Query().Get("asset"))
		if asset == "" {
			writeError(w, http.StatusBadRequest, "asset required")
			return
		}
		timeframe := r.URL.Query().Get("timeframe")
		if timeframe == "" {
			timeframe = defaultTimeframe
		}

		p, err := svc.Predict(r.Context(), asset, timeframe)
		if err != nil {
			writeError(w, http.StatusBadGateway, "prediction failed")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// Optimize answers POST /api/optimize.
func Optimize(svc *lens.Service) http.HandlerFunc {
	type request struct {
		Positions     map[string]float64 `json:"positions"`
		RiskTolerance *float64           `json:"risk_tolerance"`
		TargetReturn  *float64           `json:"target_return"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Positions) == 0 {
			writeError(w, http.StatusBadRequest, "positions required")
			return
		}
		prefs := advisory.Preferences{RiskTolerance: 5, TargetReturn: req.TargetReturn}
		if req.RiskTolerance != nil {
			if *req.RiskTolerance < 1 || *req.RiskTolerance > 10 {
				writeError(w, http.StatusBadRequest, "risk_tolerance must be between 1 and 10")
				return
			}
			prefs.RiskTolerance = *req.RiskTolerance
		}

		o, err := svc.Optimize(r.Context(), req.Positions, prefs)
		if errors.Is(err, advisory.ErrOptimization) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "optimization failed")
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
