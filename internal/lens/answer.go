package lens

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/web3-frozen/defilens/internal/advisory"
	"github.com/web3-frozen/defilens/internal/metrics"
	"github.com/web3-frozen/defilens/internal/risk"
)

const (
	warnAnalysis   = "AI analysis temporarily unavailable"
	warnPrediction = "Price prediction temporarily unavailable"
	errorTip       = "Check your API keys and network connection"

	predictionTimeframe = "24h"
)

// Answer resolves req into a Result. A valid cached Result is returned
// as-is without contacting any source. Failures never escape: they are
// reported through Result.Error and such results are not cached.
func (s *Service) Answer(ctx context.Context, req Request) (res *Result) {
	start := time.Now()
	kind := string(req.Kind)
	key := CacheKey(req)

	if cached, ok := s.cache.Lookup(key); ok {
		s.logger.Debug("using cached result", "key", key)
		metrics.QueriesTotal.WithLabelValues(kind, "cached").Inc()
		return cached
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("query panicked", "key", key, "panic", rec)
			metrics.QueriesTotal.WithLabelValues(kind, "error").Inc()
			res = s.errorResult(req, fmt.Errorf("unexpected failure: %v", rec))
		}
	}()

	res, err := s.compute(ctx, req)
	if err != nil {
		s.logger.Warn("query failed", "pool", req.PoolAddress, "feed", req.FeedKey, "kind", kind, "error", err)
		metrics.QueriesTotal.WithLabelValues(kind, "error").Inc()
		return s.errorResult(req, err)
	}

	s.cache.Put(key, res)
	metrics.QueriesTotal.WithLabelValues(kind, "fresh").Inc()
	metrics.QueryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	return res
}

func (s *Service) compute(ctx context.Context, req Request) (*Result, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	feedID, ok := s.network.FeedIDs[req.FeedKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, req.FeedKey)
	}

	var (
		m     risk.Metrics
		quote PriceQuote
	)

	// A failed fetch degrades to zero metrics or a synthesized price; only a
	// panicking source surfaces as an error.
	var g errgroup.Group
	g.Go(guard(func() { m = s.fetchMetrics(ctx, req) }))
	g.Go(guard(func() { quote = s.fetchPrice(ctx, req.Kind, feedID) }))
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.now()
	res := &Result{
		Query:       req.Query,
		PoolAddress: req.PoolAddress,
		FeedKey:     req.FeedKey,
		Kind:        req.Kind,
		Title:       title(req.Kind),
		Rows:        buildRows(req.Kind, m, quote, now),
		Price:       quote,
		ComputedAt:  now,
	}

	if req.Options.IncludeAI && s.AdvisoryEnabled() {
		a, err := s.advisor.Analyze(ctx, advisory.AnalysisInput{
			Protocol: m,
			Price:    quote.Price,
			Query:    req.Query,
			Kind:     req.Kind,
		})
		if err != nil {
			s.logger.Warn("advisory analysis failed", "pool", req.PoolAddress, "error", err)
			res.Warnings = append(res.Warnings, warnAnalysis)
		} else {
			res.Insight = &a
		}
	}

	if req.Options.IncludePrediction && s.AdvisoryEnabled() {
		p, err := s.advisor.Predict(ctx, req.FeedKey, predictionTimeframe, quote.Price)
		if err != nil {
			s.logger.Warn("advisory prediction failed", "feed", req.FeedKey, "error", err)
			res.Warnings = append(res.Warnings, warnPrediction)
		} else {
			res.Prediction = &p
		}
	}

	if req.Options.IncludeRisk {
		a := risk.Score(m, req.Kind)
		res.Risk = &a
	}

	return res, nil
}

// fetchMetrics reads the pool metrics for the query kind. Upstream failures
// leave the metrics at zero.
func (s *Service) fetchMetrics(ctx context.Context, req Request) risk.Metrics {
	var m risk.Metrics
	switch req.Kind {
	case risk.KindLiquidity:
		liq, err := s.protocol.FetchLiquidity(ctx, req.PoolAddress)
		if err != nil {
			metrics.UpstreamErrorsTotal.WithLabelValues("protocol").Inc()
			s.logger.Warn("liquidity fetch failed", "pool", req.PoolAddress, "error", err)
			return m
		}
		m.TotalLiquidity = liq.TotalLiquidity
		m.AssetTypes = liq.AssetTypes
	case risk.KindAPR:
		st, err := s.protocol.FetchStakingAPR(ctx, req.PoolAddress)
		if err != nil {
			metrics.UpstreamErrorsTotal.WithLabelValues("protocol").Inc()
			s.logger.Warn("staking fetch failed", "pool", req.PoolAddress, "error", err)
			return m
		}
		m.APR = st.APR
		m.Delegators = st.Delegators
	}
	return m
}

// fetchPrice returns the live price, or a synthesized one when the source
// fails or has nothing for the feed.
func (s *Service) fetchPrice(ctx context.Context, kind risk.Kind, feedID string) PriceQuote {
	price, err := s.prices.FetchPrice(ctx, feedID, s.network.PriceAPIURL)
	if err == nil && price > 0 {
		return PriceQuote{Price: price}
	}
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("price").Inc()
		s.logger.Warn("price fetch failed, synthesizing", "feed", feedID, "error", err)
	}
	if kind == risk.KindLiquidity {
		return PriceQuote{Price: s.synth.LiquidityPrice(), Synthesized: true}
	}
	return PriceQuote{Price: s.synth.APRPrice(), Synthesized: true}
}

func (s *Service) errorResult(req Request, err error) *Result {
	return &Result{
		Query:       req.Query,
		PoolAddress: req.PoolAddress,
		FeedKey:     req.FeedKey,
		Kind:        req.Kind,
		Title:       "Error",
		Warnings:    []string{errorTip},
		Error:       err.Error(),
		ComputedAt:  s.now(),
	}
}

// guard runs fn on an errgroup goroutine, turning a panic into an error.
func guard(fn func()) func() error {
	return func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("unexpected failure: %v", rec)
			}
		}()
		fn()
		return nil
	}
}

func title(kind risk.Kind) string {
	if kind == risk.KindLiquidity {
		return "Liquidity Intelligence"
	}
	return "APR Intelligence"
}

func buildRows(kind risk.Kind, m risk.Metrics, q PriceQuote, at time.Time) []Row {
	rows := []Row{
		{Key: "Last Updated", Value: at.UTC().Format(time.RFC3339)},
		{Key: "Price", Value: "$" + strconv.FormatFloat(q.Price, 'f', 6, 64)},
	}
	if kind == risk.KindLiquidity {
		return append(rows,
			Row{Key: "Total Liquidity", Value: strconv.FormatFloat(m.TotalLiquidity, 'f', -1, 64) + " APT"},
			Row{Key: "Liquidity (USD)", Value: "$" + strconv.FormatFloat(m.TotalLiquidity*q.Price, 'f', 2, 64)},
			Row{Key: "Asset Types", Value: strconv.Itoa(len(m.AssetTypes))},
			Row{Key: "Liquidity Depth", Value: risk.LiquidityDepth(m.TotalLiquidity)},
		)
	}
	return append(rows,
		Row{Key: "APR", Value: strconv.FormatFloat(m.APR, 'f', -1, 64) + "%"},
		Row{Key: "Delegators", Value: strconv.Itoa(m.Delegators)},
		Row{Key: "Staking Health", Value: risk.StakingHealth(m.APR, m.Delegators)},
	)
}
