// Package advisory wraps the text-generation service that produces market
// insight, price predictions and portfolio suggestions. Every call is
// fallible; callers pick a Client once at construction and never branch on
// credential presence afterwards.
package advisory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/web3-frozen/defilens/internal/risk"
	"github.com/web3-frozen/defilens/internal/synth"
)

var (
	// ErrUnavailable is returned when the service cannot produce an answer.
	ErrUnavailable = errors.New("advisory service unavailable")
	// ErrOptimization is the one advisory failure with no safe fallback.
	ErrOptimization = errors.New("portfolio optimization failed")
)

// AnalysisInput is what Analyze reasons about.
type AnalysisInput struct {
	Protocol risk.Metrics `json:"protocol"`
	Price    float64      `json:"price"`
	Query    string       `json:"query"`
	Kind     risk.Kind    `json:"kind"`
}

type RiskCategories struct {
	SmartContract int `json:"smartContract"`
	Liquidity     int `json:"liquidity"`
	Market        int `json:"market"`
}

type AnalysisRisk struct {
	Overall    int            `json:"overall"`
	Categories RiskCategories `json:"categories"`
	Warnings   []string       `json:"warnings"`
}

// Analysis is narrative insight on a pool.
type Analysis struct {
	Insights      []string     `json:"insights"`
	Risk          AnalysisRisk `json:"risk"`
	Opportunities []string     `json:"opportunities"`
	Confidence    int          `json:"confidence"`
}

type Signals struct {
	Technical   float64 `json:"technical"`
	Fundamental float64 `json:"fundamental"`
	Sentiment   float64 `json:"sentiment"`
}

// Prediction is a price forecast for one asset.
type Prediction struct {
	Asset          string  `json:"asset"`
	CurrentPrice   float64 `json:"current_price"`
	PredictedPrice float64 `json:"predicted_price"`
	Confidence     float64 `json:"confidence"`
	Timeframe      string  `json:"timeframe"`
	Reasoning      string  `json:"reasoning"`
	Signals        Signals `json:"signals"`
}

// Preferences steer Optimize.
type Preferences struct {
	RiskTolerance float64  `json:"risk_tolerance"`
	TargetReturn  *float64 `json:"target_return,omitempty"`
}

type Action struct {
	Type   string  `json:"type"`
	Asset  string  `json:"asset"`
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// Optimization is a suggested reallocation.
type Optimization struct {
	CurrentValue        float64            `json:"current_value"`
	SuggestedAllocation map[string]float64 `json:"suggested_allocation"`
	ExpectedReturn      float64            `json:"expected_return"`
	RiskScore           float64            `json:"risk_score"`
	Actions             []Action           `json:"actions"`
}

// Client is the advisory service contract.
type Client interface {
	Analyze(ctx context.Context, in AnalysisInput) (Analysis, error)
	Predict(ctx context.Context, asset, timeframe string, currentPrice float64) (Prediction, error)
	Optimize(ctx context.Context, positions map[string]float64, prefs Preferences) (Optimization, error)
}

// New returns the OpenAI-backed client with canned fallbacks when apiKey is
// set, and the Null client otherwise.
func New(apiKey string, rnd synth.Rand, logger *slog.Logger) Client {
	if apiKey == "" {
		logger.Warn("advisory API key not provided, AI features will be limited")
		return NewNull(rnd)
	}
	return WithFallback(NewOpenAI(apiKey), rnd, logger)
}

// Enabled reports whether c is backed by a real service.
func Enabled(c Client) bool {
	if c == nil {
		return false
	}
	_, null := c.(*Null)
	return !null
}

func portfolioValue(positions map[string]float64) float64 {
	var total float64
	for _, v := range positions {
		total += v
	}
	return total
}
