package advisory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/web3-frozen/defilens/internal/metrics"
	"github.com/web3-frozen/defilens/internal/synth"
)

// Fallback turns Analyze and Predict failures of the primary client into
// canned content. Optimize failures are returned wrapped in ErrOptimization.
type Fallback struct {
	primary Client
	rnd     synth.Rand
	logger  *slog.Logger
}

func WithFallback(primary Client, rnd synth.Rand, logger *slog.Logger) *Fallback {
	if rnd == nil {
		rnd = synth.NewTimeSeededRand()
	}
	return &Fallback{primary: primary, rnd: rnd, logger: logger}
}

func (f *Fallback) Analyze(ctx context.Context, in AnalysisInput) (Analysis, error) {
	a, err := f.primary.Analyze(ctx, in)
	if err != nil {
		metrics.AdvisoryFailuresTotal.WithLabelValues("analyze").Inc()
		f.logger.Warn("advisory analyze failed, using canned analysis", "error", err)
		return CannedAnalysis(), nil
	}
	return a, nil
}

func (f *Fallback) Predict(ctx context.Context, asset, timeframe string, currentPrice float64) (Prediction, error) {
	p, err := f.primary.Predict(ctx, asset, timeframe, currentPrice)
	if err != nil {
		metrics.AdvisoryFailuresTotal.WithLabelValues("predict").Inc()
		f.logger.Warn("advisory predict failed, using technical estimate", "asset", asset, "error", err)
		return technicalPrediction(f.rnd, asset, timeframe, currentPrice,
			"AI prediction temporarily unavailable, using technical analysis"), nil
	}
	return p, nil
}

func (f *Fallback) Optimize(ctx context.Context, positions map[string]float64, prefs Preferences) (Optimization, error) {
	o, err := f.primary.Optimize(ctx, positions, prefs)
	if err != nil {
		metrics.AdvisoryFailuresTotal.WithLabelValues("optimize").Inc()
		return Optimization{}, fmt.Errorf("%w: %v", ErrOptimization, err)
	}
	return o, nil
}
