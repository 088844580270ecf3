package advisory

import (
	"context"
	"maps"

	"github.com/web3-frozen/defilens/internal/synth"
)

// CannedAnalysis is served whenever a real analysis cannot be produced.
func CannedAnalysis() Analysis {
	return Analysis{
		Insights: []string{
			"Protocol shows stable liquidity patterns",
			"Price action indicates moderate volatility",
			"Consider dollar-cost averaging for risk management",
		},
		Risk: AnalysisRisk{
			Overall:    45,
			Categories: RiskCategories{SmartContract: 30, Liquidity: 50, Market: 55},
			Warnings:   []string{"Monitor for sudden liquidity changes"},
		},
		Opportunities: []string{"Potential yield farming opportunity"},
		Confidence:    70,
	}
}

// technicalPrediction moves the current price by up to ±5%.
func technicalPrediction(rnd synth.Rand, asset, timeframe string, currentPrice float64, reasoning string) Prediction {
	return Prediction{
		Asset:          asset,
		CurrentPrice:   currentPrice,
		PredictedPrice: currentPrice * (1 + (rnd.Float64()-0.5)*0.1),
		Confidence:     75,
		Timeframe:      timeframe,
		Reasoning:      reasoning,
		Signals:        Signals{Technical: 0.2, Fundamental: 0.1, Sentiment: 0},
	}
}

// Null answers every call with canned content. It is used when no
// credential is configured.
type Null struct {
	rnd synth.Rand
}

func NewNull(rnd synth.Rand) *Null {
	if rnd == nil {
		rnd = synth.NewTimeSeededRand()
	}
	return &Null{rnd: rnd}
}

func (n *Null) Analyze(context.Context, AnalysisInput) (Analysis, error) {
	return CannedAnalysis(), nil
}

func (n *Null) Predict(_ context.Context, asset, timeframe string, currentPrice float64) (Prediction, error) {
	return technicalPrediction(n.rnd, asset, timeframe, currentPrice,
		"AI prediction requires OpenAI API key. Using technical analysis."), nil
}

func (n *Null) Optimize(_ context.Context, positions map[string]float64, prefs Preferences) (Optimization, error) {
	return Optimization{
		CurrentValue:        portfolioValue(positions),
		SuggestedAllocation: maps.Clone(positions),
		ExpectedReturn:      0.12,
		RiskScore:           prefs.RiskTolerance,
		Actions: []Action{
			{Type: "hold", Asset: "APT", Amount: 0, Reason: "AI optimization requires OpenAI API key"},
		},
	}, nil
}
