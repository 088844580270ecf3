package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/defilens/internal/risk"
	"github.com/web3-frozen/defilens/internal/synth"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failing struct{}

func (failing) Analyze(context.Context, AnalysisInput) (Analysis, error) {
	return Analysis{}, ErrUnavailable
}

func (failing) Predict(context.Context, string, string, float64) (Prediction, error) {
	return Prediction{}, ErrUnavailable
}

func (failing) Optimize(context.Context, map[string]float64, Preferences) (Optimization, error) {
	return Optimization{}, errors.New("upstream 500")
}

func TestNewSelectsClient(t *testing.T) {
	c := New("", synth.Fixed(0.5), discard())
	_, ok := c.(*Null)
	assert.True(t, ok, "empty key should yield Null")
	assert.False(t, Enabled(c))

	c = New("sk-test", synth.Fixed(0.5), discard())
	_, ok = c.(*Fallback)
	assert.True(t, ok, "key should yield Fallback")
	assert.True(t, Enabled(c))

	assert.False(t, Enabled(nil))
}

func TestNullClient(t *testing.T) {
	n := NewNull(synth.Fixed(1))
	ctx := context.Background()

	a, err := n.Analyze(ctx, AnalysisInput{})
	require.NoError(t, err)
	assert.Equal(t, CannedAnalysis(), a)

	p, err := n.Predict(ctx, "APT", "24h", 10)
	require.NoError(t, err)
	assert.InDelta(t, 10.5, p.PredictedPrice, 1e-9)
	assert.Equal(t, 75.0, p.Confidence)
	assert.Contains(t, p.Reasoning, "requires OpenAI API key")

	o, err := n.Optimize(ctx, map[string]float64{"APT": 100, "USDC": 50}, Preferences{RiskTolerance: 5})
	require.NoError(t, err)
	assert.Equal(t, 150.0, o.CurrentValue)
	assert.Equal(t, 0.12, o.ExpectedReturn)
	assert.Equal(t, 5.0, o.RiskScore)
	require.Len(t, o.Actions, 1)
	assert.Equal(t, "hold", o.Actions[0].Type)
}

func TestFallbackOnFailure(t *testing.T) {
	f := WithFallback(failing{}, synth.Fixed(0), discard())
	ctx := context.Background()

	a, err := f.Analyze(ctx, AnalysisInput{})
	require.NoError(t, err)
	assert.Equal(t, CannedAnalysis(), a)

	p, err := f.Predict(ctx, "BTC", "7d", 100)
	require.NoError(t, err)
	assert.InDelta(t, 95.0, p.PredictedPrice, 1e-9)
	assert.Contains(t, p.Reasoning, "temporarily unavailable")

	_, err = f.Optimize(ctx, map[string]float64{"APT": 1}, Preferences{RiskTolerance: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOptimization)
}

func newTestOpenAI(t *testing.T, reply string, status int) (*OpenAI, *chatRequest) {
	t.Helper()
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	o := NewOpenAI("sk-test")
	o.client = srv.Client()
	o.baseURL = srv.URL
	return o, &got
}

func TestOpenAIAnalyze(t *testing.T) {
	reply := `{"insights":["deep pool"],"risk":{"overall":20,"categories":{"smartContract":10,"liquidity":15,"market":30},"warnings":[]},"opportunities":["stake"],"confidence":88}`
	o, req := newTestOpenAI(t, reply, http.StatusOK)

	a, err := o.Analyze(context.Background(), AnalysisInput{
		Protocol: risk.Metrics{TotalLiquidity: 1e6},
		Price:    4.73,
		Query:    "liquidity",
		Kind:     risk.KindLiquidity,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"deep pool"}, a.Insights)
	assert.Equal(t, 20, a.Risk.Overall)
	assert.Equal(t, 15, a.Risk.Categories.Liquidity)
	assert.Equal(t, 88, a.Confidence)

	assert.Equal(t, "gpt-4", req.Model)
	assert.Equal(t, 500, req.MaxTokens)
	assert.Equal(t, 0.7, req.Temperature)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
}

func TestOpenAIPredictAndOptimize(t *testing.T) {
	o, req := newTestOpenAI(t, `{"predictedPrice":5.1,"confidence":64,"reasoning":"uptrend","signals":{"technical":0.4,"fundamental":0.2,"sentiment":-0.1}}`, http.StatusOK)
	p, err := o.Predict(context.Background(), "APT", "24h", 4.73)
	require.NoError(t, err)
	assert.Equal(t, "APT", p.Asset)
	assert.Equal(t, 4.73, p.CurrentPrice)
	assert.Equal(t, 5.1, p.PredictedPrice)
	assert.Equal(t, -0.1, p.Signals.Sentiment)
	assert.Equal(t, 300, req.MaxTokens)

	o, req = newTestOpenAI(t, `{"suggestedAllocation":{"APT":60,"USDC":40},"expectedReturn":0.09,"riskScore":4,"actions":[{"type":"sell","asset":"APT","amount":40,"reason":"rebalance"}]}`, http.StatusOK)
	opt, err := o.Optimize(context.Background(), map[string]float64{"APT": 100}, Preferences{RiskTolerance: 4})
	require.NoError(t, err)
	assert.Equal(t, 100.0, opt.CurrentValue)
	assert.Equal(t, 40.0, opt.SuggestedAllocation["USDC"])
	require.Len(t, opt.Actions, 1)
	assert.Equal(t, "sell", opt.Actions[0].Type)
	assert.Equal(t, 400, req.MaxTokens)
}

func TestOpenAIFailures(t *testing.T) {
	o, _ := newTestOpenAI(t, "", http.StatusOK)
	_, err := o.Analyze(context.Background(), AnalysisInput{})
	assert.ErrorIs(t, err, ErrUnavailable)

	o, _ = newTestOpenAI(t, "not json", http.StatusOK)
	_, err = o.Predict(context.Background(), "APT", "24h", 1)
	assert.ErrorIs(t, err, ErrUnavailable)

	o, _ = newTestOpenAI(t, "{}", http.StatusInternalServerError)
	_, err = o.Optimize(context.Background(), nil, Preferences{})
	assert.ErrorIs(t, err, ErrUnavailable)

	f := WithFallback(o, synth.Fixed(0.5), discard())
	p, err := f.Predict(context.Background(), "APT", "24h", 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.PredictedPrice)
}
