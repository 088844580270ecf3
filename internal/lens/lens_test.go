package lens

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/defilens/internal/advisory"
	"github.com/web3-frozen/defilens/internal/alert"
	"github.com/web3-frozen/defilens/internal/cache"
	"github.com/web3-frozen/defilens/internal/config"
	"github.com/web3-frozen/defilens/internal/events"
	"github.com/web3-frozen/defilens/internal/opportunity"
	"github.com/web3-frozen/defilens/internal/risk"
	"github.com/web3-frozen/defilens/internal/sources"
	"github.com/web3-frozen/defilens/internal/synth"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

type fakeProtocol struct {
	calls     atomic.Int32
	liquidity sources.Liquidity
	staking   sources.Staking
	err       error
}

func (f *fakeProtocol) FetchLiquidity(context.Context, string) (sources.Liquidity, error) {
	f.calls.Add(1)
	return f.liquidity, f.err
}

func (f *fakeProtocol) FetchStakingAPR(context.Context, string) (sources.Staking, error) {
	f.calls.Add(1)
	return f.staking, f.err
}

type fakePrices struct {
	calls atomic.Int32
	price float64
	err   error
}

func (f *fakePrices) FetchPrice(context.Context, string, string) (float64, error) {
	f.calls.Add(1)
	return f.price, f.err
}

type brokenAdvisor struct{}

func (brokenAdvisor) Analyze(context.Context, advisory.AnalysisInput) (advisory.Analysis, error) {
	return advisory.Analysis{}, advisory.ErrUnavailable
}

func (brokenAdvisor) Predict(context.Context, string, string, float64) (advisory.Prediction, error) {
	return advisory.Prediction{}, advisory.ErrUnavailable
}

func (brokenAdvisor) Optimize(context.Context, map[string]float64, advisory.Preferences) (advisory.Optimization, error) {
	return advisory.Optimization{}, errors.New("model overloaded")
}

type harness struct {
	svc      *Service
	clock    *fakeClock
	protocol *fakeProtocol
	prices   *fakePrices
}

func newHarness(t *testing.T, advisor advisory.Client) *harness {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	h := &harness{
		clock:    clk,
		protocol: &fakeProtocol{liquidity: sources.Liquidity{TotalLiquidity: 40_000, AssetTypes: []string{"0x1::aptos_coin::AptosCoin"}}},
		prices:   &fakePrices{price: 4.8},
	}
	h.svc = New(Deps{
		Network:  config.NetworkFor("testnet"),
		Protocol: h.protocol,
		Prices:   h.prices,
		Advisor:  advisor,
		Synth:    synth.New(synth.Fixed(0.5)),
		Cache:    cache.New[*Result](300 * time.Second).WithClock(clk.Now),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.svc.now = clk.Now
	return h
}

func liquidityRequest() Request {
	return Request{
		Query:       "How deep is the pool?",
		PoolAddress: "0xpool",
		FeedKey:     "aptUsd",
		Kind:        risk.KindLiquidity,
		Options:     Options{IncludeRisk: true},
	}
}

func TestAnswerCachesWithinTTL(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first := h.svc.Answer(ctx, liquidityRequest())
	require.False(t, first.Failed(), first.Error)
	assert.Equal(t, int32(1), h.protocol.calls.Load())
	assert.Equal(t, int32(1), h.prices.calls.Load())

	h.clock.Advance(299 * time.Second)
	second := h.svc.Answer(ctx, liquidityRequest())
	assert.Same(t, first, second, "hit must return the stored payload")
	assert.Equal(t, int32(1), h.protocol.calls.Load(), "no fetch on hit")
	assert.Equal(t, int32(1), h.prices.calls.Load(), "no fetch on hit")
}

func TestAnswerRefetchesAfterExpiry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first := h.svc.Answer(ctx, liquidityRequest())
	h.clock.Advance(301 * time.Second)
	second := h.svc.Answer(ctx, liquidityRequest())

	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), h.protocol.calls.Load())
	assert.Equal(t, int32(2), h.prices.calls.Load())
	assert.True(t, second.ComputedAt.After(first.ComputedAt))
}

func TestAnswerOptionsAreSeparateEntries(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	req := liquidityRequest()
	h.svc.Answer(ctx, req)
	req.Options.IncludeRisk = false
	h.svc.Answer(ctx, req)
	assert.Equal(t, int32(2), h.protocol.calls.Load())
}

func TestAnswerUnknownFeedMakesNoCalls(t *testing.T) {
	h := newHarness(t, nil)
	req := liquidityRequest()
	req.FeedKey = "dogeUsd"

	res := h.svc.Answer(context.Background(), req)
	require.True(t, res.Failed())
	assert.Contains(t, res.Error, "dogeUsd")
	assert.Equal(t, []string{errorTip}, res.Warnings)
	assert.Zero(t, h.protocol.calls.Load())
	assert.Zero(t, h.prices.calls.Load())

	_, ok := h.svc.cache.Get(CacheKey(req))
	assert.False(t, ok, "error results are not cached")
}

func TestAnswerUnknownKind(t *testing.T) {
	h := newHarness(t, nil)
	req := liquidityRequest()
	req.Kind = "volume"

	res := h.svc.Answer(context.Background(), req)
	require.True(t, res.Failed())
	assert.Zero(t, h.protocol.calls.Load())
}

func TestAnswerSynthesizesPriceOnFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.err = errors.New("hermes down")

	res := h.svc.Answer(context.Background(), liquidityRequest())
	require.False(t, res.Failed())
	assert.True(t, res.Price.Synthesized)
	assert.InDelta(t, 4.73, res.Price.Price, 1e-9)

	req := liquidityRequest()
	req.Kind = risk.KindAPR
	h.prices.err = nil
	h.prices.price = 0
	res = h.svc.Answer(context.Background(), req)
	assert.True(t, res.Price.Synthesized)
	assert.InDelta(t, 67420, res.Price.Price, 1e-9)
}

func TestAnswerScoresRisk(t *testing.T) {
	h := newHarness(t, nil)

	res := h.svc.Answer(context.Background(), liquidityRequest())
	require.NotNil(t, res.Risk)
	assert.Equal(t, 70, res.Risk.Overall)
	assert.Equal(t, risk.High, res.Risk.Level)
	assert.Nil(t, res.Insight, "advisory sections need a configured client")
	assert.Nil(t, res.Prediction)

	rows := map[string]string{}
	for _, r := range res.Rows {
		rows[r.Key] = r.Value
	}
	assert.Equal(t, "$4.800000", rows["Price"])
	assert.Equal(t, "40000 APT", rows["Total Liquidity"])
	assert.Equal(t, "Shallow", rows["Liquidity Depth"])
	assert.Equal(t, "1", rows["Asset Types"])
}

func TestAnswerProtocolFailureUsesZeroMetrics(t *testing.T) {
	h := newHarness(t, nil)
	h.protocol.err = errors.New("indexer timeout")

	req := liquidityRequest()
	req.Kind = risk.KindAPR
	res := h.svc.Answer(context.Background(), req)
	require.False(t, res.Failed())
	require.NotNil(t, res.Risk)
	// apr 0 < 5 lowers the baseline by 10.
	assert.Equal(t, 40, res.Risk.Overall)
}

func TestAnswerAdvisoryFailureAddsWarnings(t *testing.T) {
	h := newHarness(t, brokenAdvisor{})
	req := liquidityRequest()
	req.Options = Options{IncludeAI: true, IncludePrediction: true}

	res := h.svc.Answer(context.Background(), req)
	require.False(t, res.Failed())
	assert.Equal(t, []string{warnAnalysis, warnPrediction}, res.Warnings)
	assert.Nil(t, res.Insight)
	assert.Nil(t, res.Prediction)
}

func TestAnswerWithAdvisory(t *testing.T) {
	adv := advisory.WithFallback(brokenAdvisor{}, synth.Fixed(0.5), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := newHarness(t, adv)
	req := liquidityRequest()
	req.Options = Options{IncludeAI: true, IncludePrediction: true}

	res := h.svc.Answer(context.Background(), req)
	assert.Empty(t, res.Warnings)
	require.NotNil(t, res.Insight)
	assert.Equal(t, advisory.CannedAnalysis(), *res.Insight)
	require.NotNil(t, res.Prediction)
	assert.Equal(t, "aptUsd", res.Prediction.Asset)
	assert.Equal(t, 4.8, res.Prediction.PredictedPrice)
}

type panicProtocol struct{}

func (panicProtocol) FetchLiquidity(context.Context, string) (sources.Liquidity, error) {
	panic("nil pointer in decoder")
}

func (panicProtocol) FetchStakingAPR(context.Context, string) (sources.Staking, error) {
	panic("nil pointer in decoder")
}

func TestAnswerRecoversPanics(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.protocol = panicProtocol{}

	res := h.svc.Answer(context.Background(), liquidityRequest())
	require.True(t, res.Failed())
	assert.Contains(t, res.Error, "unexpected failure")
	_, ok := h.svc.cache.Get(CacheKey(liquidityRequest()))
	assert.False(t, ok)
}

func TestCacheKeyIsDeterministic(t *testing.T) {
	a := liquidityRequest()
	b := liquidityRequest()
	b.Query = "a different question"
	assert.Equal(t, CacheKey(a), CacheKey(b), "query text is not part of the key")
	assert.Equal(t, `0xpool-aptUsd-liquidity-{"includeAI":false,"includePrediction":false,"includeRisk":true}`, CacheKey(a))
}

func TestPredictUsesReferencePrices(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.err = errors.New("down")

	p, err := h.svc.Predict(context.Background(), "aptUsd", "24h")
	require.NoError(t, err)
	assert.Equal(t, 4.73, p.CurrentPrice)

	p, err = h.svc.Predict(context.Background(), "ethUsd", "7d")
	require.NoError(t, err)
	assert.Equal(t, 3780.25, p.CurrentPrice)

	p, err = h.svc.Predict(context.Background(), "solUsd", "7d")
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.CurrentPrice)

	h.prices.err = nil
	p, err = h.svc.Predict(context.Background(), "btcUsd", "24h")
	require.NoError(t, err)
	assert.Equal(t, 4.8, p.CurrentPrice)
}

func TestOptimizePropagatesFailure(t *testing.T) {
	h := newHarness(t, brokenAdvisor{})
	_, err := h.svc.Optimize(context.Background(), map[string]float64{"APT": 10}, advisory.Preferences{RiskTolerance: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, advisory.ErrOptimization)

	h = newHarness(t, nil)
	o, err := h.svc.Optimize(context.Background(), map[string]float64{"APT": 10}, advisory.Preferences{RiskTolerance: 5})
	require.NoError(t, err)
	assert.Equal(t, 10.0, o.CurrentValue)
}

func TestDiscoverRanks(t *testing.T) {
	h := newHarness(t, nil)
	minAPY := 0.0
	got := h.svc.Discover(context.Background(), opportunity.Filter{MinAPY: &minAPY})
	require.Len(t, got, len(opportunity.DefaultProtocols))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].AIScore, got[i].AIScore)
	}
}

func TestSetAlertAndMonitoring(t *testing.T) {
	h := newHarness(t, nil)

	err := h.svc.SetAlert("0xabc", alert.Rule{Type: "moon_shot", Threshold: 0.1})
	assert.ErrorIs(t, err, ErrInvalidAlertType)

	require.NoError(t, h.svc.SetAlert("0xabc", alert.Rule{Type: "Price_Change", Threshold: 0.1}))
	rules := h.svc.AlertRules()
	require.Len(t, rules, 1)
	assert.Equal(t, alert.TypePriceChange, rules[0].Type)

	var got atomic.Int32
	sub := h.svc.Subscribe(events.TopicAlert, func(events.Topic, any) { got.Add(1) })
	defer sub.Unsubscribe()
	h.svc.Bus().PublishAlert(events.NewAlert("0xabc", "price_change", "x", events.SeverityHigh, time.Now()))
	assert.Equal(t, int32(1), got.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.True(t, h.svc.StartMonitoring(ctx, []string{"0xabc"}))
	assert.False(t, h.svc.StartMonitoring(ctx, []string{"0xdef"}))
	running, addrs := h.svc.MonitorStatus()
	assert.True(t, running)
	assert.Equal(t, []string{"0xabc"}, addrs)
}
