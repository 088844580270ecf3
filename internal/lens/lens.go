// Package lens answers DeFi pool queries. It composes the protocol and price
// sources, the advisory client, the result cache and the monitoring engine
// behind one Service.
package lens

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/web3-frozen/defilens/internal/advisory"
	"github.com/web3-frozen/defilens/internal/alert"
	"github.com/web3-frozen/defilens/internal/cache"
	"github.com/web3-frozen/defilens/internal/config"
	"github.com/web3-frozen/defilens/internal/events"
	"github.com/web3-frozen/defilens/internal/monitor"
	"github.com/web3-frozen/defilens/internal/opportunity"
	"github.com/web3-frozen/defilens/internal/risk"
	"github.com/web3-frozen/defilens/internal/sources"
	"github.com/web3-frozen/defilens/internal/synth"
)

var (
	// ErrUnknownFeed means the requested price feed key is not configured
	// for the active network.
	ErrUnknownFeed = errors.New("price feed not found for key")
	// ErrUnknownKind means the query kind is neither liquidity nor apr.
	ErrUnknownKind = errors.New("unsupported query kind")
	// ErrInvalidAlertType rejects rule types the registry does not know.
	ErrInvalidAlertType = errors.New("invalid alert type")
)

// ProtocolSource supplies on-chain pool metrics.
type ProtocolSource interface {
	FetchLiquidity(ctx context.Context, poolAddress string) (sources.Liquidity, error)
	FetchStakingAPR(ctx context.Context, poolAddress string) (sources.Staking, error)
}

// PriceSource supplies the latest price for a feed id.
type PriceSource interface {
	FetchPrice(ctx context.Context, feedID, endpoint string) (float64, error)
}

// Options select the optional sections of a Result. Field order is part of
// the cache key and must not change.
type Options struct {
	IncludeAI         bool `json:"includeAI"`
	IncludePrediction bool `json:"includePrediction"`
	IncludeRisk       bool `json:"includeRisk"`
}

// Request is one pool query.
type Request struct {
	Query       string    `json:"query"`
	PoolAddress string    `json:"pool_address"`
	FeedKey     string    `json:"feed_key"`
	Kind        risk.Kind `json:"kind"`
	Options     Options   `json:"options"`
}

// Row is one key/value line of the base metrics table.
type Row struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PriceQuote is always present on a successful Result.
type PriceQuote struct {
	Price       float64 `json:"price"`
	Synthesized bool    `json:"synthesized"`
}

// Result is the answer to a Request. A stored Result is never mutated.
type Result struct {
	Query       string               `json:"query"`
	PoolAddress string               `json:"pool_address"`
	FeedKey     string               `json:"feed_key"`
	Kind        risk.Kind            `json:"kind"`
	Title       string               `json:"title"`
	Rows        []Row                `json:"rows,omitempty"`
	Price       PriceQuote           `json:"price"`
	Insight     *advisory.Analysis   `json:"insight,omitempty"`
	Prediction  *advisory.Prediction `json:"prediction,omitempty"`
	Risk        *risk.Assessment     `json:"risk,omitempty"`
	Warnings    []string             `json:"warnings,omitempty"`
	Error       string               `json:"error,omitempty"`
	ComputedAt  time.Time            `json:"computed_at"`
}

// Failed reports whether r is a formatted error result.
func (r *Result) Failed() bool { return r.Error != "" }

// CacheKey derives the cache key of req. Equal requests always map to the
// same key.
func CacheKey(req Request) string {
	opts, _ := json.Marshal(req.Options)
	return req.PoolAddress + "-" + req.FeedKey + "-" + string(req.Kind) + "-" + string(opts)
}

// Deps are the collaborators of a Service. Protocol, Prices, Network and
// Logger are required; the rest default to fresh instances.
type Deps struct {
	Network         config.Network
	Protocol        ProtocolSource
	Prices          PriceSource
	Advisor         advisory.Client
	Synth           *synth.Synthesizer
	Cache           *cache.Cache[*Result]
	CacheTTL        time.Duration
	Bus             *events.Bus
	Alerts          *alert.Registry
	Monitor         *monitor.Engine
	MonitorInterval time.Duration
	Opportunities   *opportunity.Generator
	Logger          *slog.Logger
}

// Service is the query orchestrator.
type Service struct {
	network  config.Network
	protocol ProtocolSource
	prices   PriceSource
	advisor  advisory.Client
	synth    *synth.Synthesizer
	cache    *cache.Cache[*Result]
	bus      *events.Bus
	alerts   *alert.Registry
	monitor  *monitor.Engine
	opps     *opportunity.Generator
	logger   *slog.Logger
	now      func() time.Time
}

func New(d Deps) *Service {
	if d.Synth == nil {
		d.Synth = synth.New(nil)
	}
	if d.Advisor == nil {
		d.Advisor = advisory.NewNull(d.Synth.Rand())
	}
	if d.Cache == nil {
		d.Cache = cache.New[*Result](d.CacheTTL)
	}
	if d.Bus == nil {
		d.Bus = events.NewBus()
	}
	if d.Alerts == nil {
		d.Alerts = alert.NewRegistry(d.Bus, d.Logger)
	}
	if d.Monitor == nil {
		d.Monitor = monitor.NewEngine(d.Bus, d.Alerts, d.Synth.Rand(), d.MonitorInterval, d.Logger)
	}
	if d.Opportunities == nil {
		d.Opportunities = opportunity.NewGenerator(d.Synth.Rand(), nil)
	}
	return &Service{
		network:  d.Network,
		protocol: d.Protocol,
		prices:   d.Prices,
		advisor:  d.Advisor,
		synth:    d.Synth,
		cache:    d.Cache,
		bus:      d.Bus,
		alerts:   d.Alerts,
		monitor:  d.Monitor,
		opps:     d.Opportunities,
		logger:   d.Logger,
		now:      time.Now,
	}
}

// Network returns the active network.
func (s *Service) Network() config.Network { return s.network }

// Bus returns the event bus shared by the registry and the monitor.
func (s *Service) Bus() *events.Bus { return s.bus }

// AdvisoryEnabled reports whether a real advisory backend is configured.
func (s *Service) AdvisoryEnabled() bool { return advisory.Enabled(s.advisor) }
