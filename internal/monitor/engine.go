package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/web3-frozen/defilens/internal/events"
	"github.com/web3-frozen/defilens/internal/metrics"
	"github.com/web3-frozen/defilens/internal/synth"
)

const (
	DefaultInterval        = 5 * time.Second
	opportunityProbability = 0.10
	updateKind             = "price_update"
	opportunityType        = "opportunity"
)

// Evaluator checks alert rules against a fresh update.
type Evaluator interface {
	Evaluate(address string, update events.Update) []events.Alert
}

// Engine periodically emits an update per monitored address, runs it
// through the rule evaluator and occasionally reports a discovered
// opportunity. One engine runs at most one monitoring session.
type Engine struct {
	logger    *slog.Logger
	bus       *events.Bus
	rules     Evaluator
	rnd       synth.Rand
	interval  time.Duration
	now       func() time.Time
	mu        sync.RWMutex
	running   bool
	addresses []string
}

func NewEngine(bus *events.Bus, rules Evaluator, rnd synth.Rand, interval time.Duration, logger *slog.Logger) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if rnd == nil {
		rnd = synth.NewTimeSeededRand()
	}
	return &Engine{
		logger:   logger,
		bus:      bus,
		rules:    rules,
		rnd:      rnd,
		interval: interval,
		now:      time.Now,
	}
}

// Interval returns the tick period.
func (e *Engine) Interval() time.Duration { return e.interval }

// Running reports whether a session is active.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Addresses returns the addresses of the active session.
func (e *Engine) Addresses() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.addresses...)
}

// Start begins monitoring addresses until ctx is cancelled. If a session is
// already running it does nothing and returns false; the running session
// keeps its original address set.
func (e *Engine) Start(ctx context.Context, addresses []string) bool {
	e.mu.Lock()
	if e.running {
		n := len(e.addresses)
		e.mu.Unlock()
		e.logger.Info("already monitoring", "addresses", n)
		return false
	}
	e.running = true
	e.addresses = append([]string(nil), addresses...)
	e.mu.Unlock()

	metrics.MonitoredAddresses.Set(float64(len(addresses)))
	e.logger.Info("monitoring started", "addresses", len(addresses), "interval", e.interval)
	go e.run(ctx)
	return true
}

func (e *Engine) run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.running = false
			e.addresses = nil
			e.mu.Unlock()
			metrics.MonitoredAddresses.Set(0)
			e.logger.Info("monitoring stopped")
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick visits every monitored address once.
func (e *Engine) tick() {
	metrics.MonitorTicksTotal.Inc()
	for _, addr := range e.Addresses() {
		u := events.NewUpdate(addr, updateKind, e.rnd.Float64()*100, e.now())
		e.bus.PublishUpdate(u)
		if e.rules != nil {
			e.rules.Evaluate(addr, u)
		}

		if e.rnd.Float64() < opportunityProbability {
			a := events.NewAlert(addr, opportunityType,
				fmt.Sprintf("New high-yield opportunity detected at %s", addr),
				events.SeverityMedium, e.now())
			metrics.AlertsFiredTotal.WithLabelValues(opportunityType, string(a.Severity)).Inc()
			e.bus.PublishAlert(a)
		}
	}
}
