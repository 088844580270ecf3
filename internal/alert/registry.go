package alert

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/web3-frozen/defilens/internal/events"
	"github.com/web3-frozen/defilens/internal/metrics"
)

// Rule types.
const (
	TypePriceChange   = "price_change"
	TypeLiquidityDrop = "liquidity_drop"
	TypeVolumeSpike   = "volume_spike"
	TypeRiskIncrease  = "risk_increase"
)

// priceMidpoint is the fixed reference value price_change rules measure
// deviation from. Monitor updates are drawn from [0, 100).
const priceMidpoint = 50.0

// ValidType reports whether t is a known rule type.
func ValidType(t string) bool {
	switch t {
	case TypePriceChange, TypeLiquidityDrop, TypeVolumeSpike, TypeRiskIncrease:
		return true
	}
	return false
}

// Rule is a registered alert condition.
type Rule struct {
	Type      string            `json:"type"`
	Threshold float64           `json:"threshold"`
	Callback  func(events.Alert) `json:"-"`
}

// Registered is a rule together with the address it watches.
type Registered struct {
	Address string `json:"address"`
	Rule
}

type entry struct {
	address string
	rule    Rule
	sub     *events.Subscription
}

// Registry stores one rule per (address, type). Registering the same key
// again replaces the previous rule.
type Registry struct {
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time
	mu     sync.RWMutex
	rules  map[string]entry
}

func NewRegistry(bus *events.Bus, logger *slog.Logger) *Registry {
	return &Registry{
		bus:    bus,
		logger: logger,
		now:    time.Now,
		rules:  make(map[string]entry),
	}
}

// Key builds the registry key for an address and rule type.
func Key(address, ruleType string) string {
	return address + ":" + ruleType
}

// Register stores rule for address. A rule callback is also attached to the
// alert topic, so it hears every alert on the bus as well as direct fires.
func (r *Registry) Register(address string, rule Rule) {
	key := Key(address, rule.Type)

	var sub *events.Subscription
	if rule.Callback != nil {
		sub = r.bus.SubscribeAlerts(rule.Callback)
	}

	r.mu.Lock()
	prev, replaced := r.rules[key]
	r.rules[key] = entry{address: address, rule: rule, sub: sub}
	n := len(r.rules)
	r.mu.Unlock()

	if replaced && prev.sub != nil {
		prev.sub.Unsubscribe()
	}
	metrics.AlertRules.Set(float64(n))
	r.logger.Info("alert rule registered", "address", address, "type", rule.Type, "threshold", rule.Threshold, "replaced", replaced)
}

// Remove deletes the rule for (address, type). It reports whether one existed.
func (r *Registry) Remove(address, ruleType string) bool {
	key := Key(address, ruleType)
	r.mu.Lock()
	e, ok := r.rules[key]
	delete(r.rules, key)
	n := len(r.rules)
	r.mu.Unlock()

	if ok && e.sub != nil {
		e.sub.Unsubscribe()
	}
	metrics.AlertRules.Set(float64(n))
	return ok
}

// Rules returns a snapshot sorted by key.
func (r *Registry) Rules() []Registered {
	r.mu.RLock()
	keys := make([]string, 0, len(r.rules))
	for k := range r.rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Registered, 0, len(keys))
	for _, k := range keys {
		e := r.rules[k]
		out = append(out, Registered{Address: e.address, Rule: e.rule})
	}
	r.mu.RUnlock()
	return out
}

// Evaluate checks every price_change rule for address against update and
// fires a high-severity alert when the value strays from the midpoint by
// more than threshold*50. A fired alert is published on the bus and also
// handed to the rule's own callback.
func (r *Registry) Evaluate(address string, update events.Update) []events.Alert {
	r.mu.RLock()
	var matched []Rule
	for _, e := range r.rules {
		if e.address == address && e.rule.Type == TypePriceChange {
			matched = append(matched, e.rule)
		}
	}
	r.mu.RUnlock()

	var fired []events.Alert
	for _, rule := range matched {
		if !Exceeds(update.Value, rule.Threshold) {
			continue
		}
		a := events.NewAlert(address, rule.Type,
			fmt.Sprintf("Price change threshold exceeded for %s", address),
			events.SeverityHigh, r.now())
		v := update.Value
		a.Value = &v

		metrics.AlertsFiredTotal.WithLabelValues(rule.Type, string(a.Severity)).Inc()
		r.bus.PublishAlert(a)
		if rule.Callback != nil {
			rule.Callback(a)
		}
		fired = append(fired, a)
	}
	return fired
}

// Exceeds is the price_change condition.
func Exceeds(value, threshold float64) bool {
	return math.Abs(value-priceMidpoint) > threshold*priceMidpoint
}

// NormalizeType lowercases and trims a user-supplied rule type.
func NormalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
