package lens

import (
	"context"
	"errors"
	"fmt"

	"github.com/web3-frozen/defilens/internal/advisory"
	"github.com/web3-frozen/defilens/internal/alert"
	"github.com/web3-frozen/defilens/internal/events"
	"github.com/web3-frozen/defilens/internal/opportunity"
)

// referencePrices stand in for assets whose live price cannot be read.
var referencePrices = map[string]float64{
	"aptUsd": 4.73,
	"btcUsd": 67420.50,
	"ethUsd": 3780.25,
}

// Discover generates candidate opportunities and ranks those passing f.
func (s *Service) Discover(_ context.Context, f opportunity.Filter) []opportunity.Opportunity {
	ranked := opportunity.Rank(s.opps.Generate(), f)
	s.logger.Info("opportunities discovered", "count", len(ranked))
	return ranked
}

// Predict forecasts asset over timeframe starting from its current price.
func (s *Service) Predict(ctx context.Context, asset, timeframe string) (advisory.Prediction, error) {
	p, err := s.advisor.Predict(ctx, asset, timeframe, s.currentPrice(ctx, asset))
	if err != nil {
		return advisory.Prediction{}, fmt.Errorf("predict %s: %w", asset, err)
	}
	return p, nil
}

// currentPrice reads the live feed price for asset when the key is a known
// feed, and otherwise uses a fixed reference price (1.0 for unknown assets).
func (s *Service) currentPrice(ctx context.Context, asset string) float64 {
	if feedID, ok := s.network.FeedIDs[asset]; ok {
		price, err := s.prices.FetchPrice(ctx, feedID, s.network.PriceAPIURL)
		if err == nil && price > 0 {
			return price
		}
		s.logger.Warn("live price unavailable, using reference", "asset", asset, "error", err)
	}
	if p, ok := referencePrices[asset]; ok {
		return p
	}
	return 1.0
}

// Optimize suggests a reallocation of positions. Failures are always
// reported as advisory.ErrOptimization.
func (s *Service) Optimize(ctx context.Context, positions map[string]float64, prefs advisory.Preferences) (advisory.Optimization, error) {
	o, err := s.advisor.Optimize(ctx, positions, prefs)
	if err != nil {
		if !errors.Is(err, advisory.ErrOptimization) {
			err = fmt.Errorf("%w: %v", advisory.ErrOptimization, err)
		}
		s.logger.Error("portfolio optimization failed", "positions", len(positions), "error", err)
		return advisory.Optimization{}, err
	}
	return o, nil
}

// StartMonitoring starts the monitoring loop over addresses. It returns
// false when a session is already running.
func (s *Service) StartMonitoring(ctx context.Context, addresses []string) bool {
	return s.monitor.Start(ctx, addresses)
}

// MonitorStatus reports whether monitoring runs and over which addresses.
func (s *Service) MonitorStatus() (bool, []string) {
	return s.monitor.Running(), s.monitor.Addresses()
}

// SetAlert registers rule for address, replacing any rule of the same type.
func (s *Service) SetAlert(address string, rule alert.Rule) error {
	rule.Type = alert.NormalizeType(rule.Type)
	if !alert.ValidType(rule.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidAlertType, rule.Type)
	}
	if address == "" {
		return errors.New("alert address is required")
	}
	s.alerts.Register(address, rule)
	return nil
}

// RemoveAlert drops the rule for (address, type) and reports whether one
// existed.
func (s *Service) RemoveAlert(address, ruleType string) bool {
	return s.alerts.Remove(address, alert.NormalizeType(ruleType))
}

// AlertRules lists registered rules.
func (s *Service) AlertRules() []alert.Registered {
	return s.alerts.Rules()
}

// Subscribe attaches fn to topic on the event bus.
func (s *Service) Subscribe(topic events.Topic, fn events.Handler) *events.Subscription {
	return s.bus.Subscribe(topic, fn)
}
