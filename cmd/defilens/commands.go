package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/web3-frozen/defilens/internal/advisory"
	"github.com/web3-frozen/defilens/internal/alert"
	"github.com/web3-frozen/defilens/internal/events"
	"github.com/web3-frozen/defilens/internal/lens"
	"github.com/web3-frozen/defilens/internal/opportunity"
	"github.com/web3-frozen/defilens/internal/risk"
)

const cliAlertThreshold = 0.05

func queryCmd(service func() *lens.Service, out *emitter) *cobra.Command {
	var (
		pool       string
		feed       string
		kind       string
		ai         bool
		prediction bool
		withRisk   bool
	)
	cmd := &cobra.Command{
		Use:     "query <question>",
		Aliases: []string{"analyze"},
		Short:   "Answer a pool query with metrics, price and optional analysis",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if pool == "" {
				return errors.New("--pool is required")
			}
			res := service().Answer(cmd.Context(), lens.Request{
				Query:       args[0],
				PoolAddress: pool,
				FeedKey:     feed,
				Kind:        risk.Kind(strings.ToLower(kind)),
				Options:     lens.Options{IncludeAI: ai, IncludePrediction: prediction, IncludeRisk: withRisk},
			})
			if err := out.emit(res); err != nil {
				return err
			}
			if res.Failed() {
				return errors.New(res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "pool address")
	cmd.Flags().StringVar(&feed, "feed", "aptUsd", "price feed key")
	cmd.Flags().StringVar(&kind, "kind", string(risk.KindLiquidity), "query kind (liquidity|apr)")
	cmd.Flags().BoolVar(&ai, "ai", false, "include AI analysis")
	cmd.Flags().BoolVar(&prediction, "prediction", false, "include price prediction")
	cmd.Flags().BoolVar(&withRisk, "risk", false, "include risk score")
	return cmd
}

func discoverCmd(service func() *lens.Service, out *emitter) *cobra.Command {
	var (
		minAPY    float64
		minTVL    float64
		maxRisk   string
		protocols string
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Rank yield opportunities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := opportunity.Filter{MaxRisk: strings.ToLower(maxRisk)}
			switch f.MaxRisk {
			case opportunity.RiskLow, opportunity.RiskMedium, opportunity.RiskHigh:
			default:
				return fmt.Errorf("--max-risk must be low, medium or high, got %q", maxRisk)
			}
			if cmd.Flags().Changed("min-apy") {
				f.MinAPY = &minAPY
			}
			if cmd.Flags().Changed("min-tvl") {
				f.MinTVL = &minTVL
			}
			for _, p := range strings.Split(protocols, ",") {
				if p = strings.TrimSpace(p); p != "" {
					f.Protocols = append(f.Protocols, p)
				}
			}
			return out.emit(service().Discover(cmd.Context(), f))
		},
	}
	cmd.Flags().Float64Var(&minAPY, "min-apy", 0, "minimum APY percentage")
	cmd.Flags().Float64Var(&minTVL, "min-tvl", 0, "minimum TVL in USD")
	cmd.Flags().StringVar(&maxRisk, "max-risk", opportunity.RiskHigh, "maximum risk level (low|medium|high)")
	cmd.Flags().StringVar(&protocols, "protocols", "", "comma-separated protocols")
	return cmd
}

func predictCmd(service func() *lens.Service, out *emitter) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <asset> [timeframe]",
		Short: "Forecast an asset price",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeframe := "24h"
			if len(args) == 2 {
				timeframe = args[1]
			}
			p, err := service().Predict(cmd.Context(), args[0], timeframe)
			if err != nil {
				return err
			}
			return out.emit(p)
		},
	}
}

func optimizeCmd(service func() *lens.Service, out *emitter) *cobra.Command {
	var (
		tolerance    float64
		targetReturn float64
	)
	cmd := &cobra.Command{
		Use:   "optimize <portfolio>",
		Short: "Suggest a portfolio reallocation from a JSON file or inline JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := readPortfolio(args[0])
			if err != nil {
				return err
			}
			if tolerance < 1 || tolerance > 10 {
				return fmt.Errorf("--risk-tolerance must be between 1 and 10, got %v", tolerance)
			}
			prefs := advisory.Preferences{RiskTolerance: tolerance}
			if cmd.Flags().Changed("target-return") {
				tr := targetReturn / 100
				prefs.TargetReturn = &tr
			}
			o, err := service().Optimize(cmd.Context(), positions, prefs)
			if err != nil {
				return err
			}
			return out.emit(o)
		},
	}
	cmd.Flags().Float64Var(&tolerance, "risk-tolerance", 5, "risk tolerance 1-10")
	cmd.Flags().Float64Var(&targetReturn, "target-return", 0, "target return percentage")
	return cmd
}

// readPortfolio accepts a path to a JSON file or the JSON itself.
func readPortfolio(arg string) (map[string]float64, error) {
	raw := []byte(arg)
	if data, err := os.ReadFile(arg); err == nil {
		raw = data
	}
	var positions map[string]float64
	if err := json.Unmarshal(raw, &positions); err != nil {
		return nil, fmt.Errorf("parse portfolio: %w", err)
	}
	if len(positions) == 0 {
		return nil, errors.New("portfolio has no positions")
	}
	return positions, nil
}

func monitorCmd(service func() *lens.Service, out *emitter) *cobra.Command {
	var (
		withAlerts bool
		updates    bool
		duration   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "monitor <addresses...>",
		Short: "Stream monitoring events for addresses until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			svc := service()
			bus := svc.Bus()
			alerts := bus.SubscribeAlerts(func(a events.Alert) { _ = out.emit(a) })
			defer alerts.Unsubscribe()
			if updates {
				sub := bus.SubscribeUpdates(func(u events.Update) { _ = out.emit(u) })
				defer sub.Unsubscribe()
			}

			if withAlerts {
				for _, addr := range args {
					rule := alert.Rule{Type: alert.TypePriceChange, Threshold: cliAlertThreshold}
					if err := svc.SetAlert(addr, rule); err != nil {
						return err
					}
				}
			}

			if !svc.StartMonitoring(ctx, args) {
				return errors.New("monitoring already running")
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&withAlerts, "alerts", false, "register a price_change rule for each address")
	cmd.Flags().BoolVar(&updates, "updates", false, "also print raw updates")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}
