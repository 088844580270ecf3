package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/web3-frozen/defilens/internal/advisory"
	"github.com/web3-frozen/defilens/internal/config"
	"github.com/web3-frozen/defilens/internal/lens"
	"github.com/web3-frozen/defilens/internal/sources"
	"github.com/web3-frozen/defilens/internal/synth"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := Execute(ctx, func() *lens.Service { return newService(logger) }, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newService(logger *slog.Logger) *lens.Service {
	cfg := config.Load()
	syn := synth.New(nil)
	return lens.New(lens.Deps{
		Network:         cfg.Network,
		Protocol:        sources.NewAptos(cfg.Network.GraphQLURL, syn),
		Prices:          sources.NewPyth(),
		Advisor:         advisory.New(cfg.OpenAIAPIKey, syn.Rand(), logger),
		Synth:           syn,
		CacheTTL:        cfg.CacheTTL,
		MonitorInterval: cfg.MonitorInterval,
		Logger:          logger,
	})
}
