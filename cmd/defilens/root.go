package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/web3-frozen/defilens/internal/lens"
)

// Execute runs the CLI. The service is built lazily so that --help never
// loads configuration.
func Execute(ctx context.Context, build func() *lens.Service, out io.Writer) error {
	return newRootCmd(build, out).ExecuteContext(ctx)
}

func newRootCmd(build func() *lens.Service, out io.Writer) *cobra.Command {
	var (
		once sync.Once
		svc  *lens.Service
	)
	service := func() *lens.Service {
		once.Do(func() { svc = build() })
		return svc
	}
	enc := &emitter{enc: json.NewEncoder(out)}
	enc.enc.SetIndent("", "  ")

	root := &cobra.Command{
		Use:           "defilens",
		Short:         "Aptos DeFi pool analytics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.AddCommand(
		queryCmd(service, enc),
		discoverCmd(service, enc),
		predictCmd(service, enc),
		optimizeCmd(service, enc),
		monitorCmd(service, enc),
	)
	return root
}

// emitter writes one JSON document per call. Monitor output arrives from
// bus goroutines, so writes are serialized.
type emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (e *emitter) emit(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(v)
}
