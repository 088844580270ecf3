// Package synth produces plausible substitute values when an upstream data
// source is unavailable. All randomness comes from an injected Rand so tests
// can pin the output.
package synth

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/web3-frozen/defilens/internal/metrics"
)

// Rand yields floats in [0, 1).
type Rand interface {
	Float64() float64
}

// lockedRand makes a *rand.Rand safe for concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// NewRand returns a goroutine-safe Rand seeded with seed.
func NewRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// NewTimeSeededRand seeds from the wall clock.
func NewTimeSeededRand() Rand {
	return NewRand(time.Now().UnixNano())
}

// Fixed yields the same value forever.
type Fixed float64

func (f Fixed) Float64() float64 { return float64(f) }

// Sequence cycles through the given values.
type Sequence struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

func NewSequence(vals ...float64) *Sequence { return &Sequence{vals: vals} }

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.vals) == 0 {
		return 0
	}
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

// Baselines for substitute prices.
const (
	LiquidityPriceBaseline = 4.73
	LiquidityPriceSpread   = 0.2
	APRPriceBaseline       = 67420.0
	APRPriceSpread         = 1000.0
)

// Synthesizer draws substitute values from fixed baselines plus bounded jitter.
type Synthesizer struct {
	rnd Rand
}

func New(r Rand) *Synthesizer {
	if r == nil {
		r = NewTimeSeededRand()
	}
	return &Synthesizer{rnd: r}
}

// Rand exposes the underlying source so collaborators share one stream.
func (s *Synthesizer) Rand() Rand { return s.rnd }

// LiquidityPrice is baseline ± spread/2.
func (s *Synthesizer) LiquidityPrice() float64 {
	metrics.SynthesizedTotal.WithLabelValues("price").Inc()
	return LiquidityPriceBaseline + (s.rnd.Float64()-0.5)*LiquidityPriceSpread
}

// APRPrice is baseline ± spread/2.
func (s *Synthesizer) APRPrice() float64 {
	metrics.SynthesizedTotal.WithLabelValues("price").Inc()
	return APRPriceBaseline + (s.rnd.Float64()-0.5)*APRPriceSpread
}

// TotalLiquidity is a substitute pool size in [100000, 1100000).
func (s *Synthesizer) TotalLiquidity() float64 {
	metrics.SynthesizedTotal.WithLabelValues("liquidity").Inc()
	return math.Floor(s.rnd.Float64()*1_000_000) + 100_000
}

// StakingAPR is a substitute APR in [5, 30).
func (s *Synthesizer) StakingAPR() float64 {
	metrics.SynthesizedTotal.WithLabelValues("apr").Inc()
	return math.Floor(s.rnd.Float64()*25) + 5
}

// Delegators is a substitute delegator count in [50, 1050).
func (s *Synthesizer) Delegators() int {
	metrics.SynthesizedTotal.WithLabelValues("delegators").Inc()
	return int(math.Floor(s.rnd.Float64()*1000)) + 50
}
