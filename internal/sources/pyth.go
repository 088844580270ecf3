package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

const pythHermesLatest = "https://hermes.pyth.network/v2/updates/price/latest"

// ErrNoPrice means the feed answered but carried no usable price.
var ErrNoPrice = errors.New("no price in feed response")

type hermesResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price decimal.Decimal `json:"price"`
			Conf  decimal.Decimal `json:"conf"`
			Expo  int32           `json:"expo"`
		} `json:"price"`
	} `json:"parsed"`
}

// Pyth fetches the latest price for a feed from a Hermes endpoint. Calls go
// through a circuit breaker so a dead endpoint fails fast.
type Pyth struct {
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

func NewPyth() *Pyth {
	st := gobreaker.Settings{Name: "pyth"}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 5 }
	st.Timeout = 30 * time.Second
	return &Pyth{
		client: &http.Client{Timeout: 10 * time.Second},
		cb:     gobreaker.NewCircuitBreaker(st),
	}
}

func (p *Pyth) Name() string { return "pyth" }

// FetchPrice returns price·10^expo for feedID. A response without the feed
// yields ErrNoPrice.
func (p *Pyth) FetchPrice(ctx context.Context, feedID, endpoint string) (float64, error) {
	if endpoint == "" {
		endpoint = pythHermesLatest
	}
	v, err := p.cb.Execute(func() (interface{}, error) {
		return p.fetch(ctx, feedID, endpoint)
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (p *Pyth) fetch(ctx context.Context, feedID, endpoint string) (float64, error) {
	u := endpoint + "?" + url.Values{"ids[]": {feedID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("build pyth request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("pyth hermes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("pyth hermes status: %d", resp.StatusCode)
	}

	var hr hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return 0, fmt.Errorf("decode pyth: %w", err)
	}

	for _, entry := range hr.Parsed {
		if !strings.EqualFold(strings.TrimPrefix(entry.ID, "0x"), strings.TrimPrefix(feedID, "0x")) {
			continue
		}
		if entry.Price.Price.IsZero() {
			return 0, ErrNoPrice
		}
		return entry.Price.Price.Shift(entry.Price.Expo).InexactFloat64(), nil
	}
	return 0, ErrNoPrice
}
