package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/web3-frozen/defilens/internal/synth"
)

const aptosGraphQLTestnet = "https://api.testnet.aptoslabs.com/v1/graphql"

const liquidityQuery = `
query GetLiquidityDetails($address: String!) {
  current_fungible_asset_balances(
    where: {owner_address: {_eq: $address}}
    order_by: {amount: desc}
  ) {
    asset_type
    amount
  }
}`

const stakingQuery = `
query GetStakingPoolDetails($poolAddress: String!) {
  delegated_staking_activities(
    where: {staking_pool_address: {_eq: $poolAddress}}
  ) {
    staking_pool_address
    apr
    delegator_count
  }
}`

// Liquidity is the fungible-asset position of a pool.
type Liquidity struct {
	TotalLiquidity float64  `json:"total_liquidity"`
	AssetTypes     []string `json:"asset_types"`
}

// Staking describes a delegated staking pool.
type Staking struct {
	APR        float64 `json:"apr"`
	Delegators int     `json:"delegators"`
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type balancesResponse struct {
	Data struct {
		Balances []struct {
			AssetType string          `json:"asset_type"`
			Amount    decimal.Decimal `json:"amount"`
		} `json:"current_fungible_asset_balances"`
	} `json:"data"`
}

type stakingResponse struct {
	Data struct {
		Activities []struct {
			PoolAddress    string          `json:"staking_pool_address"`
			APR            decimal.Decimal `json:"apr"`
			DelegatorCount int             `json:"delegator_count"`
		} `json:"delegated_staking_activities"`
	} `json:"data"`
}

// Aptos reads pool liquidity and staking figures from the Aptos indexer.
// When the indexer answers with no rows the figures are simulated, so a
// pool the indexer does not know still gets plausible numbers.
type Aptos struct {
	client  *http.Client
	baseURL string
	synth   *synth.Synthesizer
}

func NewAptos(graphQLURL string, s *synth.Synthesizer) *Aptos {
	if graphQLURL == "" {
		graphQLURL = aptosGraphQLTestnet
	}
	return &Aptos{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: graphQLURL,
		synth:   s,
	}
}

func (a *Aptos) Name() string { return "aptos" }

// FetchLiquidity sums fungible balances held by poolAddress.
func (a *Aptos) FetchLiquidity(ctx context.Context, poolAddress string) (Liquidity, error) {
	var resp balancesResponse
	if err := a.query(ctx, liquidityQuery, map[string]any{"address": poolAddress}, &resp); err != nil {
		return Liquidity{}, err
	}

	total := decimal.Zero
	types := make([]string, 0, len(resp.Data.Balances))
	for _, b := range resp.Data.Balances {
		total = total.Add(b.Amount)
		types = append(types, b.AssetType)
	}

	out := Liquidity{TotalLiquidity: total.InexactFloat64(), AssetTypes: types}
	if out.TotalLiquidity == 0 && a.synth != nil {
		out.TotalLiquidity = a.synth.TotalLiquidity()
	}
	return out, nil
}

// FetchStakingAPR reads the first staking activity row for poolAddress.
func (a *Aptos) FetchStakingAPR(ctx context.Context, poolAddress string) (Staking, error) {
	var resp stakingResponse
	if err := a.query(ctx, stakingQuery, map[string]any{"poolAddress": poolAddress}, &resp); err != nil {
		return Staking{}, err
	}

	var out Staking
	if len(resp.Data.Activities) > 0 {
		out.APR = resp.Data.Activities[0].APR.InexactFloat64()
		out.Delegators = resp.Data.Activities[0].DelegatorCount
	}
	if a.synth != nil {
		if out.APR == 0 {
			out.APR = a.synth.StakingAPR()
		}
		if out.Delegators == 0 {
			out.Delegators = a.synth.Delegators()
		}
	}
	return out, nil
}

func (a *Aptos) query(ctx context.Context, query string, vars map[string]any, dst any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("aptos graphql: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("aptos graphql status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode aptos graphql: %w", err)
	}
	return nil
}
