package risk

// Kind selects which metrics a query is about.
type Kind string

const (
	KindLiquidity Kind = "liquidity"
	KindAPR       Kind = "apr"
)

// Valid reports whether k is a known query kind.
func (k Kind) Valid() bool { return k == KindLiquidity || k == KindAPR }

// Level is the coarse bucket of an overall score.
type Level string

const (
	Low    Level = "Low"
	Medium Level = "Medium"
	High   Level = "High"
)

// Metrics is the union of liquidity and staking figures; only the fields
// relevant to the query kind are read.
type Metrics struct {
	TotalLiquidity float64  `json:"total_liquidity,omitempty"`
	AssetTypes     []string `json:"asset_types,omitempty"`
	APR            float64  `json:"apr,omitempty"`
	Delegators     int      `json:"delegators,omitempty"`
}

// Assessment is the outcome of Score.
type Assessment struct {
	Overall int      `json:"overall"`
	Level   Level    `json:"level"`
	Factors []string `json:"factors"`
}

const baseline = 50

var factors = []string{"Liquidity analysis", "Protocol maturity", "Market conditions"}

// Score is deterministic: baseline 50 adjusted by liquidity or APR bands,
// clamped to [0, 100].
func Score(m Metrics, kind Kind) Assessment {
	score := baseline
	switch kind {
	case KindLiquidity:
		if m.TotalLiquidity < 50_000 {
			score += 20
		}
		if m.TotalLiquidity > 500_000 {
			score -= 15
		}
	default:
		if m.APR > 30 {
			score += 25
		}
		if m.APR < 5 {
			score -= 10
		}
	}
	score = max(0, min(100, score))

	return Assessment{
		Overall: score,
		Level:   bucket(score),
		Factors: append([]string(nil), factors...),
	}
}

func bucket(score int) Level {
	switch {
	case score < 30:
		return Low
	case score < 70:
		return Medium
	default:
		return High
	}
}

// LiquidityDepth labels a pool by total liquidity.
func LiquidityDepth(totalLiquidity float64) string {
	switch {
	case totalLiquidity > 1_000_000:
		return "Deep"
	case totalLiquidity > 100_000:
		return "Medium"
	default:
		return "Shallow"
	}
}

// StakingHealth labels a staking pool by APR and delegator count.
func StakingHealth(apr float64, delegators int) string {
	switch {
	case apr > 15 && delegators > 100:
		return "Excellent"
	case apr > 10 && delegators > 50:
		return "Good"
	case apr > 5:
		return "Fair"
	default:
		return "Poor"
	}
}
