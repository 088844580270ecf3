package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	openAIChatURL = "https://api.openai.com/v1/chat/completions"
	openAIModel   = "gpt-4"
	callTimeout   = 30 * time.Second
	systemPrompt  = "You are an expert Aptos DeFi analyst. Always respond with valid JSON when requested."
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// OpenAI talks to the chat-completions API. Calls are rate limited, bounded
// by a 30s timeout and routed through a circuit breaker.
type OpenAI struct {
	apiKey  string
	client  *http.Client
	baseURL string
	model   string
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
}

func NewOpenAI(apiKey string) *OpenAI {
	st := gobreaker.Settings{Name: "openai"}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 3 }
	st.Timeout = time.Minute
	return &OpenAI{
		apiKey:  apiKey,
		client:  &http.Client{Timeout: callTimeout},
		baseURL: openAIChatURL,
		model:   openAIModel,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		cb:      gobreaker.NewCircuitBreaker(st),
	}
}

func (o *OpenAI) Analyze(ctx context.Context, in AnalysisInput) (Analysis, error) {
	protocol, _ := json.Marshal(in.Protocol)
	prompt := fmt.Sprintf(`Analyze this Aptos DeFi protocol:

Protocol Data: %s
Price Data: {"price": %g}
Query: %q

Provide analysis in JSON format:
{
  "insights": ["insight1", "insight2", "insight3"],
  "risk": {
    "overall": number (0-100),
    "categories": {"smartContract": number (0-100), "liquidity": number (0-100), "market": number (0-100)},
    "warnings": ["warning1", "warning2"]
  },
  "opportunities": ["opportunity1", "opportunity2"],
  "confidence": number (0-100)
}`, protocol, in.Price, in.Query)

	var out Analysis
	if err := o.complete(ctx, prompt, 500, &out); err != nil {
		return Analysis{}, err
	}
	return out, nil
}

func (o *OpenAI) Predict(ctx context.Context, asset, timeframe string, currentPrice float64) (Prediction, error) {
	prompt := fmt.Sprintf(`You are an expert crypto analyst. Predict the price of %s for the next %s.

Current Price: $%g
Market Context: Aptos ecosystem is growing with increasing DeFi adoption
Timeframe: %s

Provide prediction in JSON format:
{
  "predictedPrice": number,
  "confidence": number (0-100),
  "reasoning": "brief explanation",
  "signals": {"technical": number (-1 to 1), "fundamental": number (-1 to 1), "sentiment": number (-1 to 1)}
}`, asset, timeframe, currentPrice, timeframe)

	var raw struct {
		PredictedPrice float64 `json:"predictedPrice"`
		Confidence     float64 `json:"confidence"`
		Reasoning      string  `json:"reasoning"`
		Signals        Signals `json:"signals"`
	}
	if err := o.complete(ctx, prompt, 300, &raw); err != nil {
		return Prediction{}, err
	}
	return Prediction{
		Asset:          asset,
		CurrentPrice:   currentPrice,
		PredictedPrice: raw.PredictedPrice,
		Confidence:     raw.Confidence,
		Timeframe:      timeframe,
		Reasoning:      raw.Reasoning,
		Signals:        raw.Signals,
	}, nil
}

func (o *OpenAI) Optimize(ctx context.Context, positions map[string]float64, prefs Preferences) (Optimization, error) {
	current := portfolioValue(positions)
	pos, _ := json.Marshal(positions)
	prompt := fmt.Sprintf(`Optimize this Aptos DeFi portfolio:

Current Positions: %s
Total Value: $%g
Risk Tolerance: %g/10

Provide optimization in JSON format:
{
  "suggestedAllocation": {"asset": value},
  "expectedReturn": number (0-1),
  "riskScore": number (1-10),
  "actions": [{"type": "buy|sell|hold", "asset": "string", "amount": number, "reason": "string"}]
}`, pos, current, prefs.RiskTolerance)

	var raw struct {
		SuggestedAllocation map[string]float64 `json:"suggestedAllocation"`
		ExpectedReturn      float64            `json:"expectedReturn"`
		RiskScore           float64            `json:"riskScore"`
		Actions             []Action           `json:"actions"`
	}
	if err := o.complete(ctx, prompt, 400, &raw); err != nil {
		return Optimization{}, err
	}
	return Optimization{
		CurrentValue:        current,
		SuggestedAllocation: raw.SuggestedAllocation,
		ExpectedReturn:      raw.ExpectedReturn,
		RiskScore:           raw.RiskScore,
		Actions:             raw.Actions,
	}, nil
}

// complete sends prompt and decodes the JSON reply into dst.
func (o *OpenAI) complete(ctx context.Context, prompt string, maxTokens int, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit: %v", ErrUnavailable, err)
	}

	content, err := o.cb.Execute(func() (interface{}, error) {
		return o.chat(ctx, prompt, maxTokens)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := json.Unmarshal([]byte(content.(string)), dst); err != nil {
		return fmt.Errorf("%w: malformed reply: %v", ErrUnavailable, err)
	}
	return nil
}

func (o *OpenAI) chat(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai status: %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode openai: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("invalid openai response")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}
