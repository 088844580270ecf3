// Package notify pushes fired alerts to a Telegram chat.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/web3-frozen/defilens/internal/events"
)

const telegramAPI = "https://api.telegram.org/bot"

var severityRank = map[events.Severity]int{
	events.SeverityLow:      1,
	events.SeverityMedium:   2,
	events.SeverityHigh:     3,
	events.SeverityCritical: 4,
}

// Telegram sends alerts at or above a minimum severity to one chat.
type Telegram struct {
	token       string
	chatID      int64
	minSeverity events.Severity
	baseURL     string
	client      *http.Client
	logger      *slog.Logger
}

func NewTelegram(token string, chatID int64, minSeverity events.Severity, logger *slog.Logger) *Telegram {
	if _, ok := severityRank[minSeverity]; !ok {
		minSeverity = events.SeverityHigh
	}
	return &Telegram{
		token:       token,
		chatID:      chatID,
		minSeverity: minSeverity,
		baseURL:     telegramAPI,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

// Attach forwards qualifying alerts from bus. Delivery happens off the
// publishing goroutine.
func (t *Telegram) Attach(bus *events.Bus) *events.Subscription {
	return bus.SubscribeAlerts(func(a events.Alert) {
		if !t.Wants(a) {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := t.SendMessage(ctx, Format(a)); err != nil {
				t.logger.Warn("telegram notify failed", "alert", a.ID, "error", err)
			}
		}()
	})
}

// Wants reports whether a meets the severity floor.
func (t *Telegram) Wants(a events.Alert) bool {
	return severityRank[a.Severity] >= severityRank[t.minSeverity]
}

// SendMessage sends an HTML text message to the configured chat.
func (t *Telegram) SendMessage(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode, errResp.Description)
	}
	return nil
}

// Format renders an alert as a Telegram HTML message.
func Format(a events.Alert) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<b>[%s] %s</b>\n", html.EscapeString(string(a.Severity)), html.EscapeString(a.Type))
	fmt.Fprintf(&b, "%s\n", html.EscapeString(a.Message))
	fmt.Fprintf(&b, "Address: <code>%s</code>\n", html.EscapeString(a.Address))
	if a.Value != nil {
		fmt.Fprintf(&b, "Value: %s\n", strconv.FormatFloat(*a.Value, 'f', 2, 64))
	}
	fmt.Fprintf(&b, "<i>%s</i>", a.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}
