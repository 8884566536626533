package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification kinds.
const (
	KindDrift              = "drift"
	KindOracleFailure      = "oracle_failure"
	KindUndercollateralize = "undercollateralized"
)

// Notification captures the context of one basket alert.
type Notification struct {
	Kind          string
	Basket        string
	Bucket        time.Time
	Asset         string
	TargetBps     int32
	ActualBps     int32
	DriftBps      int32
	ThresholdBps  int32
	ValueUSD      decimal.Decimal
	Channels      []string
	AdditionalMsg string
}

// Notifier delivers basket alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify posts the rendered text via the sendMessage endpoint.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected telegram status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Time("bucket", note.Bucket).
		Str("kind", note.Kind).
		Str("basket", note.Basket).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert dispatched (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Basket Alert: %s]\n", note.Kind))
	builder.WriteString(fmt.Sprintf("Basket: %s\n", note.Basket))
	builder.WriteString(fmt.Sprintf("Bucket: %s UTC\n", note.Bucket.UTC().Format(time.RFC3339)))
	if note.Asset != "" {
		builder.WriteString(fmt.Sprintf("Asset: %s\n", note.Asset))
	}
	if note.Kind == KindDrift {
		builder.WriteString(fmt.Sprintf("Target: %d bps\n", note.TargetBps))
		builder.WriteString(fmt.Sprintf("Actual: %d bps\n", note.ActualBps))
		builder.WriteString(fmt.Sprintf("Drift: %d bps (threshold %d bps)\n", note.DriftBps, note.ThresholdBps))
	}
	if !note.ValueUSD.IsZero() {
		builder.WriteString(fmt.Sprintf("Value: %s USD\n", note.ValueUSD.StringFixed(2)))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
