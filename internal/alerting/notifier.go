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

// Liquidation describes one committed BorrowLiquidated event.
type Liquidation struct {
	Network          string
	BlockNumber      uint64
	BlockTime        time.Time
	TxHash           string
	Target           string
	Liquidator       string
	BorrowSymbol     string
	CollateralSymbol string
	AmountRepaid     decimal.Decimal
	AmountSeized     decimal.Decimal
	BorrowAfter      decimal.Decimal
	CollateralAfter  decimal.Decimal
}

// Notifier delivers liquidation alerts.
type Notifier interface {
	Notify(ctx context.Context, liq Liquidation) error
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
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

// Notify posts the rendered alert through sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, liq Liquidation) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    renderLiquidation(liq),
	})
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram rejected message: %s", result.Description)
	}

	n.logger.Info().
		Uint64("block", liq.BlockNumber).
		Str("target", liq.Target).
		Msg("liquidation alert sent")
	return nil
}

func renderLiquidation(liq Liquidation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Liquidation] %s\n", liq.Network)
	fmt.Fprintf(&b, "Block: %d (%s UTC)\n", liq.BlockNumber, liq.BlockTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Tx: %s\n", liq.TxHash)
	fmt.Fprintf(&b, "Borrower: %s\n", liq.Target)
	fmt.Fprintf(&b, "Liquidator: %s\n", liq.Liquidator)
	fmt.Fprintf(&b, "Repaid: %s %s (borrow now %s)\n", liq.AmountRepaid.String(), liq.BorrowSymbol, liq.BorrowAfter.String())
	fmt.Fprintf(&b, "Seized: %s %s (collateral now %s)\n", liq.AmountSeized.String(), liq.CollateralSymbol, liq.CollateralAfter.String())
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
