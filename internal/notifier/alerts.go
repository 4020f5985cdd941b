package notifier

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/paylink-relay/internal/metrics"
)

// Sender delivers a formatted HTML message to a chat.
type Sender interface {
	SendNotification(ctx context.Context, chatID int64, text string) error
}

// Settlement describes a credited payment.
type Settlement struct {
	DeviceID  string
	SessionID string
	Account   string
	Amount    decimal.Decimal
	Balance   decimal.Decimal
	Currency  string
}

// SellerAlerts posts settled payments to an operator chat
type SellerAlerts struct {
	sender Sender
	chatID int64
	log    *slog.Logger
}

// NewSellerAlerts returns nil when alerts are not configured; a nil
// *SellerAlerts is safe to use and sends nothing.
func NewSellerAlerts(sender Sender, chatID int64, log *slog.Logger) *SellerAlerts {
	if sender == nil || chatID == 0 {
		log.Info("seller alerts disabled: TELEGRAM_BOT_TOKEN or TELEGRAM_ALERT_CHAT_ID not set")
		return nil
	}
	return &SellerAlerts{sender: sender, chatID: chatID, log: log}
}

// PaymentSettled sends an alert for a credited session. Failures are logged only.
func (a *SellerAlerts) PaymentSettled(ctx context.Context, s Settlement) {
	if a == nil {
		return
	}

	if err := a.sender.SendNotification(ctx, a.chatID, FormatSettlement(s)); err != nil {
		metrics.SellerAlerts.WithLabelValues("error").Inc()
		a.log.Error("send seller alert", "session_id", s.SessionID, "error", err)
		return
	}
	metrics.SellerAlerts.WithLabelValues("sent").Inc()
}

// FormatSettlement renders the alert text in Telegram HTML.
func FormatSettlement(s Settlement) string {
	currency := strings.ToUpper(s.Currency)

	lines := []string{
		"<b>💰 Payment received</b>",
		"",
		fmt.Sprintf("+%s %s ✅", s.Amount.StringFixed(2), html.EscapeString(currency)),
		"",
		fmt.Sprintf("Device: <code>%s</code>", html.EscapeString(s.DeviceID)),
		fmt.Sprintf("Session: <code>%s</code>", html.EscapeString(s.SessionID)),
	}
	if s.Account != "" {
		lines = append(lines, fmt.Sprintf("Account: <code>%s</code>", html.EscapeString(s.Account)))
	}
	lines = append(lines, "", fmt.Sprintf("Balance: <b>%s %s</b>", s.Balance.StringFixed(2), html.EscapeString(currency)))

	return strings.Join(lines, "\n")
}
