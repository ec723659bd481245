// Package notify surfaces permanent failures to the operator through a
// Telegram bot. When no bot token is configured the nil notifier turns
// every call into a no-op.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
)

// Notifier posts operator alerts to a chat.
type Notifier struct {
	bot    *bot.Bot
	chatID int64
	logger *slog.Logger
}

// New creates a notifier. A nil *Notifier is valid and silently ignores
// all calls.
func New(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier bot: %w", err)
	}
	return &Notifier{
		bot:    b,
		chatID: chatID,
		logger: logger.With("component", "notifier"),
	}, nil
}

// DeliveryFailed reports a message that exhausted its retry budget.
func (n *Notifier) DeliveryFailed(ctx context.Context, sourceTitle string, targetName string, messageID int64, cause error) {
	n.send(ctx, fmt.Sprintf(
		"⚠️ Delivery failed permanently\nSource: %s\nTarget: %s\nMessage: %d\nError: %v",
		sourceTitle, targetName, messageID, cause,
	))
}

// AccountError reports a session that moved to the error state.
func (n *Notifier) AccountError(ctx context.Context, accountName string, cause error) {
	n.send(ctx, fmt.Sprintf("⚠️ Account session error\nAccount: %s\nError: %v", accountName, cause))
}

func (n *Notifier) send(ctx context.Context, text string) {
	if n == nil {
		return
	}
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		n.logger.Warn("failed to send operator alert", "error", err)
	}
}
