package channel

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// ChatResolver is the subset of Directory TelegramChannel needs, narrowed
// to an interface so tests don't need a live Postgres connection.
type ChatResolver interface {
	ChatIDFor(ctx context.Context, userID string) (int64, error)
}

// TelegramChannel is a ChannelAdapter that delivers opportunities as
// Markdown-formatted bot messages, grounded on the teacher's
// internal/telegram/bot.go SendMessage/SendAlert shape (Markdown parse
// mode, emoji-prefixed severity). Unlike Bot, it never runs command
// handlers or polling — delivery only.
type TelegramChannel struct {
	api      *tgbotapi.BotAPI
	resolver ChatResolver
}

// NewTelegramChannel wraps an authorized bot API client.
func NewTelegramChannel(api *tgbotapi.BotAPI, resolver ChatResolver) *TelegramChannel {
	return &TelegramChannel{api: api, resolver: resolver}
}

// Name satisfies market.ChannelAdapter.
func (c *TelegramChannel) Name() string { return "telegram" }

// Deliver satisfies market.ChannelAdapter.
func (c *TelegramChannel) Deliver(ctx context.Context, userID string, o market.Opportunity) error {
	chatID, err := c.resolver.ChatIDFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrDownstream, err)
	}

	msg := tgbotapi.NewMessage(chatID, formatOpportunity(o))
	msg.ParseMode = "Markdown"

	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("%w: telegram send: %v", market.ErrDownstream, err)
	}
	return nil
}

func formatOpportunity(o market.Opportunity) string {
	switch o.Kind {
	case market.KindArbitrage:
		a := o.Arbitrage
		return fmt.Sprintf(
			"📈 *Arbitrage: %s*\n\nLong %s @ %.2f, short %s @ %.2f\nSpread: %.1f bps | Est. profit: %.1f bps\nConfidence: %.0f%%",
			a.Pair, a.LongExchange, a.LongPrice, a.ShortExchange, a.ShortPrice, a.SpreadBps, a.EstProfitBps, o.Confidence*100,
		)
	case market.KindFundingRate:
		f := o.FundingRate
		return fmt.Sprintf(
			"💰 *Funding Rate: %s*\n\n%s funding rate: %.4f%%\nNext funding: %s\nConfidence: %.0f%%",
			f.Pair, f.Exchange, f.FundingRate*100, f.NextFunding.Format("15:04 MST"), o.Confidence*100,
		)
	default:
		return fmt.Sprintf("New opportunity %s", o.ID)
	}
}
