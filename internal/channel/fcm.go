package channel

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// DeviceDirectory is the subset of Directory FCMChannel needs.
type DeviceDirectory interface {
	DeviceTokensFor(ctx context.Context, userID string) ([]string, error)
}

// FCMChannel is a ChannelAdapter delivering opportunities as push
// notifications via Firebase Cloud Messaging, grounded on the teacher's
// internal/notifications/fcm.go FCMBackend: same client type, same
// high-priority Android/APNS config for a time-sensitive alert, same
// multicast-to-every-registered-device fan-out as
// internal/notifications/service.go's SendToUser.
type FCMChannel struct {
	client *messaging.Client
	devices DeviceDirectory
}

// NewFCMChannel wraps an initialized Firebase messaging client.
func NewFCMChannel(client *messaging.Client, devices DeviceDirectory) *FCMChannel {
	return &FCMChannel{client: client, devices: devices}
}

// Name satisfies market.ChannelAdapter.
func (c *FCMChannel) Name() string { return "push" }

// Deliver satisfies market.ChannelAdapter. It fans out to every device
// token registered to userID; a partial multicast failure (some tokens
// rejected, at least one delivered) is not treated as a Deliver error,
// matching the teacher's SendMulticast semantics of reporting per-token
// success/failure without failing the whole call.
func (c *FCMChannel) Deliver(ctx context.Context, userID string, o market.Opportunity) error {
	tokens, err := c.devices.DeviceTokensFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrDownstream, err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("%w: no push devices registered for %s", market.ErrDownstream, userID)
	}

	title, body := notificationText(o)
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"opportunity_id": o.ID,
			"kind":           string(o.Kind),
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}

	resp, err := c.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return fmt.Errorf("%w: fcm multicast: %v", market.ErrDownstream, err)
	}
	if resp.SuccessCount == 0 {
		return fmt.Errorf("%w: fcm delivered to 0 of %d devices", market.ErrDownstream, len(tokens))
	}
	return nil
}

func notificationText(o market.Opportunity) (title, body string) {
	switch o.Kind {
	case market.KindArbitrage:
		a := o.Arbitrage
		return fmt.Sprintf("Arbitrage: %s", a.Pair),
			fmt.Sprintf("%s -> %s, %.1f bps spread", a.LongExchange, a.ShortExchange, a.SpreadBps)
	case market.KindFundingRate:
		f := o.FundingRate
		return fmt.Sprintf("Funding rate: %s", f.Pair),
			fmt.Sprintf("%s at %.4f%%", f.Exchange, f.FundingRate*100)
	default:
		return "New opportunity", o.ID
	}
}
