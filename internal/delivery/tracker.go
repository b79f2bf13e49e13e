// Package delivery coordinates the per-recipient status rows with presence:
// a freshly persisted message becomes 'delivered' for whoever is online, and
// a reconnecting user picks up everything that was sent while they were away.
package delivery

import (
	"context"

	"github.com/rs/zerolog"

	"go-messenger/internal/metrics"
	"go-messenger/internal/presence"
)

// StatusStore is the slice of the chat store this package needs.
type StatusStore interface {
	UpsertMessageStatus(ctx context.Context, messageID, userID int64, status string) error
	MarkAllSentDelivered(ctx context.Context, userID int64) (int64, error)
}

const statusDelivered = "delivered"

type Tracker struct {
	store    StatusStore
	presence presence.Tracker
	log      zerolog.Logger
}

func NewTracker(store StatusStore, pres presence.Tracker, log zerolog.Logger) *Tracker {
	return &Tracker{
		store:    store,
		presence: pres,
		log:      log.With().Str("component", "delivery").Logger(),
	}
}

// MarkDelivered raises the message's status to 'delivered' for every
// recipient who is online right now. Offline recipients stay at 'sent' until
// RecomputeOnReconnect catches them up.
func (t *Tracker) MarkDelivered(ctx context.Context, messageID int64, recipientIDs []int64) error {
	online, err := t.presence.OnlineAmong(ctx, recipientIDs)
	if err != nil {
		return err
	}

	for _, uid := range online {
		if err := t.store.UpsertMessageStatus(ctx, messageID, uid, statusDelivered); err != nil {
			return err
		}
		metrics.DeliveryUpgrades.Inc()
	}
	return nil
}

// RecomputeOnReconnect flips every 'sent' row addressed to the user to
// 'delivered'. Called on the user's offline-to-online edge; closes the gap
// for messages sent while they had no connection.
func (t *Tracker) RecomputeOnReconnect(ctx context.Context, userID int64) error {
	n, err := t.store.MarkAllSentDelivered(ctx, userID)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.DeliveryUpgrades.Add(float64(n))
		t.log.Debug().Int64("user_id", userID).Int64("messages", n).Msg("caught up pending deliveries")
	}
	return nil
}
