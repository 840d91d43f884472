package services

import (
	"context"

	"subtrack/internal/amqp"
	"subtrack/internal/log"
	"subtrack/internal/rates"
)

// RatesPublisher announces rate table changes. *amqp.Client implements it.
type RatesPublisher interface {
	PublishRatesUpdated(ctx context.Context, msg *amqp.RatesUpdatedMessage) error
}

// RelayRateUpdates consumes snapshots until snaps is closed or ctx is done.
// onUpdate runs for every snapshot. A notice is published for live tables
// and for the fallback status, never for intermediate retry statuses.
// pub may be nil.
func RelayRateUpdates(ctx context.Context, snaps <-chan rates.Snapshot, pub RatesPublisher, onUpdate func(rates.Snapshot), logger *log.Logger) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentRates)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if onUpdate != nil {
				onUpdate(snap)
			}
			if pub == nil || (snap.Status != "" && snap.Status != rates.StatusFallback) {
				continue
			}
			msg := amqp.NewRatesUpdatedMessage(snap.UpdatedAt, snap.Status, len(snap.Rates))
			if err := pub.PublishRatesUpdated(ctx, msg); err != nil {
				logger.WarnContext(ctx, "Failed to publish rates update",
					log.FieldRateCount, len(snap.Rates),
					log.FieldError, err.Error())
			}
		}
	}
}
