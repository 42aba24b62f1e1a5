package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/imthegoodboy/Paylink/internal/streaming"
)

// ApplyResult reports what one delivered event did to the ledger.
type ApplyResult int

const (
	ApplyInserted ApplyResult = iota
	ApplyDuplicate
	ApplyDropped
)

// ApplyMessage records one delivered event. Delivery may repeat and may
// arrive out of order; correctness rests entirely on the store's
// idempotent insert. A malformed payload is dropped (ApplyDropped, nil)
// so the transport can acknowledge it; a store failure is returned so
// the transport does not acknowledge and redelivers.
func ApplyMessage(ctx context.Context, store LedgerStore, msg streaming.Message) (ApplyResult, error) {
	if store == nil {
		return ApplyDropped, errors.New("ledger store is required")
	}

	payment, err := DecodePayment(msg)
	if err != nil {
		slog.Warn("dropping malformed event",
			"tx_hash", msg.TxHash,
			"block_number", msg.BlockNumber,
			"err", err,
		)
		return ApplyDropped, nil
	}

	inserted, err := store.InsertIfAbsent(ctx, payment)
	if err != nil {
		return ApplyDropped, err
	}

	slog.Debug("applied payment event",
		"tx_hash", payment.TxHash,
		"slug", payment.Slug,
		"amount", payment.Amount,
		"inserted", inserted,
	)
	if inserted {
		return ApplyInserted, nil
	}
	return ApplyDuplicate, nil
}
