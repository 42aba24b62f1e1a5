package application

import (
	"context"
	"errors"
	"time"

	"github.com/imthegoodboy/Paylink/internal/domain"
)

// LedgerStore is the consistency domain for payment records. Inserts are
// idempotent on TxHash; reads never observe partial rows.
type LedgerStore interface {
	// InsertIfAbsent stores the payment unless a row with the same
	// TxHash exists. Returns whether an insert happened; a duplicate is
	// a successful no-op, not an error. Safe under concurrent callers
	// racing on the same hash.
	InsertIfAbsent(ctx context.Context, payment domain.Payment) (bool, error)

	// ListBySlug returns up to limit payments for slug, newest insert
	// first. An unknown slug yields an empty result.
	ListBySlug(ctx context.Context, slug string, limit int) ([]domain.Payment, error)

	// Summarize aggregates every payment recorded for slug relative to
	// the caller-supplied now.
	Summarize(ctx context.Context, slug string, now time.Time) (domain.SlugSummary, error)
}

// AccountResolver answers "where does this slug receive funds" for the
// submission side. Account lifecycle is owned elsewhere.
type AccountResolver interface {
	AccountBySlug(ctx context.Context, slug string) (domain.Account, bool, error)
}

// CursorStore persists the watcher's resume point. Losing the cursor
// means re-delivery, which the ledger dedup absorbs; advancing it past
// unpublished blocks would mean loss, so it is only moved after publish.
type CursorStore interface {
	LastProcessedBlock(ctx context.Context) (uint64, bool, error)
	SetLastProcessedBlock(ctx context.Context, block uint64) error
	ClearLastProcessedBlock(ctx context.Context) error
}

// ErrInvalidAmount rejects records whose amount is not a non-negative
// base-10 integer before they reach storage.
var ErrInvalidAmount = errors.New("invalid payment amount")

// List limits shared by the stores and the API layer. Requests outside
// the range fall back to the default.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)
