package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imthegoodboy/Paylink/internal/streaming"

	"github.com/segmentio/kafka-go"
)

// Batch accumulates delivered events so the consumer can apply a group
// of inserts and then acknowledge the whole group at once. Offsets are
// only committed after every insert in the group succeeded, preserving
// at-least-once delivery into the ledger.
type Batch struct {
	pending  []streaming.Message
	messages []kafka.Message
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Add(msg streaming.Message, kafkaMsg kafka.Message) {
	b.pending = append(b.pending, msg)
	b.messages = append(b.messages, kafkaMsg)
}

// AddSkip records an offset whose payload was judged unusable, so the
// consumer still acknowledges it and moves on.
func (b *Batch) AddSkip(kafkaMsg kafka.Message) {
	b.messages = append(b.messages, kafkaMsg)
}

func (b *Batch) Len() int {
	return len(b.messages)
}

type Committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ErrOffsetCommit marks a flush whose inserts succeeded but whose offset
// acknowledgement did not. The redelivery this causes is absorbed by the
// ledger dedup; callers count it separately from store failures.
var ErrOffsetCommit = errors.New("offset commit failed")

// FlushStats reports what one flush did.
type FlushStats struct {
	Inserted   int
	Duplicates int
	Dropped    int
}

func (b *Batch) Flush(ctx context.Context, store LedgerStore, committer Committer) (FlushStats, error) {
	var stats FlushStats
	if b.Len() == 0 {
		return stats, nil
	}

	start := time.Now()

	for _, msg := range b.pending {
		result, err := ApplyMessage(ctx, store, msg)
		if err != nil {
			return stats, fmt.Errorf("failed to apply event %s: %w", msg.TxHash, err)
		}
		switch result {
		case ApplyInserted:
			stats.Inserted++
		case ApplyDuplicate:
			stats.Duplicates++
		case ApplyDropped:
			stats.Dropped++
		}
	}

	if err := committer.CommitMessages(ctx, b.messages...); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrOffsetCommit, err)
	}

	slog.Info("flushed batch",
		"count", b.Len(),
		"inserted", stats.Inserted,
		"duplicates", stats.Duplicates,
		"dropped", stats.Dropped,
		"duration", time.Since(start),
	)

	b.Reset()
	return stats, nil
}

func (b *Batch) Reset() {
	b.pending = b.pending[:0]
	b.messages = b.messages[:0]
}
