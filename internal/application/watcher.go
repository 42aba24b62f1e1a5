package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/imthegoodboy/Paylink/internal/domain"
)

type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]domain.EventLog, error)
	ChainID(ctx context.Context) (uint64, error)
}

type EventPublisher interface {
	PublishLogs(ctx context.Context, logs []domain.EventLog) error
}

type WatcherObserver interface {
	OnLatestBlock(block uint64)
	OnBatchPublished(fromBlock, toBlock uint64, logCount int)
}

type WatcherConfig struct {
	StartBlock    uint64
	Confirmations uint64
	PollInterval  time.Duration
	BatchSize     uint64
}

// Watcher maintains the subscription half of the indexer: it tails the
// gateway contract's logs, publishes each raw log downstream, and only
// then advances its cursor. A crash between publish and cursor write
// causes re-delivery, never loss.
type Watcher struct {
	source   LogSource
	sink     EventPublisher
	cursor   CursorStore
	observer WatcherObserver
	cfg      WatcherConfig
}

func NewWatcher(source LogSource, sink EventPublisher, cursor CursorStore, observer WatcherObserver, cfg WatcherConfig) (*Watcher, error) {
	if source == nil || sink == nil || cursor == nil {
		return nil, errors.New("watcher dependencies must not be nil")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Watcher{source: source, sink: sink, cursor: cursor, observer: observer, cfg: cfg}, nil
}

// Run blocks until ctx is done. Transport failures are logged and
// retried in place after the poll interval; the subscription itself
// never gives up.
func (w *Watcher) Run(ctx context.Context) error {
	wantedChain, err := w.source.ChainID(ctx)
	if err != nil {
		return err
	}
	slog.Info("watcher started", "chain_id", wantedChain, "start_block", w.cfg.StartBlock)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		advanced, err := w.step(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			slog.Warn("watcher step failed", "err", err)
		}
		if advanced {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// step processes at most one batch. It reports whether the cursor
// advanced, so the caller can keep draining a backlog without waiting
// out the poll interval.
func (w *Watcher) step(ctx context.Context) (bool, error) {
	current := w.cfg.StartBlock
	if last, ok, err := w.cursor.LastProcessedBlock(ctx); err != nil {
		return false, err
	} else if ok {
		current = last + 1
	}

	latest, err := w.source.LatestBlockNumber(ctx)
	if err != nil {
		return false, err
	}
	if w.observer != nil {
		w.observer.OnLatestBlock(latest)
	}
	if latest < w.cfg.Confirmations {
		return false, nil
	}
	latest -= w.cfg.Confirmations
	if current > latest {
		return false, nil
	}

	toBlock := current + w.cfg.BatchSize - 1
	if toBlock > latest {
		toBlock = latest
	}

	logs, err := w.source.FetchLogs(ctx, current, toBlock)
	if err != nil {
		return false, err
	}
	sort.Slice(logs, func(a, b int) bool {
		if logs[a].BlockNumber == logs[b].BlockNumber {
			return logs[a].LogIndex < logs[b].LogIndex
		}
		return logs[a].BlockNumber < logs[b].BlockNumber
	})

	if err := w.sink.PublishLogs(ctx, logs); err != nil {
		return false, err
	}
	if err := w.cursor.SetLastProcessedBlock(ctx, toBlock); err != nil {
		return false, err
	}
	if w.observer != nil {
		w.observer.OnBatchPublished(current, toBlock, len(logs))
	}
	return toBlock < latest, nil
}
