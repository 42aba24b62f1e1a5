package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imthegoodboy/Paylink/internal/domain"
)

type fakeSource struct {
	latest  uint64
	chainID uint64
	logs    []domain.EventLog
	fetches [][2]uint64
}

func (s *fakeSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return s.latest, nil
}

func (s *fakeSource) ChainID(ctx context.Context) (uint64, error) {
	return s.chainID, nil
}

func (s *fakeSource) FetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]domain.EventLog, error) {
	s.fetches = append(s.fetches, [2]uint64{fromBlock, toBlock})
	var out []domain.EventLog
	for _, log := range s.logs {
		if log.BlockNumber >= fromBlock && log.BlockNumber <= toBlock {
			out = append(out, log)
		}
	}
	return out, nil
}

type fakeSink struct {
	published []domain.EventLog
	err       error
}

func (s *fakeSink) PublishLogs(ctx context.Context, logs []domain.EventLog) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, logs...)
	return nil
}

type fakeCursor struct {
	block uint64
	set   bool
}

func (c *fakeCursor) LastProcessedBlock(ctx context.Context) (uint64, bool, error) {
	return c.block, c.set, nil
}

func (c *fakeCursor) SetLastProcessedBlock(ctx context.Context, block uint64) error {
	c.block = block
	c.set = true
	return nil
}

func (c *fakeCursor) ClearLastProcessedBlock(ctx context.Context) error {
	c.block = 0
	c.set = false
	return nil
}

func newTestWatcher(t *testing.T, source *fakeSource, sink *fakeSink, cursor *fakeCursor, cfg WatcherConfig) *Watcher {
	t.Helper()
	watcher, err := NewWatcher(source, sink, cursor, nil, cfg)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	return watcher
}

func TestWatcherStepPublishesSorted(t *testing.T) {
	source := &fakeSource{
		latest:  110,
		chainID: 80002,
		logs: []domain.EventLog{
			{BlockNumber: 102, LogIndex: 1, TxHash: "0x3"},
			{BlockNumber: 101, LogIndex: 2, TxHash: "0x2"},
			{BlockNumber: 101, LogIndex: 0, TxHash: "0x1"},
		},
	}
	sink := &fakeSink{}
	cursor := &fakeCursor{}
	watcher := newTestWatcher(t, source, sink, cursor, WatcherConfig{
		StartBlock:    100,
		Confirmations: 5,
		BatchSize:     1000,
		PollInterval:  time.Millisecond,
	})

	advanced, err := watcher.step(context.Background())
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if advanced {
		t.Error("expected caught-up step to report no backlog")
	}

	// 110 latest minus 5 confirmations: window is [100, 105].
	if len(source.fetches) != 1 || source.fetches[0] != [2]uint64{100, 105} {
		t.Errorf("unexpected fetch windows: %v", source.fetches)
	}

	want := []string{"0x1", "0x2", "0x3"}
	if len(sink.published) != len(want) {
		t.Fatalf("expected %d published logs, got %d", len(want), len(sink.published))
	}
	for i, txHash := range want {
		if sink.published[i].TxHash != txHash {
			t.Errorf("position %d: expected %s, got %s", i, txHash, sink.published[i].TxHash)
		}
	}

	if !cursor.set || cursor.block != 105 {
		t.Errorf("expected cursor at 105, got %d (set=%v)", cursor.block, cursor.set)
	}
}

func TestWatcherStepResumesFromCursor(t *testing.T) {
	source := &fakeSource{latest: 200, chainID: 80002}
	sink := &fakeSink{}
	cursor := &fakeCursor{block: 150, set: true}
	watcher := newTestWatcher(t, source, sink, cursor, WatcherConfig{
		StartBlock: 100,
		BatchSize:  1000,
	})

	if _, err := watcher.step(context.Background()); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if len(source.fetches) != 1 || source.fetches[0][0] != 151 {
		t.Errorf("expected fetch to resume at 151, got %v", source.fetches)
	}
}

func TestWatcherStepDrainsBacklog(t *testing.T) {
	source := &fakeSource{latest: 130, chainID: 80002}
	sink := &fakeSink{}
	cursor := &fakeCursor{}
	watcher := newTestWatcher(t, source, sink, cursor, WatcherConfig{
		StartBlock: 100,
		BatchSize:  10,
	})

	steps := 0
	for {
		advanced, err := watcher.step(context.Background())
		if err != nil {
			t.Fatalf("step failed: %v", err)
		}
		steps++
		if !advanced {
			break
		}
		if steps > 10 {
			t.Fatal("backlog never drained")
		}
	}

	if cursor.block != 130 {
		t.Errorf("expected cursor at 130, got %d", cursor.block)
	}
	// 31 blocks in batches of 10.
	if steps != 4 {
		t.Errorf("expected 4 steps, got %d", steps)
	}
}

func TestWatcherPublishFailureHoldsCursor(t *testing.T) {
	source := &fakeSource{
		latest:  110,
		chainID: 80002,
		logs:    []domain.EventLog{{BlockNumber: 100, TxHash: "0x1"}},
	}
	sink := &fakeSink{err: errors.New("brokers unreachable")}
	cursor := &fakeCursor{}
	watcher := newTestWatcher(t, source, sink, cursor, WatcherConfig{
		StartBlock: 100,
		BatchSize:  1000,
	})

	if _, err := watcher.step(context.Background()); err == nil {
		t.Fatal("expected step to fail")
	}
	if cursor.set {
		t.Error("cursor must not advance past unpublished blocks")
	}

	sink.err = nil
	if _, err := watcher.step(context.Background()); err != nil {
		t.Fatalf("retry step failed: %v", err)
	}
	if len(sink.published) != 1 {
		t.Errorf("expected the log to be republished, got %d", len(sink.published))
	}
}

func TestWatcherWaitsForConfirmations(t *testing.T) {
	source := &fakeSource{latest: 104, chainID: 80002}
	sink := &fakeSink{}
	cursor := &fakeCursor{}
	watcher := newTestWatcher(t, source, sink, cursor, WatcherConfig{
		StartBlock:    100,
		Confirmations: 5,
		BatchSize:     1000,
	})

	advanced, err := watcher.step(context.Background())
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if advanced || len(source.fetches) != 0 {
		t.Error("no block is deep enough to process yet")
	}
}
