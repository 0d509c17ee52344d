package app

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	storeWriteTimeout  = 5 * time.Second
	storeCountInterval = time.Minute
)

type whaleWrite struct {
	address string
	volume  float64
}

// StoreWriter writes discovered addresses through to the whale store from its
// own goroutine, so the trade path never waits on the database.
type StoreWriter struct {
	logger *zap.Logger
	store  WhaleStore
	queue  chan whaleWrite

	written uint64
	failed  uint64
	dropped uint64
	stored  atomic.Int64 // -1 until the first count
}

// NewStoreWriter returns nil when store is nil; a nil writer accepts and
// discards every write.
func NewStoreWriter(logger *zap.Logger, store WhaleStore, queueSize int) *StoreWriter {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	w := &StoreWriter{
		logger: logger,
		store:  store,
		queue:  make(chan whaleWrite, queueSize),
	}
	w.stored.Store(-1)
	return w
}

// Enqueue never blocks. Returns false if the write was dropped.
func (w *StoreWriter) Enqueue(address string, volume float64) bool {
	if w == nil {
		return false
	}
	select {
	case w.queue <- whaleWrite{address: address, volume: volume}:
		return true
	default:
		atomic.AddUint64(&w.dropped, 1)
		StoreWrites.WithLabelValues("dropped").Inc()
		return false
	}
}

// Run drains the queue until ctx is done, then flushes what is left. The
// stored row count is refreshed once a minute.
func (w *StoreWriter) Run(ctx context.Context) {
	if w == nil {
		return
	}
	ticker := time.NewTicker(storeCountInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush()
			w.refreshCount(context.Background())
			return
		case req := <-w.queue:
			w.write(context.Background(), req)
		case <-ticker.C:
			w.refreshCount(ctx)
		}
	}
}

func (w *StoreWriter) refreshCount(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, storeWriteTimeout)
	defer cancel()

	n, err := w.store.Count(ctx)
	if err != nil {
		w.logger.Debug("whale store count failed", zap.Error(err))
		return
	}
	w.stored.Store(int64(n))
}

func (w *StoreWriter) flush() {
	for {
		select {
		case req := <-w.queue:
			w.write(context.Background(), req)
		default:
			return
		}
	}
}

func (w *StoreWriter) write(parent context.Context, req whaleWrite) {
	ctx, cancel := context.WithTimeout(parent, storeWriteTimeout)
	defer cancel()

	if err := w.store.Upsert(ctx, req.address, req.volume); err != nil {
		atomic.AddUint64(&w.failed, 1)
		StoreWrites.WithLabelValues("error").Inc()
		w.logger.Warn("whale store upsert failed",
			zap.String("address", shortID(req.address)),
			zap.Error(err),
		)
		return
	}
	atomic.AddUint64(&w.written, 1)
	StoreWrites.WithLabelValues("ok").Inc()
}

// ImportInto loads the top stored addresses into registry.
func (w *StoreWriter) ImportInto(ctx context.Context, registry *Registry, limit int, now time.Time) (int, error) {
	if w == nil {
		return 0, nil
	}
	whales, err := w.store.LoadTopAddresses(ctx, limit)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, wh := range whales {
		addr, err := normalizeAddress(wh.Address)
		if err != nil {
			continue
		}
		seen := wh.LastSeen
		if seen.IsZero() || seen.After(now) {
			seen = now
		}
		if registry.Register(addr, wh.Volume, SourceStore, seen) {
			imported++
		}
	}
	w.refreshCount(ctx)
	return imported, nil
}

// StoreWriterStats counts write-through outcomes.
type StoreWriterStats struct {
	Enabled bool   `json:"enabled"`
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Pending int    `json:"pending"`
	Stored  int64  `json:"stored"` // -1 until counted
}

func (w *StoreWriter) Stats() StoreWriterStats {
	if w == nil {
		return StoreWriterStats{}
	}
	return StoreWriterStats{
		Enabled: true,
		Written: atomic.LoadUint64(&w.written),
		Failed:  atomic.LoadUint64(&w.failed),
		Dropped: atomic.LoadUint64(&w.dropped),
		Pending: len(w.queue),
		Stored:  w.stored.Load(),
	}
}
