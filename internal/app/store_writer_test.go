package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"liqradar/clients/store"
	"liqradar/config"
)

func TestNewStoreWriter_NilStore(t *testing.T) {
	w := NewStoreWriter(nil, nil, 10)
	if w != nil {
		t.Fatal("expected nil writer without a store")
	}

	// A nil writer is usable and inert
	if w.Enqueue(testAddr(1), 100) {
		t.Error("nil writer should not accept writes")
	}
	w.Run(context.Background())
	if n, err := w.ImportInto(context.Background(), NewRegistry(nil, config.RegistryConfig{}), 10, time.Now()); n != 0 || err != nil {
		t.Errorf("ImportInto = %d, %v", n, err)
	}
	if w.Stats().Enabled {
		t.Error("nil writer should report disabled")
	}
}

func TestStoreWriter_RunWritesAndFlushes(t *testing.T) {
	ms := NewMockWhaleStore()
	w := NewStoreWriter(nil, ms, 16)

	w.Enqueue(testAddr(1), 100_000)
	w.Enqueue(testAddr(1), 50_000)
	w.Enqueue(testAddr(2), 200_000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx) // canceled: flushes what is queued and returns

	if v := ms.Volume(testAddr(1)); v != 150_000 {
		t.Errorf("volume = %v, want 150000", v)
	}
	if v := ms.Volume(testAddr(2)); v != 200_000 {
		t.Errorf("volume = %v, want 200000", v)
	}
	stats := w.Stats()
	if stats.Written != 3 || stats.Pending != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Stored != 2 {
		t.Errorf("Stored = %d, want 2 rows after the final count", stats.Stored)
	}
}

func TestStoreWriter_DropsWhenFull(t *testing.T) {
	w := NewStoreWriter(nil, NewMockWhaleStore(), 1)
	if got := w.Stats().Stored; got != -1 {
		t.Errorf("Stored = %d before any count, want -1", got)
	}

	if !w.Enqueue(testAddr(1), 1) {
		t.Fatal("first write should queue")
	}
	if w.Enqueue(testAddr(2), 1) {
		t.Error("write into a full queue should be dropped")
	}
	if w.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", w.Stats().Dropped)
	}
}

func TestStoreWriter_CountsFailures(t *testing.T) {
	ms := NewMockWhaleStore()
	ms.saveErr = errors.New("disk full")
	w := NewStoreWriter(nil, ms, 4)

	w.Enqueue(testAddr(1), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	if w.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", w.Stats().Failed)
	}
}

func TestStoreWriter_ImportInto(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ms := NewMockWhaleStore(
		store.Whale{Address: testAddr(1), Volume: 9_000_000, LastSeen: now.Add(-2 * time.Hour)},
		store.Whale{Address: "garbage", Volume: 8_000_000},
		store.Whale{Address: testAddr(2), Volume: 7_000_000, LastSeen: now.Add(time.Hour)},
		store.Whale{Address: testAddr(3), Volume: 1_000_000},
	)
	w := NewStoreWriter(nil, ms, 4)
	reg := NewRegistry(nil, config.RegistryConfig{MaxAddresses: 100})

	n, err := w.ImportInto(context.Background(), reg, 3, now)
	if err != nil {
		t.Fatalf("ImportInto: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported %d, want 2", n)
	}
	if got := w.Stats().Stored; got != 4 {
		t.Errorf("Stored = %d, want 4", got)
	}

	a, _ := reg.Get(testAddr(1))
	if a.Source != SourceStore || a.CumulativeVolumeUSD != 9_000_000 {
		t.Errorf("addr1 = %+v", a)
	}
	if !a.LastSeenAt.Equal(now.Add(-2 * time.Hour)) {
		t.Errorf("stored LastSeen should be kept, got %v", a.LastSeenAt)
	}
	b, _ := reg.Get(testAddr(2))
	if !b.LastSeenAt.Equal(now) {
		t.Errorf("future LastSeen should clamp to now, got %v", b.LastSeenAt)
	}
	if _, ok := reg.Get(testAddr(3)); ok {
		t.Error("limit should exclude the fourth row")
	}
}

func TestStoreWriter_ImportError(t *testing.T) {
	ms := NewMockWhaleStore()
	ms.loadErr = errors.New("no such table")
	w := NewStoreWriter(nil, ms, 4)

	if _, err := w.ImportInto(context.Background(), NewRegistry(nil, config.RegistryConfig{}), 10, time.Now()); err == nil {
		t.Error("expected error")
	}
}
