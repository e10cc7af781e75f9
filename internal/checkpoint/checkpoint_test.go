package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(Config{Enabled: true, Dir: dir})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	ctx := context.Background()
	cp := &Checkpoint{
		IndexerID: "test-indexer",
		Network:   "mainnet",
		Slot:      348999123,
		Offset:    41,
		Rows:      12000,
		UpdatedAt: time.Now().UTC(),
	}

	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Slot != cp.Slot {
		t.Errorf("expected slot %d, got %d", cp.Slot, loaded.Slot)
	}
	if loaded.Offset != cp.Offset {
		t.Errorf("expected offset %d, got %d", cp.Offset, loaded.Offset)
	}
	if loaded.Network != "mainnet" {
		t.Errorf("expected network mainnet, got %s", loaded.Network)
	}
}

func TestLoadNoCheckpoint(t *testing.T) {
	store, err := NewStore(Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	_, err = store.Load(context.Background())
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestSaveRejectsRegression(t *testing.T) {
	store, err := NewStore(Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	ctx := context.Background()
	first := &Checkpoint{Network: "mainnet", Slot: 100, Offset: 5}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}

	// Same position again is allowed (idempotent re-save).
	if err := store.Save(ctx, &Checkpoint{Network: "mainnet", Slot: 100, Offset: 5}); err != nil {
		t.Fatalf("idempotent re-save failed: %v", err)
	}

	// Advancing is allowed.
	if err := store.Save(ctx, &Checkpoint{Network: "mainnet", Slot: 101, Offset: 0}); err != nil {
		t.Fatalf("advancing Save failed: %v", err)
	}

	// Moving backwards is not.
	err = store.Save(ctx, &Checkpoint{Network: "mainnet", Slot: 100, Offset: 9})
	if !errors.Is(err, ErrRegression) {
		t.Errorf("expected ErrRegression, got %v", err)
	}

	// The durable file still holds the highest position.
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Slot != 101 {
		t.Errorf("expected slot 101 after rejected regression, got %d", loaded.Slot)
	}
}

func TestResumeSlot(t *testing.T) {
	tests := []struct {
		name       string
		cp         *Checkpoint
		configured uint64
		expected   uint64
	}{
		{"no checkpoint", nil, 0, 0},
		{"no checkpoint with start", nil, 500, 500},
		{"checkpoint wins over zero start", &Checkpoint{Slot: 300}, 0, 300},
		{"checkpoint wins over lower start", &Checkpoint{Slot: 300}, 100, 300},
		{"explicit higher start skips ahead", &Checkpoint{Slot: 300}, 500, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResumeSlot(tt.cp, tt.configured); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestNoopStore(t *testing.T) {
	store, err := NewStore(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, &Checkpoint{Slot: 1}); err != nil {
		t.Errorf("noop Save should not fail: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint from noop store, got %v", err)
	}
}
