package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")

	// ErrRegression is returned when a save would move the checkpoint backwards.
	ErrRegression = errors.New("checkpoint regression")
)

// Checkpoint records the durable ingest position. Everything at or before
// (Slot, Offset) has been acknowledged by storage; nothing after it is
// certified.
type Checkpoint struct {
	IndexerID string    `json:"indexer_id"`
	Network   string    `json:"network"`
	Slot      uint64    `json:"last_durable_slot"`
	Offset    uint64    `json:"last_durable_offset"` // transaction index within Slot
	Rows      uint64    `json:"rows_written"`        // cumulative rows acknowledged
	UpdatedAt time.Time `json:"updated_at"`
}

// Before reports whether c precedes other in (slot, offset) order.
func (c *Checkpoint) Before(other *Checkpoint) bool {
	if c.Slot != other.Slot {
		return c.Slot < other.Slot
	}
	return c.Offset < other.Offset
}

// Store handles checkpoint persistence and retrieval. A single writer owns
// Save; readers take the handle explicitly rather than going through a global.
type Store interface {
	// Load reads the current checkpoint.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint store.
type Config struct {
	Enabled bool
	Dir     string // Directory for checkpoint files
}

// NewStore creates a checkpoint store based on configuration.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &noopStore{}, nil
	}

	// Ensure checkpoint directory exists
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileStore{dir: cfg.Dir}, nil
}

// ResumeSlot returns the slot to subscribe from. Resumption is at the
// checkpointed slot, not after it: the checkpointed slot is re-received in
// full and the overlap converges in storage. A configured start above the
// checkpoint wins, so an operator can deliberately skip ahead.
func ResumeSlot(cp *Checkpoint, configured uint64) uint64 {
	if cp == nil {
		return configured
	}
	if configured > cp.Slot {
		return configured
	}
	return cp.Slot
}

// fileStore persists checkpoints to local files.
type fileStore struct {
	dir string

	mu   sync.Mutex
	last *Checkpoint
}

// checkpointPath returns the path to the checkpoint file for a network.
func (s *fileStore) checkpointPath(network string) string {
	filename := fmt.Sprintf("checkpoint_%s.json", network)
	return filepath.Join(s.dir, filename)
}

// Load reads the checkpoint from file.
func (s *fileStore) Load(ctx context.Context) (*Checkpoint, error) {
	// Try to find any checkpoint file in the directory
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}

	// Look for checkpoint files
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if len(entry.Name()) < 11 || entry.Name()[:11] != "checkpoint_" {
			continue
		}

		// Found a checkpoint file, load it
		path := filepath.Join(s.dir, entry.Name())
		return s.loadFromPath(path)
	}

	return nil, ErrNoCheckpoint
}

// loadFromPath reads a checkpoint from a specific file.
func (s *fileStore) loadFromPath(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	return &cp, nil
}

// Save persists the checkpoint to file. Saves must be monotonic in
// (slot, offset); a regression means two writers or a logic bug upstream,
// and certifying it would corrupt resumption.
func (s *fileStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && cp.Before(s.last) {
		return fmt.Errorf("%w: have slot=%d offset=%d, got slot=%d offset=%d",
			ErrRegression, s.last.Slot, s.last.Offset, cp.Slot, cp.Offset)
	}

	path := s.checkpointPath(cp.Network)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	saved := *cp
	s.last = &saved
	return nil
}

// LoadForNetwork loads the checkpoint for a specific network.
func (s *fileStore) LoadForNetwork(ctx context.Context, network string) (*Checkpoint, error) {
	path := s.checkpointPath(network)
	return s.loadFromPath(path)
}

// noopStore is a no-op checkpoint store for when checkpointing is disabled.
type noopStore struct{}

func (s *noopStore) Load(ctx context.Context) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (s *noopStore) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
