package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/logging"
)

// journal is the append-only JSONL sink shared by the file and http
// emitters. It also tracks the chain head, recovering it from the journal
// tail on open so a restarted indexer continues the chain.
type journal struct {
	mu   sync.Mutex
	file *os.File
	head string
}

func openJournal(path string) (*journal, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create notify dir: %w", err)
		}
	}

	head, err := lastEventHash(path)
	if err != nil {
		return nil, fmt.Errorf("recover chain head: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open notify journal: %w", err)
	}

	return &journal{file: file, head: head}, nil
}

func (j *journal) append(ev *Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	j.head = ev.Chain.EventHash
	return nil
}

func (j *journal) lastHash() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.head
}

func (j *journal) Close() error {
	return j.file.Close()
}

// lastEventHash scans an existing journal for the hash of its final event.
// A missing journal starts a fresh chain.
func lastEventHash(path string) (string, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer file.Close()

	var last string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if last == "" {
		return "", nil
	}

	var ev Event
	if err := json.Unmarshal([]byte(last), &ev); err != nil {
		return "", fmt.Errorf("parse journal tail: %w", err)
	}
	return ev.Chain.EventHash, nil
}

// FileEmitter appends commit events to a local JSONL journal.
type FileEmitter struct {
	journal *journal
	log     *slog.Logger
}

// NewFileEmitter opens (or creates) the journal at path.
func NewFileEmitter(path string) (*FileEmitter, error) {
	j, err := openJournal(path)
	if err != nil {
		return nil, err
	}
	return &FileEmitter{
		journal: j,
		log:     logging.Component("notify"),
	}, nil
}

// EmitCommit seals the event against the chain head and appends it.
func (e *FileEmitter) EmitCommit(_ context.Context, ev Event) error {
	seal(&ev, e.journal.lastHash())
	if err := e.journal.append(&ev); err != nil {
		return err
	}
	e.log.Debug("emitted commit event",
		"event_id", ev.EventID,
		"batch_id", ev.Batch.BatchID,
		"event_hash", ev.Chain.EventHash,
	)
	return nil
}

// Close closes the journal.
func (e *FileEmitter) Close() error {
	return e.journal.Close()
}
