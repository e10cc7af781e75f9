package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
)

func testEvent(batchID string) Event {
	return Event{
		EmittedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Batch: BatchInfo{
			BatchID:   batchID,
			IndexerID: "solana-indexer",
			Network:   "mainnet",
			SlotStart: 348999000,
			SlotEnd:   348999031,
			RowCount:  950,
			Checksum:  "sha256:abc123",
		},
	}
}

func TestSetChainHashes(t *testing.T) {
	ev := testEvent("batch-1")
	ev.SetChainHashes("")

	if ev.Chain.EventHash == "" {
		t.Error("EventHash should be computed")
	}
	if !strings.HasPrefix(ev.Chain.EventHash, "sha256:") {
		t.Errorf("EventHash should start with 'sha256:', got: %s", ev.Chain.EventHash)
	}
	if ev.Chain.PrevEventHash != "" {
		t.Errorf("PrevEventHash should be empty for first in chain, got: %s", ev.Chain.PrevEventHash)
	}
}

func TestHashDeterminism(t *testing.T) {
	ev1 := testEvent("batch-1")
	ev1.SetChainHashes("prev_hash_123")

	ev2 := testEvent("batch-1")
	ev2.SetChainHashes("prev_hash_123")

	if ev1.Chain.EventHash != ev2.Chain.EventHash {
		t.Errorf("identical events should hash identically:\n  %s\n  %s",
			ev1.Chain.EventHash, ev2.Chain.EventHash)
	}
}

func TestHashCoversPrevHash(t *testing.T) {
	ev1 := testEvent("batch-1")
	ev1.SetChainHashes("prev_hash_A")

	ev2 := testEvent("batch-1")
	ev2.SetChainHashes("prev_hash_B")

	if ev1.Chain.EventHash == ev2.Chain.EventHash {
		t.Error("different prev_hash should produce different event_hash")
	}
}

func TestHashCoversContent(t *testing.T) {
	ev1 := testEvent("batch-1")
	ev1.SetChainHashes("")

	ev2 := testEvent("batch-1")
	ev2.Batch.Checksum = "sha256:tampered"
	ev2.SetChainHashes("")

	if ev1.Chain.EventHash == ev2.Chain.EventHash {
		t.Error("different content should produce different event_hash")
	}
}

func readJournal(t *testing.T, path string) []Event {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("parse journal line: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestFileEmitterChainsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.jsonl")

	emitter, err := NewFileEmitter(path)
	if err != nil {
		t.Fatalf("NewFileEmitter: %v", err)
	}
	if err := emitter.EmitCommit(context.Background(), testEvent("batch-1")); err != nil {
		t.Fatalf("emit batch-1: %v", err)
	}
	if err := emitter.EmitCommit(context.Background(), testEvent("batch-2")); err != nil {
		t.Fatalf("emit batch-2: %v", err)
	}
	emitter.Close()

	// A new emitter over the same journal must continue the chain.
	emitter, err = NewFileEmitter(path)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer emitter.Close()
	if err := emitter.EmitCommit(context.Background(), testEvent("batch-3")); err != nil {
		t.Fatalf("emit batch-3: %v", err)
	}

	events := readJournal(t, path)
	if len(events) != 3 {
		t.Fatalf("journal has %d events, want 3", len(events))
	}
	if events[0].Chain.PrevEventHash != "" {
		t.Errorf("first event prev hash = %q, want empty", events[0].Chain.PrevEventHash)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Chain.PrevEventHash != events[i-1].Chain.EventHash {
			t.Errorf("event %d prev hash %q does not link to %q",
				i, events[i].Chain.PrevEventHash, events[i-1].Chain.EventHash)
		}
	}
	for i, ev := range events {
		if ev.EventType != "batch_committed" {
			t.Errorf("event %d type = %q, want batch_committed", i, ev.EventType)
		}
		if ev.EventID == "" {
			t.Errorf("event %d has no event id", i)
		}
	}
}

func TestHTTPEmitterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	emitter, err := NewHTTPEmitter(config.NotifyConfig{
		Mode:     "http",
		Endpoint: server.URL,
		Path:     filepath.Join(t.TempDir(), "commits.jsonl"),
	})
	if err != nil {
		t.Fatalf("NewHTTPEmitter: %v", err)
	}
	defer emitter.Close()
	emitter.retryWait = time.Millisecond

	if err := emitter.EmitCommit(context.Background(), testEvent("batch-1")); err != nil {
		t.Fatalf("EmitCommit: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("endpoint called %d times, want 3", got)
	}
}

func TestNewEmitterModes(t *testing.T) {
	if _, err := New(config.NotifyConfig{Mode: "disabled"}); err != nil {
		t.Errorf("disabled mode: %v", err)
	}
	if _, err := New(config.NotifyConfig{}); err != nil {
		t.Errorf("empty mode: %v", err)
	}
	if _, err := New(config.NotifyConfig{Mode: "carrier-pigeon"}); err == nil {
		t.Error("unknown mode should fail")
	}
}
