package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/decode"
)

func testRecord(slot, index uint64) *decode.Record {
	return &decode.Record{
		Signature:   fmt.Sprintf("sig-%d-%d", slot, index),
		Slot:        slot,
		Index:       index,
		Success:     true,
		Fee:         5000,
		AccountKeys: []string{"payer", "program"},
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLocalStoreWriteAndExists(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "archive-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := NewLocalStore(tmpDir, "segments/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	ref := SegmentRef{Network: "testnet", SlotStart: 1000, SlotEnd: 1999}

	exists, err := store.Exists(ctx, ref)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("segment should not exist before write")
	}

	data := []byte("fake parquet data for testing")
	if err := store.WriteSegment(ctx, ref, data); err != nil {
		t.Fatalf("WriteSegment failed: %v", err)
	}

	manifest := &Manifest{
		Segment: SegmentInfo{
			Network:   "testnet",
			SlotStart: 1000,
			SlotEnd:   1999,
			MinSlot:   1000,
			MaxSlot:   1500,
			RowCount:  10,
		},
		File: FileInfo{
			File:     ref.FileName(),
			Checksum: ComputeChecksum(data),
			ByteSize: int64(len(data)),
		},
		Producer:  ProducerInfo{Name: "test-indexer", Version: "test"},
		CreatedAt: time.Now(),
	}
	if err := store.WriteManifest(ctx, ref, manifest); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}

	exists, err = store.Exists(ctx, ref)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("segment should exist after write")
	}

	// No temp files left behind
	segPath := filepath.Join(tmpDir, ref.Path("segments/"))
	if _, err := os.Stat(segPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be removed after write")
	}

	got, err := os.ReadFile(segPath)
	if err != nil {
		t.Fatalf("failed to read segment: %v", err)
	}
	if string(got) != string(data) {
		t.Error("segment data mismatch")
	}

	manifestData, err := os.ReadFile(filepath.Join(tmpDir, ref.ManifestPath("segments/")))
	if err != nil {
		t.Fatalf("failed to read manifest: %v", err)
	}
	var parsed Manifest
	if err := json.Unmarshal(manifestData, &parsed); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if parsed.Segment.RowCount != 10 {
		t.Errorf("manifest row count = %d, want 10", parsed.Segment.RowCount)
	}
	if !VerifyChecksum(got, parsed.File.Checksum) {
		t.Error("manifest checksum should match segment bytes")
	}
}

func TestSegmentPathLayout(t *testing.T) {
	ref := SegmentRef{Network: "mainnet", SlotStart: 2000, SlotEnd: 2999}

	path := ref.Path("segments/")
	expected := "segments/mainnet/transactions/slots=2000-2999/part-2000-2999.parquet"
	if path != expected {
		t.Errorf("Path = %s, want %s", path, expected)
	}

	manifestPath := ref.ManifestPath("segments/")
	expected = "segments/mainnet/transactions/slots=2000-2999/_manifest.json"
	if manifestPath != expected {
		t.Errorf("ManifestPath = %s, want %s", manifestPath, expected)
	}
}

func TestArchiverRollsSegmentsByAlignedWindow(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "archive-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := config.ArchiveConfig{
		Enabled:      true,
		Backend:      "local",
		LocalDir:     tmpDir,
		Prefix:       "segments/",
		SegmentSlots: 10,
	}
	archiver, err := New(cfg, "testnet", "test-indexer", "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()

	// Slots 5..9 stay in window 0-9; slot 12 crosses into 10-19.
	if err := archiver.Append(ctx, []*decode.Record{
		testRecord(5, 0),
		testRecord(7, 0),
		testRecord(9, 1),
	}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := archiver.Append(ctx, []*decode.Record{testRecord(12, 0)}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	firstRef := SegmentRef{Network: "testnet", SlotStart: 0, SlotEnd: 9}
	firstPath := filepath.Join(tmpDir, firstRef.Path("segments/"))
	if _, err := os.Stat(firstPath); err != nil {
		t.Fatalf("first segment should be flushed on window cross: %v", err)
	}

	secondRef := SegmentRef{Network: "testnet", SlotStart: 10, SlotEnd: 19}
	secondPath := filepath.Join(tmpDir, secondRef.Path("segments/"))
	if _, err := os.Stat(secondPath); !os.IsNotExist(err) {
		t.Error("second segment should stay open until Close")
	}

	if err := archiver.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(secondPath); err != nil {
		t.Fatalf("second segment should be flushed on Close: %v", err)
	}

	rows := readSegment(t, firstPath)
	if len(rows) != 3 {
		t.Fatalf("first segment rows = %d, want 3", len(rows))
	}
	if rows[0].Signature != "sig-5-0" || rows[0].Slot != 5 {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[0].AccountKeys != `["payer","program"]` {
		t.Errorf("account keys JSON = %s", rows[0].AccountKeys)
	}
	if rows[0].Instructions != "[]" {
		t.Errorf("nil instructions should encode as [], got %s", rows[0].Instructions)
	}
	if rows[0].Network != "testnet" {
		t.Errorf("network = %s, want testnet", rows[0].Network)
	}

	var manifest Manifest
	manifestData, err := os.ReadFile(filepath.Join(tmpDir, firstRef.ManifestPath("segments/")))
	if err != nil {
		t.Fatalf("failed to read manifest: %v", err)
	}
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if manifest.Segment.MinSlot != 5 || manifest.Segment.MaxSlot != 9 {
		t.Errorf("manifest slot bounds = %d-%d, want 5-9", manifest.Segment.MinSlot, manifest.Segment.MaxSlot)
	}
	if manifest.Segment.RowCount != 3 {
		t.Errorf("manifest row count = %d, want 3", manifest.Segment.RowCount)
	}
	if manifest.Producer.Name != "test-indexer" {
		t.Errorf("producer name = %s", manifest.Producer.Name)
	}
}

func TestArchiverCloseWithoutRowsWritesNothing(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "archive-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := config.ArchiveConfig{
		Backend:      "local",
		LocalDir:     tmpDir,
		Prefix:       "segments/",
		SegmentSlots: 10,
	}
	archiver, err := New(cfg, "testnet", "test-indexer", "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := archiver.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("empty archiver should write nothing, found %d entries", len(entries))
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	data := []byte("segment payload")
	sum := ComputeChecksum(data)
	if !VerifyChecksum(data, sum) {
		t.Error("checksum should verify against its own data")
	}
	if VerifyChecksum([]byte("other payload"), sum) {
		t.Error("checksum should not verify against different data")
	}
}

func TestUnknownBackend(t *testing.T) {
	_, err := NewStore(config.ArchiveConfig{Backend: "tape"})
	if err == nil {
		t.Error("NewStore should fail for unknown backend")
	}
}

func readSegment(t *testing.T, path string) []Row {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open segment: %v", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		t.Fatalf("failed to stat segment: %v", err)
	}

	rows, err := parquet.Read[Row](f, st.Size())
	if err != nil {
		t.Fatalf("failed to read segment: %v", err)
	}
	return rows
}
