package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/decode"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/logging"
)

// Row is one archived transaction. Array fields carry the same JSON
// encoding as the ClickHouse columns so the two copies line up.
type Row struct {
	Signature    string    `parquet:"signature"`
	Slot         uint64    `parquet:"slot"`
	TxIndex      uint64    `parquet:"tx_index"`
	IsVote       bool      `parquet:"is_vote"`
	Success      bool      `parquet:"success"`
	Fee          uint64    `parquet:"fee"`
	ComputeUnits *uint64   `parquet:"compute_units_consumed"`
	PreBalances  string    `parquet:"pre_balances_json"`
	PostBalances string    `parquet:"post_balances_json"`
	LogMessages  string    `parquet:"log_messages_json"`
	AccountKeys  string    `parquet:"account_keys_json"`
	Instructions string    `parquet:"instructions_json"`
	Timestamp    time.Time `parquet:"timestamp,timestamp(millisecond)"`
	IngestedAt   time.Time `parquet:"ingested_at,timestamp(millisecond)"`
	Network      string    `parquet:"network"`
}

// Archiver accumulates committed transactions and rolls them into parquet
// segments of a fixed slot span. Segment windows are aligned to the span,
// so the segment a slot lands in does not depend on where the run started.
//
// An Archiver is driven from the writer's commit path; methods are not safe
// for concurrent use.
type Archiver struct {
	store    Store
	network  string
	producer ProducerInfo
	segSlots uint64
	prefix   string
	log      *slog.Logger

	rows     []Row
	base     uint64 // aligned window start of the open segment
	haveBase bool
	minSlot  uint64
	maxSlot  uint64
}

// New creates an Archiver over the configured backend.
func New(cfg config.ArchiveConfig, network, producerName, producerVersion string) (*Archiver, error) {
	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	segSlots := cfg.SegmentSlots
	if segSlots == 0 {
		segSlots = 1000
	}
	return &Archiver{
		store:    store,
		network:  network,
		producer: ProducerInfo{Name: producerName, Version: producerVersion},
		segSlots: segSlots,
		prefix:   cfg.Prefix,
		log:      logging.Component("archive"),
	}, nil
}

// Append adds committed records to the open segment, rolling a finished
// segment to storage when a record crosses into the next slot window.
func (a *Archiver) Append(ctx context.Context, recs []*decode.Record) error {
	ingestedAt := time.Now().UTC()
	for _, rec := range recs {
		window := rec.Slot - rec.Slot%a.segSlots
		if a.haveBase && window > a.base {
			if err := a.flush(ctx); err != nil {
				return err
			}
		}
		if !a.haveBase {
			a.base = window
			a.haveBase = true
			a.minSlot = rec.Slot
			a.maxSlot = rec.Slot
		}
		if rec.Slot < a.minSlot {
			a.minSlot = rec.Slot
		}
		if rec.Slot > a.maxSlot {
			a.maxSlot = rec.Slot
		}
		a.rows = append(a.rows, a.toRow(rec, ingestedAt))
	}
	return nil
}

// Close flushes the open segment and releases the backend.
func (a *Archiver) Close(ctx context.Context) error {
	flushErr := a.flush(ctx)
	if err := a.store.Close(); err != nil && flushErr == nil {
		flushErr = err
	}
	return flushErr
}

// flush writes the open segment and its manifest, then resets the buffer.
func (a *Archiver) flush(ctx context.Context) error {
	if len(a.rows) == 0 {
		return nil
	}

	data, err := encodeParquet(a.rows)
	if err != nil {
		return fmt.Errorf("encode segment: %w", err)
	}

	ref := SegmentRef{
		Network:   a.network,
		SlotStart: a.base,
		SlotEnd:   a.base + a.segSlots - 1,
	}
	if err := a.store.WriteSegment(ctx, ref, data); err != nil {
		return fmt.Errorf("write segment %s: %w", ref.FileName(), err)
	}

	manifest := &Manifest{
		Segment: SegmentInfo{
			Network:   a.network,
			SlotStart: ref.SlotStart,
			SlotEnd:   ref.SlotEnd,
			MinSlot:   a.minSlot,
			MaxSlot:   a.maxSlot,
			RowCount:  int64(len(a.rows)),
		},
		File: FileInfo{
			File:     ref.FileName(),
			Checksum: ComputeChecksum(data),
			ByteSize: int64(len(data)),
		},
		Producer:  a.producer,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.WriteManifest(ctx, ref, manifest); err != nil {
		return fmt.Errorf("write manifest for %s: %w", ref.FileName(), err)
	}

	a.log.Info("archive segment written",
		"uri", a.store.URI(ref.Path(a.prefix)),
		"slot_start", ref.SlotStart,
		"slot_end", ref.SlotEnd,
		"rows", len(a.rows),
		"bytes", len(data),
	)

	a.rows = nil
	a.haveBase = false
	return nil
}

func (a *Archiver) toRow(rec *decode.Record, ingestedAt time.Time) Row {
	return Row{
		Signature:    rec.Signature,
		Slot:         rec.Slot,
		TxIndex:      rec.Index,
		IsVote:       rec.IsVote,
		Success:      rec.Success,
		Fee:          rec.Fee,
		ComputeUnits: rec.ComputeUnitsConsumed,
		PreBalances:  jsonField(rec.PreBalances),
		PostBalances: jsonField(rec.PostBalances),
		LogMessages:  jsonField(rec.LogMessages),
		AccountKeys:  jsonField(rec.AccountKeys),
		Instructions: jsonField(rec.Instructions),
		Timestamp:    rec.Timestamp,
		IngestedAt:   ingestedAt,
		Network:      a.network,
	}
}

func encodeParquet(rows []Row) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := parquet.NewGenericWriter[Row](buf, parquet.Compression(&parquet.Snappy))
	if _, err := w.Write(rows); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// jsonField encodes a slice field, mapping nil to an empty JSON array.
func jsonField(v any) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return "[]"
	}
	return string(data)
}
