// Package writer accumulates released records into batches and commits
// them. The commit lifecycle is ordered and must not be rearranged:
//
//  1. Seal the batch (sort, drop in-batch duplicates)
//  2. Validate
//  3. Write rows to storage, with a retry budget
//  4. Record the audit row
//  5. Hand the records to the cold archive (never fails the batch)
//  6. Emit the commit notification
//  7. Save the checkpoint
//
// The checkpoint is last on purpose: it only ever certifies rows storage
// has acknowledged.
package writer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/checkpoint"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/clickhouse"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/decode"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/logging"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/metrics"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/notify"
)

// ErrWriteExhausted reports a batch that failed every write attempt.
var ErrWriteExhausted = errors.New("write retries exhausted")

// Store is the storage surface the writer commits to.
type Store interface {
	InsertTransactions(ctx context.Context, records []*decode.Record, ingestedAt time.Time) error
	InsertSlots(ctx context.Context, marks []clickhouse.SlotMark) error
	InsertBatchAudit(ctx context.Context, audit clickhouse.BatchAudit) error
}

// Archiver receives committed records for cold storage. Archive failures
// are surfaced but never fail a batch.
type Archiver interface {
	Append(ctx context.Context, records []*decode.Record) error
}

// Batch is one commit unit moving through the write lifecycle.
type Batch struct {
	ID         string
	State      State
	Records    []*decode.Record
	Slots      []clickhouse.SlotMark
	SlotStart  uint64
	SlotEnd    uint64
	Duplicates uint64
	Attempts   int
}

// Deps are the writer's collaborators.
type Deps struct {
	Store        Store
	Checkpoints  checkpoint.Store
	Notifier     notify.Emitter
	NotifyStrict bool
	Archiver     Archiver
	Network      string
	IndexerID    string
}

// Writer owns the open batch and the commit lifecycle. It is driven from a
// single goroutine; methods are not safe for concurrent use.
type Writer struct {
	cfg config.WriterConfig
	d   Deps
	log *slog.Logger

	pending    []*decode.Record
	slots      []clickhouse.SlotMark
	duplicates uint64
	opened     time.Time

	durableSlot   uint64
	durableOffset uint64
	totalRows     uint64
	committed     uint64
}

// New creates a writer.
func New(cfg config.WriterConfig, deps Deps) *Writer {
	return &Writer{
		cfg: cfg,
		d:   deps,
		log: logging.Component("writer"),
	}
}

// Add appends released records to the open batch, committing every time it
// reaches the configured size.
func (w *Writer) Add(ctx context.Context, records []*decode.Record) error {
	for _, rec := range records {
		if len(w.pending) == 0 {
			w.opened = time.Now()
		}
		w.pending = append(w.pending, rec)
		if len(w.pending) >= w.cfg.BatchSize {
			if err := w.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddSlots buffers slot status marks; they ride along with the next commit.
func (w *Writer) AddSlots(marks ...clickhouse.SlotMark) {
	w.slots = append(w.slots, marks...)
}

// NoteDuplicates accounts upstream duplicate drops against the next batch's
// audit row.
func (w *Writer) NoteDuplicates(n uint64) {
	w.duplicates += n
}

// Pending returns the open batch size.
func (w *Writer) Pending() int {
	return len(w.pending)
}

// Age returns how long the open batch has been accumulating.
func (w *Writer) Age() time.Duration {
	if len(w.pending) == 0 {
		return 0
	}
	return time.Since(w.opened)
}

// Committed returns the number of committed batches.
func (w *Writer) Committed() uint64 {
	return w.committed
}

// DurablePosition returns the highest certified (slot, offset).
func (w *Writer) DurablePosition() (slot, offset uint64) {
	return w.durableSlot, w.durableOffset
}

// Flush commits the open batch if there is anything to write.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.pending) == 0 && len(w.slots) == 0 {
		return nil
	}

	batch := w.seal()
	return w.commit(ctx, batch)
}

// seal turns the accumulated records into an immutable batch: sorted by
// (slot, tx index), in-batch duplicate signatures dropped. Duplicates can
// reach the writer when a signature recurs after its slot already flushed.
func (w *Writer) seal() *Batch {
	records := w.pending
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Slot != records[j].Slot {
			return records[i].Slot < records[j].Slot
		}
		return records[i].Index < records[j].Index
	})

	duplicates := w.duplicates
	deduped := records[:0]
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.Signature]; dup {
			duplicates++
			continue
		}
		seen[rec.Signature] = struct{}{}
		deduped = append(deduped, rec)
	}

	batch := &Batch{
		ID:         uuid.NewString(),
		State:      StateOpen,
		Records:    deduped,
		Slots:      w.slots,
		Duplicates: duplicates,
	}
	if n := len(deduped); n > 0 {
		batch.SlotStart = deduped[0].Slot
		batch.SlotEnd = deduped[n-1].Slot
	}

	w.pending = nil
	w.slots = nil
	w.duplicates = 0
	return batch
}

func (w *Writer) commit(ctx context.Context, batch *Batch) error {
	start := time.Now()
	correlationID := logging.GenerateCorrelationID()
	log := logging.BatchLogger(correlationID, batch.ID, batch.SlotStart, batch.SlotEnd, len(batch.Records))

	w.transition(log, batch, StateFlushing)

	result := Validate(batch)
	if !result.Passed {
		w.transition(log, batch, StateFailed)
		if m := metrics.Get(); m != nil {
			m.IncBatchesFailed(metrics.Labels{Network: w.d.Network, Reason: "validation"})
		}
		return fmt.Errorf("batch %s failed validation: %s", batch.ID, strings.Join(result.Errors, "; "))
	}
	for _, warning := range result.Warnings {
		log.Warn("batch validation warning", "warning", warning)
	}

	if err := w.writeWithRetry(ctx, log, batch); err != nil {
		return err
	}

	// Slot-only flushes carry no transaction rows; there is nothing to
	// audit or certify.
	if len(batch.Records) > 0 {
		w.recordAudit(ctx, log, batch)
		w.archiveBatch(ctx, log, batch)
		if err := w.notifyCommit(ctx, log, batch); err != nil {
			return err
		}
		if err := w.saveCheckpoint(ctx, log, batch); err != nil {
			return err
		}
	}

	w.transition(log, batch, StateCommitted)
	w.committed++

	elapsed := time.Since(start)
	if m := metrics.Get(); m != nil {
		l := metrics.Labels{Network: w.d.Network}
		m.IncBatchesWritten(l)
		m.AddRowsWritten(l, float64(len(batch.Records)))
		m.ObserveWriteDuration(l, elapsed.Seconds())
		m.ObserveBatchRows(l, float64(len(batch.Records)))
	}
	log.Info("batch committed",
		"attempts", batch.Attempts,
		"slot_marks", len(batch.Slots),
		"duplicates", batch.Duplicates,
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

func (w *Writer) writeWithRetry(ctx context.Context, log *slog.Logger, batch *Batch) error {
	w.transition(log, batch, StateWriting)

	var lastErr error
	for attempt := 0; attempt < w.cfg.MaxRetries; attempt++ {
		batch.Attempts = attempt + 1

		if attempt > 0 {
			backoff := time.Duration(w.cfg.RetryBackoffMs*(1<<(attempt-1))) * time.Millisecond
			w.transition(log, batch, StateRetrying)
			log.Warn("batch write failed, retrying",
				"attempt", batch.Attempts,
				"backoff", backoff.String(),
				"error", lastErr,
			)
			if m := metrics.Get(); m != nil {
				m.IncWriteRetries(metrics.Labels{Network: w.d.Network})
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			w.transition(log, batch, StateWriting)
		}

		if lastErr = w.writeOnce(ctx, batch); lastErr == nil {
			return nil
		}
	}

	w.transition(log, batch, StateFailed)
	if m := metrics.Get(); m != nil {
		m.IncBatchesFailed(metrics.Labels{Network: w.d.Network, Reason: "write"})
	}
	return fmt.Errorf("%w: batch %s after %d attempts: %v", ErrWriteExhausted, batch.ID, batch.Attempts, lastErr)
}

// writeOnce pushes rows with a fresh version timestamp, so a retried batch
// supersedes any partial write left by the failed attempt.
func (w *Writer) writeOnce(ctx context.Context, batch *Batch) error {
	ingestedAt := time.Now().UTC()
	if err := w.d.Store.InsertTransactions(ctx, batch.Records, ingestedAt); err != nil {
		return err
	}
	return w.d.Store.InsertSlots(ctx, batch.Slots)
}

// recordAudit writes the batch audit row. Audit failures do not undo a
// committed batch.
func (w *Writer) recordAudit(ctx context.Context, log *slog.Logger, batch *Batch) {
	attempts := batch.Attempts
	if attempts > 255 {
		attempts = 255
	}
	audit := clickhouse.BatchAudit{
		BatchID:    batch.ID,
		IndexerID:  w.d.IndexerID,
		Network:    w.d.Network,
		SlotStart:  batch.SlotStart,
		SlotEnd:    batch.SlotEnd,
		RowCount:   uint64(len(batch.Records)),
		Duplicates: batch.Duplicates,
		Attempts:   uint8(attempts),
		WrittenAt:  time.Now().UTC(),
	}
	if err := w.d.Store.InsertBatchAudit(ctx, audit); err != nil {
		log.Warn("failed to record batch audit", "error", err)
	}
}

func (w *Writer) archiveBatch(ctx context.Context, log *slog.Logger, batch *Batch) {
	if w.d.Archiver == nil {
		return
	}
	if err := w.d.Archiver.Append(ctx, batch.Records); err != nil {
		log.Warn("failed to archive batch", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncArchiveErrors(metrics.Labels{Network: w.d.Network})
		}
	}
}

// notifyCommit emits the commit event. The rows are already durable, so
// emission failure fails the batch only in strict mode.
func (w *Writer) notifyCommit(ctx context.Context, log *slog.Logger, batch *Batch) error {
	if w.d.Notifier == nil {
		return nil
	}

	ev := notify.Event{
		Batch: notify.BatchInfo{
			BatchID:   batch.ID,
			IndexerID: w.d.IndexerID,
			Network:   w.d.Network,
			SlotStart: batch.SlotStart,
			SlotEnd:   batch.SlotEnd,
			RowCount:  uint64(len(batch.Records)),
			Checksum:  batchChecksum(batch.Records),
		},
	}
	if err := w.d.Notifier.EmitCommit(ctx, ev); err != nil {
		if w.d.NotifyStrict {
			return fmt.Errorf("emit commit event (strict mode): %w", err)
		}
		log.Warn("failed to emit commit event", "error", err)
		if m := metrics.Get(); m != nil {
			m.IncNotifyErrors(metrics.Labels{Network: w.d.Network})
		}
	}
	return nil
}

// saveCheckpoint certifies the batch. The durable position only moves
// forward: a late batch of already-passed slots keeps the prior position.
func (w *Writer) saveCheckpoint(ctx context.Context, log *slog.Logger, batch *Batch) error {
	w.totalRows += uint64(len(batch.Records))

	switch {
	case batch.SlotEnd > w.durableSlot:
		w.durableSlot = batch.SlotEnd
		w.durableOffset = lastIndexInSlot(batch.Records, batch.SlotEnd)
	case batch.SlotEnd == w.durableSlot:
		if offset := lastIndexInSlot(batch.Records, batch.SlotEnd); offset > w.durableOffset {
			w.durableOffset = offset
		}
	}

	cp := &checkpoint.Checkpoint{
		IndexerID: w.d.IndexerID,
		Network:   w.d.Network,
		Slot:      w.durableSlot,
		Offset:    w.durableOffset,
		Rows:      w.totalRows,
		UpdatedAt: time.Now().UTC(),
	}
	if err := w.d.Checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint for batch %s: %w", batch.ID, err)
	}

	if m := metrics.Get(); m != nil {
		l := metrics.Labels{Network: w.d.Network}
		m.IncCheckpointSaves(l)
		m.SetLastDurableSlot(l, float64(w.durableSlot))
	}
	log.Debug("checkpoint advanced", "durable_slot", w.durableSlot, "durable_offset", w.durableOffset)
	return nil
}

func (w *Writer) transition(log *slog.Logger, batch *Batch, to State) {
	if batch.State == to {
		return
	}
	log.Debug("batch state", "from", batch.State.String(), "to", to.String())
	batch.State = to
}

// lastIndexInSlot returns the tx index of the final record in slot. Records
// are sorted, so the scan walks backwards from the end.
func lastIndexInSlot(records []*decode.Record, slot uint64) uint64 {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Slot == slot {
			return records[i].Index
		}
		if records[i].Slot < slot {
			break
		}
	}
	return 0
}

// batchChecksum digests (slot, signature) pairs in batch order.
func batchChecksum(records []*decode.Record) string {
	h := sha256.New()
	for _, rec := range records {
		fmt.Fprintf(h, "%d:%s\n", rec.Slot, rec.Signature)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
