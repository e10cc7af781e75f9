package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/decode"
)

const insertTransactionsQuery = `INSERT INTO transactions
(signature, slot, is_vote, tx_index, success, fee, compute_units_consumed,
 pre_balances, post_balances, log_messages, account_keys, instructions,
 timestamp, ingested_at) VALUES`

const insertSlotsQuery = `INSERT INTO slots (slot, status, updated_at) VALUES`

const insertBatchAuditQuery = `INSERT INTO ingest_batches
(batch_id, indexer_id, network, slot_start, slot_end, row_count,
 duplicate_count, attempts, written_at) VALUES`

// SlotMark is one observation from the slot status feed.
type SlotMark struct {
	Slot      uint64
	Status    string
	UpdatedAt time.Time
}

// BatchAudit is the audit row recorded after a batch commits.
type BatchAudit struct {
	BatchID    string
	IndexerID  string
	Network    string
	SlotStart  uint64
	SlotEnd    uint64
	RowCount   uint64
	Duplicates uint64
	Attempts   uint8
	WrittenAt  time.Time
}

// InsertTransactions writes one batch of normalized records. ingestedAt is
// the ReplacingMergeTree version for every row in the batch, so a retried
// batch supersedes its earlier partial write.
func (db *DB) InsertTransactions(ctx context.Context, records []*decode.Record, ingestedAt time.Time) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, insertTransactionsQuery)
	if err != nil {
		return fmt.Errorf("prepare transactions batch: %w", err)
	}
	defer batch.Abort()

	for _, rec := range records {
		preBalances, err := jsonColumn(rec.PreBalances)
		if err != nil {
			return fmt.Errorf("encode pre_balances for %s: %w", rec.Signature, err)
		}
		postBalances, err := jsonColumn(rec.PostBalances)
		if err != nil {
			return fmt.Errorf("encode post_balances for %s: %w", rec.Signature, err)
		}
		logMessages, err := jsonColumn(rec.LogMessages)
		if err != nil {
			return fmt.Errorf("encode log_messages for %s: %w", rec.Signature, err)
		}
		accountKeys, err := jsonColumn(rec.AccountKeys)
		if err != nil {
			return fmt.Errorf("encode account_keys for %s: %w", rec.Signature, err)
		}
		instructions, err := jsonColumn(rec.Instructions)
		if err != nil {
			return fmt.Errorf("encode instructions for %s: %w", rec.Signature, err)
		}

		if err := batch.Append(
			rec.Signature,
			rec.Slot,
			boolUInt8(rec.IsVote),
			rec.Index,
			boolUInt8(rec.Success),
			rec.Fee,
			rec.ComputeUnitsConsumed,
			preBalances,
			postBalances,
			logMessages,
			accountKeys,
			instructions,
			rec.Timestamp,
			ingestedAt,
		); err != nil {
			return fmt.Errorf("append transaction %s: %w", rec.Signature, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send transactions batch: %w", err)
	}
	return nil
}

// InsertSlots writes slot status observations.
func (db *DB) InsertSlots(ctx context.Context, marks []SlotMark) error {
	if len(marks) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, insertSlotsQuery)
	if err != nil {
		return fmt.Errorf("prepare slots batch: %w", err)
	}
	defer batch.Abort()

	for _, mark := range marks {
		if err := batch.Append(mark.Slot, mark.Status, mark.UpdatedAt); err != nil {
			return fmt.Errorf("append slot %d: %w", mark.Slot, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send slots batch: %w", err)
	}
	return nil
}

// InsertBatchAudit records the audit row for one committed batch.
func (db *DB) InsertBatchAudit(ctx context.Context, audit BatchAudit) error {
	batch, err := db.conn.PrepareBatch(ctx, insertBatchAuditQuery)
	if err != nil {
		return fmt.Errorf("prepare audit batch: %w", err)
	}
	defer batch.Abort()

	if err := batch.Append(
		audit.BatchID,
		audit.IndexerID,
		audit.Network,
		audit.SlotStart,
		audit.SlotEnd,
		audit.RowCount,
		audit.Duplicates,
		audit.Attempts,
		audit.WrittenAt,
	); err != nil {
		return fmt.Errorf("append audit row %s: %w", audit.BatchID, err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send audit batch: %w", err)
	}
	return nil
}

// jsonColumn serializes array-shaped fields into their String columns.
// nil slices encode as empty arrays, not null.
func jsonColumn(v any) (string, error) {
	switch val := v.(type) {
	case []uint64:
		if val == nil {
			return "[]", nil
		}
	case []string:
		if val == nil {
			return "[]", nil
		}
	case []decode.Instruction:
		if val == nil {
			return "[]", nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func boolUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
