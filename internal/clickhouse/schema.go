package clickhouse

// Table DDL. The transactions table uses ReplacingMergeTree keyed on
// (slot, signature) so that replayed batches converge to one row per
// transaction: at-least-once delivery upstream, exactly-once effect after
// merges. Readers that need the collapsed view query with FINAL.
const transactionsDDL = `
CREATE TABLE IF NOT EXISTS transactions (
    signature              String        CODEC(ZSTD(1)),
    slot                   UInt64        CODEC(Delta, LZ4),
    is_vote                UInt8,
    tx_index               UInt64,
    success                UInt8,
    fee                    UInt64        CODEC(Delta, LZ4),
    compute_units_consumed Nullable(UInt64),
    pre_balances           String        CODEC(ZSTD(1)),
    post_balances          String        CODEC(ZSTD(1)),
    log_messages           String        CODEC(ZSTD(3)),
    account_keys           String        CODEC(ZSTD(1)),
    instructions           String        CODEC(ZSTD(3)),
    timestamp              DateTime64(3) CODEC(DoubleDelta, LZ4),
    ingested_at            DateTime64(3) CODEC(DoubleDelta, LZ4)
) ENGINE = ReplacingMergeTree(ingested_at)
PARTITION BY toYYYYMM(timestamp)
ORDER BY (slot, signature)
`

// slots records the commitment status feed. One row per (slot, status)
// observation collapses to the latest by updated_at.
const slotsDDL = `
CREATE TABLE IF NOT EXISTS slots (
    slot       UInt64               CODEC(Delta, LZ4),
    status     LowCardinality(String),
    updated_at DateTime64(3)        CODEC(DoubleDelta, LZ4)
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (slot, status)
`

// ingest_batches is the write audit trail: one row per committed batch,
// used to reconcile checkpoint positions against what actually landed.
const ingestBatchesDDL = `
CREATE TABLE IF NOT EXISTS ingest_batches (
    batch_id        String,
    indexer_id      String,
    network         LowCardinality(String),
    slot_start      UInt64,
    slot_end        UInt64,
    row_count       UInt64,
    duplicate_count UInt64,
    attempts        UInt8,
    written_at      DateTime64(3)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(written_at)
ORDER BY (written_at, batch_id)
`

var schemaStatements = []string{
	transactionsDDL,
	slotsDDL,
	ingestBatchesDDL,
}
