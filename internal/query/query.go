// Package query is the read side of the indexer: aggregate statistics and
// lookups over the transactions table. Every query reads FINAL so rows that
// ReplacingMergeTree has not collapsed yet never skew the numbers.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ErrNotFound is returned when a signature lookup matches no transaction.
var ErrNotFound = errors.New("transaction not found")

// Service runs read-only queries against the transactions table.
type Service struct {
	conn driver.Conn
}

// NewService returns a Service over an open ClickHouse connection.
func NewService(conn driver.Conn) *Service {
	return &Service{conn: conn}
}

// Transaction is one row of the transactions table as the read side sees it.
type Transaction struct {
	Signature    string
	Slot         uint64
	Index        uint64
	IsVote       bool
	Success      bool
	Fee          uint64
	ComputeUnits *uint64
	Timestamp    time.Time
}

// FeeStats summarizes fees over a period.
type FeeStats struct {
	Count  uint64
	Min    uint64
	Max    uint64
	Avg    float64
	Median float64
	Total  uint64
}

// SlotStats summarizes slot coverage over a period.
type SlotStats struct {
	Slots        uint64
	MinSlot      uint64
	MaxSlot      uint64
	Transactions uint64
	PerSlot      float64
}

// TimePoint is one bucket of a transaction rate series.
type TimePoint struct {
	Bucket time.Time
	Count  uint64
	TPS    float64
}

// Count returns the number of transactions in the period.
func (s *Service) Count(ctx context.Context, period Period) (uint64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM transactions FINAL WHERE timestamp >= ?`,
		period.Since(time.Now()),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting transactions: %w", err)
	}
	return count, nil
}

// SuccessRate returns the fraction of successful transactions in the period.
// An empty period reports 1.0: no transactions, none failed.
func (s *Service) SuccessRate(ctx context.Context, period Period) (float64, error) {
	var succeeded, total uint64
	err := s.conn.QueryRow(ctx,
		`SELECT countIf(success = 1), count() FROM transactions FINAL WHERE timestamp >= ?`,
		period.Since(time.Now()),
	).Scan(&succeeded, &total)
	if err != nil {
		return 0, fmt.Errorf("querying success rate: %w", err)
	}
	return successRate(succeeded, total), nil
}

// Fees returns fee statistics for the period.
func (s *Service) Fees(ctx context.Context, period Period) (FeeStats, error) {
	var stats FeeStats
	err := s.conn.QueryRow(ctx,
		`SELECT count(), min(fee), max(fee), avg(fee), quantile(0.5)(fee), sum(fee)
		FROM transactions FINAL WHERE timestamp >= ?`,
		period.Since(time.Now()),
	).Scan(&stats.Count, &stats.Min, &stats.Max, &stats.Avg, &stats.Median, &stats.Total)
	if err != nil {
		return FeeStats{}, fmt.Errorf("querying fee stats: %w", err)
	}
	if stats.Count == 0 {
		// Aggregates over an empty set degenerate (avg is NaN); report zeros.
		return FeeStats{}, nil
	}
	return stats, nil
}

// TPS returns the average transactions per second over the period.
func (s *Service) TPS(ctx context.Context, period Period) (float64, error) {
	count, err := s.Count(ctx, period)
	if err != nil {
		return 0, err
	}
	return ratePerSecond(count, period.Duration.Seconds()), nil
}

// TPSSeries returns the transaction rate bucketed at the given granularity.
func (s *Service) TPSSeries(ctx context.Context, period Period, bucket Bucket) ([]TimePoint, error) {
	// The bucket function name comes from the closed ParseBucket set, never
	// from user input.
	query := fmt.Sprintf(
		`SELECT %s(timestamp) AS bucket, count()
		FROM transactions FINAL WHERE timestamp >= ?
		GROUP BY bucket ORDER BY bucket`,
		bucket.Fn(),
	)
	rows, err := s.conn.Query(ctx, query, period.Since(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("querying tps series: %w", err)
	}
	defer rows.Close()

	var series []TimePoint
	for rows.Next() {
		var point TimePoint
		if err := rows.Scan(&point.Bucket, &point.Count); err != nil {
			return nil, fmt.Errorf("scanning tps series: %w", err)
		}
		point.TPS = ratePerSecond(point.Count, bucket.Seconds())
		series = append(series, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tps series: %w", err)
	}
	return series, nil
}

// Slots returns slot coverage statistics for the period.
func (s *Service) Slots(ctx context.Context, period Period) (SlotStats, error) {
	var stats SlotStats
	err := s.conn.QueryRow(ctx,
		`SELECT uniqExact(slot), min(slot), max(slot), count()
		FROM transactions FINAL WHERE timestamp >= ?`,
		period.Since(time.Now()),
	).Scan(&stats.Slots, &stats.MinSlot, &stats.MaxSlot, &stats.Transactions)
	if err != nil {
		return SlotStats{}, fmt.Errorf("querying slot stats: %w", err)
	}
	if stats.Slots == 0 {
		return SlotStats{}, nil
	}
	stats.PerSlot = float64(stats.Transactions) / float64(stats.Slots)
	return stats, nil
}

// Failed returns the most recent failed transactions in the period.
func (s *Service) Failed(ctx context.Context, period Period, limit uint64) ([]Transaction, error) {
	rows, err := s.conn.Query(ctx,
		transactionColumns+` FROM transactions FINAL
		WHERE timestamp >= ? AND success = 0
		ORDER BY slot DESC, tx_index DESC LIMIT ?`,
		period.Since(time.Now()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying failed transactions: %w", err)
	}
	return scanTransactions(rows)
}

// Recent returns the most recently ingested transactions.
func (s *Service) Recent(ctx context.Context, limit uint64) ([]Transaction, error) {
	rows, err := s.conn.Query(ctx,
		transactionColumns+` FROM transactions FINAL
		ORDER BY slot DESC, tx_index DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent transactions: %w", err)
	}
	return scanTransactions(rows)
}

// BySignature looks up a single transaction. Returns ErrNotFound when the
// signature is absent.
func (s *Service) BySignature(ctx context.Context, signature string) (*Transaction, error) {
	var (
		tx      Transaction
		isVote  uint8
		success uint8
	)
	err := s.conn.QueryRow(ctx,
		transactionColumns+` FROM transactions FINAL WHERE signature = ? LIMIT 1`,
		signature,
	).Scan(&tx.Signature, &tx.Slot, &tx.Index, &isVote, &success, &tx.Fee, &tx.ComputeUnits, &tx.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, signature)
	}
	if err != nil {
		return nil, fmt.Errorf("querying transaction %s: %w", signature, err)
	}
	tx.IsVote = isVote != 0
	tx.Success = success != 0
	return &tx, nil
}

const transactionColumns = `SELECT signature, slot, tx_index, is_vote, success, fee, compute_units_consumed, timestamp`

func scanTransactions(rows driver.Rows) ([]Transaction, error) {
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var (
			tx      Transaction
			isVote  uint8
			success uint8
		)
		if err := rows.Scan(&tx.Signature, &tx.Slot, &tx.Index, &isVote, &success, &tx.Fee, &tx.ComputeUnits, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		tx.IsVote = isVote != 0
		tx.Success = success != 0
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading transactions: %w", err)
	}
	return txs, nil
}

// successRate converts a succeeded/total pair into a rate, treating an empty
// set as fully successful.
func successRate(succeeded, total uint64) float64 {
	if total == 0 {
		return 1.0
	}
	return float64(succeeded) / float64(total)
}

// ratePerSecond guards the zero-width case.
func ratePerSecond(count uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(count) / seconds
}
