package persistence

import (
	"MarginTrading/internal/snapshot"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SnapshotRepository stores trading engine snapshots in Postgres. The full
// record goes into a JSONB column; counts are denormalized for queries.
type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Add persists a snapshot record.
func (r *SnapshotRepository) Add(ctx context.Context, rec *snapshot.TradingEngineSnapshot) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	sum := rec.Summary()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO margin.trading_engine_snapshots
			(trading_day, correlation_id, status, snapshot_timestamp,
			 orders_count, positions_count, accounts_count, fx_prices_count, trading_prices_count,
			 data, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.TradingDay, rec.CorrelationID, rec.Status.String(), rec.Timestamp,
		sum.OrdersCount, sum.PositionsCount, sum.AccountsCount, sum.BestFxPricesCount, sum.BestTradingPricesCount,
		data, len(data))
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", rec.CorrelationID, err)
	}
	return nil
}

// DraftExists reports whether any draft of tradingDay was stored.
func (r *SnapshotRepository) DraftExists(ctx context.Context, tradingDay time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM margin.trading_engine_snapshots
			WHERE trading_day = $1 AND status = $2
		)
	`, tradingDay, snapshot.StatusDraft.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check draft existence: %w", err)
	}
	return exists, nil
}

// GetLastDraft loads the latest draft of tradingDay, or nil if none exists.
func (r *SnapshotRepository) GetLastDraft(ctx context.Context, tradingDay time.Time) (*snapshot.TradingEngineSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT data FROM margin.trading_engine_snapshots
		WHERE trading_day = $1 AND status = $2
		ORDER BY snapshot_timestamp DESC, id DESC
		LIMIT 1
	`, tradingDay, snapshot.StatusDraft.String())

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load last draft: %w", err)
	}

	var rec snapshot.TradingEngineSnapshot
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &rec, nil
}

// ListSummaries returns the summaries of every snapshot of tradingDay,
// newest first.
func (r *SnapshotRepository) ListSummaries(ctx context.Context, tradingDay time.Time) ([]snapshot.Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT correlation_id, status, snapshot_timestamp,
		       orders_count, positions_count, accounts_count, fx_prices_count, trading_prices_count
		FROM margin.trading_engine_snapshots
		WHERE trading_day = $1
		ORDER BY snapshot_timestamp DESC, id DESC
	`, tradingDay)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []snapshot.Summary
	for rows.Next() {
		s := snapshot.Summary{TradingDay: tradingDay}
		var status string
		if err := rows.Scan(&s.CorrelationID, &status, &s.Timestamp,
			&s.OrdersCount, &s.PositionsCount, &s.AccountsCount, &s.BestFxPricesCount, &s.BestTradingPricesCount,
		); err != nil {
			return nil, err
		}
		if s.Status, err = snapshot.ParseStatus(status); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
