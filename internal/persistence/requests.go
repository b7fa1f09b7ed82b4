package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestLog deduplicates snapshot requests redelivered by the message bus.
type RequestLog struct {
	db *sql.DB
}

func NewRequestLog(db *sql.DB) *RequestLog {
	return &RequestLog{db: db}
}

// MarkSeen records a request id. It returns false if the id was already
// recorded, meaning the request must not be enqueued again.
func (l *RequestLog) MarkSeen(ctx context.Context, id uuid.UUID, initiator string, tradingDay time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO margin.snapshot_requests (request_id, initiator, trading_day)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id) DO NOTHING
	`, id, initiator, tradingDay)
	if err != nil {
		return false, fmt.Errorf("record snapshot request %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
