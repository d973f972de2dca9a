package persistence

import (
	"context"
	"database/sql"
	"time"
)

// dedupQueryTimeout bounds the cold-path lookup so a slow database cannot
// stall the processing loop. On timeout the caller treats the event as fresh;
// the unique index on event_log.events still rejects a true double-write.
const dedupQueryTimeout = 500 * time.Millisecond

// PostgresIdempotencyChecker is the cold tier of event deduplication: when
// the in-memory LRU misses, the event log itself answers whether a (type,
// idempotency key) pair was already appended.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate reports whether the event already exists in event_log.events.
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dedupQueryTimeout)
	defer cancel()

	var one int
	err := pic.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_log.events WHERE event_type = $1 AND idempotency_key = $2 LIMIT 1`,
		eventType, idempotencyKey,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
