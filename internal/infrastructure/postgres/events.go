package postgres

import (
	"context"
	"time"

	"github.com/Nauflars/myshop-sub003/internal/domain"
)

// InsertInteraction appends the audit record and returns its id. Dispatched
// starts false; the capture service flips it after the broker confirms.
func (r *Repository) InsertInteraction(ctx context.Context, e *domain.InteractionEvent) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO interaction_events (user_id, event_type, search_phrase, product_id, occurred_at, dispatched)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING id
	`, e.UserID, string(e.EventType), e.SearchPhrase, e.ProductID, e.OccurredAt.UTC()).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) MarkDispatched(ctx context.Context, eventID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE interaction_events SET dispatched = TRUE WHERE id = $1
	`, eventID)
	return err
}

// ClaimUndispatched returns audit rows that never made it to the broker and
// are older than grace. Several redispatchers may pick the same row; the
// deterministic message id plus the consumer-side dedup fence make a double
// publish harmless.
func (r *Repository) ClaimUndispatched(ctx context.Context, grace time.Duration, limit int) ([]*domain.InteractionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := time.Now().UTC().Add(-grace)

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, event_type, search_phrase, product_id, occurred_at, dispatched, created_at
		FROM interaction_events
		WHERE dispatched = FALSE AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.InteractionEvent
	for rows.Next() {
		var (
			e  domain.InteractionEvent
			et string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &et, &e.SearchPhrase, &e.ProductID, &e.OccurredAt, &e.Dispatched, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventType = domain.EventType(et)
		out = append(out, &e)
	}
	return out, rows.Err()
}
