package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/Nauflars/myshop-sub003/internal/domain"
)

// handlerName scopes the processed_messages fence to this consumer. A second
// handler replaying the same audit log would use its own name.
const handlerName = "profile_update"

func (r *Repository) FindByUser(ctx context.Context, userID int64) (*domain.UserEmbedding, error) {
	var (
		emb domain.UserEmbedding
		vec pgvector.Vector
	)
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, vector, last_updated, version, event_count
		FROM user_embeddings
		WHERE user_id = $1
	`, userID).Scan(&emb.UserID, &vec, &emb.LastUpdated, &emb.Version, &emb.EventCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound("no embedding for user")
		}
		return nil, err
	}
	emb.Vector = vec.Slice()
	return &emb, nil
}

// Save persists emb under optimistic lock, fenced by the processed_messages
// dedup marker in the same transaction.
//
//   - expectedVersion 0 means "no profile existed at read time": the row is
//     inserted; a concurrent first writer surfaces as CodeConflict.
//   - Otherwise UPDATE ... WHERE version = expectedVersion; zero rows
//     affected means another worker won the race (CodeConflict).
//   - A duplicate message id returns CodeDuplicate without touching the row.
//
// The marker only commits together with the row change, so a crash between
// the two can never strand a half-applied message.
func (r *Repository) Save(ctx context.Context, emb *domain.UserEmbedding, expectedVersion int64, messageID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_messages (message_id, handler_name)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, messageID, handlerName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicate("message already applied")
	}

	vec := pgvector.NewVector(emb.Vector)

	if expectedVersion == 0 {
		tag, err = tx.Exec(ctx, `
			INSERT INTO user_embeddings (user_id, vector, last_updated, version, event_count)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO NOTHING
		`, emb.UserID, vec, emb.LastUpdated.UTC(), emb.Version, emb.EventCount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrConflict(fmt.Sprintf("embedding for user %d created concurrently", emb.UserID))
		}
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE user_embeddings
			SET vector = $2, last_updated = $3, version = $4, event_count = $5
			WHERE user_id = $1 AND version = $6
		`, emb.UserID, vec, emb.LastUpdated.UTC(), emb.Version, emb.EventCount, expectedVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrConflict(fmt.Sprintf("stale version %d for user %d", expectedVersion, emb.UserID))
		}
	}

	return tx.Commit(ctx)
}

// AlreadyApplied is the read-only dedup probe used before any expensive work.
// The Save transaction remains the authoritative fence.
func (r *Repository) AlreadyApplied(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_messages
			WHERE message_id = $1 AND handler_name = $2
		)
	`, messageID, handlerName).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
