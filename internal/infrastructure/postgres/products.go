package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/Nauflars/myshop-sub003/internal/domain"
)

// ProductVector fetches the precomputed catalog vector for a product. The
// catalog is written by the (out of scope) product ingestion path; a missing
// row here means the event references a product we cannot score.
func (r *Repository) ProductVector(ctx context.Context, productID int64) ([]float32, error) {
	var vec pgvector.Vector
	err := r.pool.QueryRow(ctx, `
		SELECT vector FROM product_embeddings WHERE product_id = $1
	`, productID).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound("no embedding for product")
		}
		return nil, err
	}
	return vec.Slice(), nil
}
