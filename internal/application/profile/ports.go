package profile

import (
	"context"

	"github.com/Nauflars/myshop-sub003/internal/domain"
)

// EmbeddingStore persists user profiles under optimistic concurrency and owns
// the authoritative message dedup fence.
type EmbeddingStore interface {
	FindByUser(ctx context.Context, userID int64) (*domain.UserEmbedding, error)
	// Save fails with CodeConflict when the stored version no longer matches
	// expectedVersion, and with CodeDuplicate when messageID was already
	// applied. expectedVersion 0 means the caller read no profile.
	Save(ctx context.Context, emb *domain.UserEmbedding, expectedVersion int64, messageID string) error
	AlreadyApplied(ctx context.Context, messageID string) (bool, error)
}

// ProductVectors resolves precomputed catalog vectors.
type ProductVectors interface {
	ProductVector(ctx context.Context, productID int64) ([]float32, error)
}

// QueryEmbedder generates a semantic vector for a search phrase via the
// external embedding service.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache is the best-effort fast path: resolved query vectors and a bounded
// recently-applied message set. A nil Cache disables both.
type Cache interface {
	GetQueryVector(ctx context.Context, phrase string) ([]float32, error)
	SetQueryVector(ctx context.Context, phrase string, vec []float32) error
	SeenMessage(ctx context.Context, messageID string) bool
	MarkSeen(ctx context.Context, messageID string)
}
