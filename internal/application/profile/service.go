package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Nauflars/myshop-sub003/internal/contracts/queuemsg"
	"github.com/Nauflars/myshop-sub003/internal/domain"
	"github.com/Nauflars/myshop-sub003/internal/embedding"
)

const defaultConflictRetries = 3

// Service applies one queued interaction to the user's stored profile:
// dedup check, vector resolution, pure merge, optimistic-lock save. It is
// stateless; any number of competing workers may run one each.
type Service struct {
	store    EmbeddingStore
	products ProductVectors
	embedder QueryEmbedder
	cache    Cache
	calc     *embedding.Calculator
	weights  domain.WeightPolicy

	conflictRetries int
	log             zerolog.Logger
}

func New(
	store EmbeddingStore,
	products ProductVectors,
	embedder QueryEmbedder,
	cache Cache,
	calc *embedding.Calculator,
	weights domain.WeightPolicy,
	conflictRetries int,
	log zerolog.Logger,
) *Service {
	if conflictRetries <= 0 {
		conflictRetries = defaultConflictRetries
	}
	return &Service{
		store:           store,
		products:        products,
		embedder:        embedder,
		cache:           cache,
		calc:            calc,
		weights:         weights,
		conflictRetries: conflictRetries,
		log:             log,
	}
}

// Apply processes one delivery. A nil return means the message is done (fully
// applied, or recognized as a duplicate) and must be acked. Validation errors
// mean dead-letter; anything else is retryable.
func (s *Service) Apply(ctx context.Context, msg queuemsg.Message) error {
	log := s.log.With().
		Str("message_id", msg.MessageID).
		Int64("user_id", msg.UserID).
		Str("event_type", string(msg.EventType)).
		Logger()

	if err := msg.Validate(); err != nil {
		return err
	}

	// Idempotency pre-checks. The Save transaction is still the fence of
	// record; these just skip the expensive resolution work.
	if s.cache != nil && s.cache.SeenMessage(ctx, msg.MessageID) {
		log.Info().Msg("duplicate delivery ignored (cache)")
		return nil
	}
	applied, err := s.store.AlreadyApplied(ctx, msg.MessageID)
	if err != nil {
		return domain.ErrTransient("dedup lookup: " + err.Error())
	}
	if applied {
		s.markSeen(ctx, msg.MessageID)
		log.Info().Msg("duplicate delivery ignored")
		return nil
	}

	eventVec, err := s.resolveVector(ctx, msg)
	if err != nil {
		return err
	}

	weight, err := s.weights.Weight(msg.EventType)
	if err != nil {
		return err
	}

	// Optimistic-lock loop: read, merge, save; on version conflict re-read
	// the fresh state and re-merge. Bounded locally, then escalated to the
	// broker's retry path.
	var lastErr error
	for attempt := 0; attempt <= s.conflictRetries; attempt++ {
		existing, err := s.store.FindByUser(ctx, msg.UserID)
		if err != nil && domain.CodeOf(err) != domain.CodeNotFound {
			return domain.ErrTransient("embedding read: " + err.Error())
		}

		var expected int64
		if existing != nil {
			expected = existing.Version
		}

		merged, err := s.calc.Merge(msg.UserID, existing, eventVec, weight, msg.OccurredAt)
		if err != nil {
			return err
		}

		err = s.store.Save(ctx, merged, expected, msg.MessageID)
		switch domain.CodeOf(err) {
		case "":
			s.markSeen(ctx, msg.MessageID)
			log.Info().
				Int64("version", merged.Version).
				Int64("event_count", merged.EventCount).
				Msg("profile updated")
			return nil
		case domain.CodeDuplicate:
			s.markSeen(ctx, msg.MessageID)
			log.Info().Msg("duplicate delivery ignored (fence)")
			return nil
		case domain.CodeConflict:
			lastErr = err
			log.Debug().Int("attempt", attempt).Msg("version conflict, re-merging")
			continue
		default:
			return domain.ErrTransient("embedding save: " + err.Error())
		}
	}

	return domain.ErrTransient(fmt.Sprintf("conflict retries exhausted: %v", lastErr))
}

func (s *Service) resolveVector(ctx context.Context, msg queuemsg.Message) ([]float32, error) {
	if msg.EventType == domain.EventSearch {
		phrase := *msg.SearchPhrase
		if s.cache != nil {
			vec, err := s.cache.GetQueryVector(ctx, phrase)
			if err == nil {
				return vec, nil
			}
			if !errors.Is(err, domain.ErrCacheMiss) {
				s.log.Warn().Err(err).Msg("query vector cache read failed")
			}
		}
		vec, err := s.embedder.Embed(ctx, phrase)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetQueryVector(ctx, phrase, vec); err != nil {
				s.log.Warn().Err(err).Msg("query vector cache write failed")
			}
		}
		return vec, nil
	}

	vec, err := s.products.ProductVector(ctx, *msg.ProductID)
	if err != nil {
		if domain.CodeOf(err) == domain.CodeNotFound {
			// Catalog ingestion may lag the event; retryable, not poison.
			return nil, domain.ErrTransient(fmt.Sprintf("no vector for product %d yet", *msg.ProductID))
		}
		return nil, domain.ErrTransient("product vector read: " + err.Error())
	}
	return vec, nil
}

func (s *Service) markSeen(ctx context.Context, messageID string) {
	if s.cache != nil {
		s.cache.MarkSeen(ctx, messageID)
	}
}
