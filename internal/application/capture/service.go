// Package capture turns validated user interactions into audit rows plus
// durable queue messages. It never does embedding work: the caller's request
// path must not pay for profile maintenance.
package capture

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nauflars/myshop-sub003/internal/contracts/queuemsg"
	"github.com/Nauflars/myshop-sub003/internal/domain"
)

const publishTimeout = 2 * time.Second

type Service struct {
	audit AuditLog
	pub   QueuePublisher
	log   zerolog.Logger
}

func New(audit AuditLog, pub QueuePublisher, log zerolog.Logger) *Service {
	return &Service{audit: audit, pub: pub, log: log}
}

// Capture writes the audit row and enqueues the message, returning the
// deterministic message id. On broker failure the row keeps dispatched=false
// so the redispatcher requeues it later; the caller gets a transient error.
func (s *Service) Capture(ctx context.Context, e *domain.InteractionEvent) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	id, err := s.audit.InsertInteraction(ctx, e)
	if err != nil {
		return "", domain.ErrTransient("audit insert: " + err.Error())
	}
	e.ID = id

	msg := queuemsg.FromEvent(e)

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.pub.Publish(pubCtx, msg); err != nil {
		s.log.Warn().Err(err).
			Str("message_id", msg.MessageID).
			Int64("event_id", id).
			Msg("enqueue failed, row left for redispatch")
		return "", domain.ErrTransient("enqueue: " + err.Error())
	}

	// Flag failure is tolerable: the redispatcher republishes with the same
	// message id and the consumer fence absorbs it.
	if err := s.audit.MarkDispatched(ctx, id); err != nil {
		s.log.Warn().Err(err).Int64("event_id", id).Msg("mark dispatched failed")
	}

	return msg.MessageID, nil
}

// RunRedispatcher polls for audit rows that never reached the broker and
// republishes them. Blocks until ctx is done.
func (s *Service) RunRedispatcher(ctx context.Context, interval, grace time.Duration) {
	// Jitter the start so multiple instances don't poll in lockstep.
	select {
	case <-time.After(time.Duration(rand.Intn(1000)) * time.Millisecond):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.redispatchBatch(ctx, grace, 50); err != nil {
				s.log.Error().Err(err).Msg("redispatch batch failed")
			}
		}
	}
}

func (s *Service) redispatchBatch(ctx context.Context, grace time.Duration, limit int) error {
	rows, err := s.audit.ClaimUndispatched(ctx, grace, limit)
	if err != nil {
		return err
	}

	for _, e := range rows {
		msg := queuemsg.FromEvent(e)

		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := s.pub.Publish(pubCtx, msg)
		cancel()
		if err != nil {
			// Broker still down; leave the rest for the next tick.
			s.log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("redispatch publish failed")
			return nil
		}

		if err := s.audit.MarkDispatched(ctx, e.ID); err != nil {
			s.log.Warn().Err(err).Int64("event_id", e.ID).Msg("mark dispatched failed")
			continue
		}
		s.log.Info().Str("message_id", msg.MessageID).Int64("event_id", e.ID).Msg("audit row redispatched")
	}
	return nil
}
