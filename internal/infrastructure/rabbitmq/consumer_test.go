package rabbitmq

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nauflars/myshop-sub003/internal/contracts/queuemsg"
	"github.com/Nauflars/myshop-sub003/internal/domain"
)

func TestBackoff(t *testing.T) {
	c := &Consumer{baseDelay: 5 * time.Second}

	assert.Equal(t, 5*time.Second, c.backoff(0))
	assert.Equal(t, 10*time.Second, c.backoff(1))
	assert.Equal(t, 20*time.Second, c.backoff(2))
	assert.Equal(t, 40*time.Second, c.backoff(3))
	assert.Equal(t, 80*time.Second, c.backoff(4))
}

func TestRetryCountFrom(t *testing.T) {
	assert.Equal(t, 0, retryCountFrom(nil))
	assert.Equal(t, 0, retryCountFrom(amqp.Table{}))
	assert.Equal(t, 3, retryCountFrom(amqp.Table{retryCountHeader: int32(3)}))
	assert.Equal(t, 4, retryCountFrom(amqp.Table{retryCountHeader: int64(4)}))
	assert.Equal(t, 5, retryCountFrom(amqp.Table{retryCountHeader: 5}))
	// Unparseable header values reset the count rather than poisoning the flow.
	assert.Equal(t, 0, retryCountFrom(amqp.Table{retryCountHeader: "three"}))
}

// ackRecorder captures the disposition handleDelivery chose.
type ackRecorder struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *ackRecorder) Ack(_ uint64, _ bool) error { a.acked = true; return nil }
func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}
func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

type stubHandler struct {
	err error
}

func (h *stubHandler) Apply(_ context.Context, _ queuemsg.Message) error { return h.err }

// ctxCheckHandler records what kind of context the consumer hands to Apply.
type ctxCheckHandler struct {
	sawLiveCtx  bool
	sawDeadline bool
}

func (h *ctxCheckHandler) Apply(ctx context.Context, _ queuemsg.Message) error {
	h.sawLiveCtx = ctx.Err() == nil
	_, h.sawDeadline = ctx.Deadline()
	return ctx.Err()
}

func validBody(t *testing.T) []byte {
	t.Helper()
	phrase := "usb hub"
	body, err := queuemsg.Encode(queuemsg.Message{
		MessageID:    queuemsg.MessageID(7, 42),
		UserID:       7,
		EventType:    domain.EventSearch,
		SearchPhrase: &phrase,
		OccurredAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return body
}

func TestHandleDelivery_Dispositions(t *testing.T) {
	newConsumer := func(h Handler) *Consumer {
		return &Consumer{
			handler:    h,
			maxRetries: 2,
			baseDelay:  time.Second,
			log:        zerolog.Nop(),
		}
	}

	t.Run("success acks", func(t *testing.T) {
		ack := &ackRecorder{}
		c := newConsumer(&stubHandler{})
		c.handleDelivery(amqp.Delivery{
			Acknowledger: ack,
			Body:         validBody(t),
		})
		assert.True(t, ack.acked)
		assert.False(t, ack.nacked)
	})

	t.Run("malformed body dead-letters without requeue", func(t *testing.T) {
		ack := &ackRecorder{}
		c := newConsumer(&stubHandler{})
		c.handleDelivery(amqp.Delivery{
			Acknowledger: ack,
			Body:         []byte("{not json"),
		})
		assert.True(t, ack.nacked)
		assert.False(t, ack.requeue)
	})

	t.Run("validation failure dead-letters without requeue", func(t *testing.T) {
		ack := &ackRecorder{}
		c := newConsumer(&stubHandler{err: domain.ErrValidation("wrong dimension")})
		c.handleDelivery(amqp.Delivery{
			Acknowledger: ack,
			Body:         validBody(t),
		})
		assert.True(t, ack.nacked)
		assert.False(t, ack.requeue)
	})

	t.Run("exhausted retries dead-letter", func(t *testing.T) {
		ack := &ackRecorder{}
		c := newConsumer(&stubHandler{err: domain.ErrTransient("store down")})
		c.handleDelivery(amqp.Delivery{
			Acknowledger: ack,
			Body:         validBody(t),
			Headers:      amqp.Table{retryCountHeader: int32(2)},
		})
		assert.True(t, ack.nacked)
		assert.False(t, ack.requeue)
	})

	// A shutdown signal cancelling the run loop must not reach work already
	// in flight: the handler context derives from Background, carries only
	// the per-message deadline, and the delivery completes normally.
	t.Run("in-flight handler context survives shutdown", func(t *testing.T) {
		ack := &ackRecorder{}
		h := &ctxCheckHandler{}
		c := newConsumer(h)
		c.handleDelivery(amqp.Delivery{
			Acknowledger: ack,
			Body:         validBody(t),
		})
		assert.True(t, h.sawLiveCtx, "handler must not observe a cancelled context")
		assert.True(t, h.sawDeadline, "handler context must carry the processing deadline")
		assert.True(t, ack.acked)
		assert.False(t, ack.nacked)
	})
}
