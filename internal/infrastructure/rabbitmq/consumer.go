package rabbitmq

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/Nauflars/myshop-sub003/internal/contracts/queuemsg"
	"github.com/Nauflars/myshop-sub003/internal/domain"
)

const (
	queueName      = "profile-worker.interactions"
	retryQueueName = queueName + ".retry"
	dlxName        = "shop.interactions.dlx"
	dlqName        = queueName + ".dlq"

	retryCountHeader = "x-retry-count"
)

// Handler applies one decoded message. nil => ack; validation error =>
// dead-letter; anything else => retry with backoff.
type Handler interface {
	Apply(ctx context.Context, msg queuemsg.Message) error
}

// Consumer is one competing worker on the interaction queue. Message handling
// inside a consumer is sequential; horizontal scale comes from running more
// processes against the same queue.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	exchange string
	handler  Handler

	maxRetries int
	baseDelay  time.Duration
	log        zerolog.Logger
}

// NewConsumer connects and declares the whole topology idempotently:
// direct exchange -> main queue (DLX attached) ; retry queue dead-lettering
// back into the main queue ; fanout DLX -> DLQ.
func NewConsumer(rabbitURL, exchange string, prefetch, maxRetries int, baseDelay time.Duration, handler Handler, log zerolog.Logger) (*Consumer, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	if baseDelay <= 0 {
		baseDelay = 5 * time.Second
	}

	conn, err := amqp.Dial(rabbitURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// 1. Main exchange (direct)
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		closeBoth(ch, conn)
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// 2. DLX (fanout)
	if err := ch.ExchangeDeclare(dlxName, "fanout", true, false, false, false, nil); err != nil {
		closeBoth(ch, conn)
		return nil, fmt.Errorf("failed to declare dlx: %w", err)
	}

	// 3. DLQ bound to DLX
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		closeBoth(ch, conn)
		return nil, fmt.Errorf("failed to declare dlq: %w", err)
	}
	if err := ch.QueueBind(dlqName, "", dlxName, false, nil); err != nil {
		closeBoth(ch, conn)
		return nil, fmt.Errorf("failed to bind dlq: %w", err)
	}

	// 4. Main queue: rejected deliveries flow to DLX -> DLQ
	mainQArgs := amqp.Table{
		"x-dead-letter-exchange": dlxName,
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, mainQArgs)
	if err != nil {
		closeBoth(ch, conn)
		return nil, fmt.Errorf("failed to declare main queue: %w", err)
	}

	// 5. Retry queue: expired messages route back to the main queue. TTL is
	// set per message (exponential backoff), not on the queue.
	retryQArgs := amqp.Table{
		"x-dead-letter-exchange":    "", // default exchange
		"x-dead-letter-routing-key": queueName,
	}
	if _, err := ch.QueueDeclare(retryQueueName, true, false, false, false, retryQArgs); err != nil {
		closeBoth(ch, conn)
		return nil, fmt.Errorf("failed to declare retry queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, RoutingKey, exchange, false, nil); err != nil {
		closeBoth(ch, conn)
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		closeBoth(ch, conn)
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	return &Consumer{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		handler:    handler,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		log:        log.With().Str("component", "rabbitmq_consumer").Logger(),
	}, nil
}

func closeBoth(ch *amqp.Channel, conn *amqp.Connection) {
	_ = ch.Close()
	_ = conn.Close()
}

// Run consumes until ctx is done. The in-flight delivery is always acked or
// nacked before returning; anything undelivered is redelivered elsewhere by
// the broker.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.log.Info().Str("queue", queueName).Str("exchange", c.exchange).Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("consumer shutting down")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.log.Warn().Msg("consumer channel closed")
				return nil
			}
			c.handleDelivery(d)
		}
	}
}

func (c *Consumer) handleDelivery(d amqp.Delivery) {
	log := c.log.With().Str("message_id", d.MessageId).Logger()

	msg, err := queuemsg.Decode(d.Body)
	if err != nil {
		log.Error().Err(err).Msg("invalid message, dead-lettering")
		_ = d.Nack(false, false) // poison -> DLX -> DLQ
		return
	}

	// Detached from the run context: a shutdown signal must let the in-flight
	// message finish (and ack or retry normally), never abort its I/O and
	// dead-letter a healthy delivery.
	handleCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = c.handler.Apply(handleCtx, msg)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	if domain.IsValidation(err) {
		// Non-retryable: straight to the DLQ without consuming an attempt.
		log.Error().Err(err).Msg("validation failure, dead-lettering")
		_ = d.Nack(false, false)
		return
	}

	retryCount := retryCountFrom(d.Headers)
	if retryCount >= c.maxRetries {
		log.Error().Err(err).Int("retry_count", retryCount).Msg("max retries reached, dead-lettering")
		_ = d.Nack(false, false)
		return
	}

	if err := c.scheduleRetry(handleCtx, d, retryCount); err != nil {
		log.Error().Err(err).Msg("failed to schedule retry, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	log.Warn().
		Int("retry_count", retryCount).
		Dur("delay", c.backoff(retryCount)).
		Msg("processing failed, retry scheduled")
	_ = d.Ack(false) // handled via retry queue
}

// scheduleRetry republishes the delivery onto the retry queue with the next
// attempt count and a per-message TTL; expiry dead-letters it back into the
// main queue.
func (c *Consumer) scheduleRetry(ctx context.Context, d amqp.Delivery, retryCount int) error {
	headers := make(amqp.Table, len(d.Headers)+1)
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(retryCount + 1)

	delay := c.backoff(retryCount)

	return c.channel.PublishWithContext(
		ctx,
		"", // default exchange
		retryQueueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    d.MessageId,
			Headers:      headers,
			Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
			Body:         d.Body,
		},
	)
}

func (c *Consumer) backoff(retryCount int) time.Duration {
	return time.Duration(float64(c.baseDelay) * math.Pow(2, float64(retryCount)))
}

func retryCountFrom(headers amqp.Table) int {
	switch v := headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Ping reports broker connectivity for readiness probes.
func (c *Consumer) Ping(_ context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection closed")
	}
	return nil
}

// Close closes the consumer connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
