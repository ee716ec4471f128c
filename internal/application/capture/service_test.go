package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nauflars/myshop-sub003/internal/contracts/queuemsg"
	"github.com/Nauflars/myshop-sub003/internal/domain"
)

type memAudit struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.InteractionEvent
}

func newMemAudit() *memAudit {
	return &memAudit{nextID: 1, rows: map[int64]*domain.InteractionEvent{}}
}

func (m *memAudit) InsertInteraction(_ context.Context, e *domain.InteractionEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	cp := *e
	cp.ID = id
	cp.Dispatched = false
	cp.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)
	m.rows[id] = &cp
	return id, nil
}

func (m *memAudit) MarkDispatched(_ context.Context, eventID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[eventID]
	if !ok {
		return errors.New("row not found")
	}
	row.Dispatched = true
	return nil
}

func (m *memAudit) ClaimUndispatched(_ context.Context, grace time.Duration, limit int) ([]*domain.InteractionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-grace)
	var out []*domain.InteractionEvent
	for _, row := range m.rows {
		if !row.Dispatched && row.CreatedAt.Before(cutoff) {
			cp := *row
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memPublisher struct {
	mu        sync.Mutex
	published []queuemsg.Message
	failErr   error
}

func (m *memPublisher) Publish(_ context.Context, msg queuemsg.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.published = append(m.published, msg)
	return nil
}

func strPtr(s string) *string { return &s }

func validEvent() *domain.InteractionEvent {
	return &domain.InteractionEvent{
		UserID:       10,
		EventType:    domain.EventSearch,
		SearchPhrase: strPtr("standing desk"),
		OccurredAt:   time.Now().UTC(),
	}
}

func TestCapture_HappyPath(t *testing.T) {
	audit := newMemAudit()
	pub := &memPublisher{}
	svc := New(audit, pub, zerolog.Nop())

	msgID, err := svc.Capture(context.Background(), validEvent())
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	require.Len(t, pub.published, 1)
	assert.Equal(t, msgID, pub.published[0].MessageID)
	assert.Equal(t, queuemsg.MessageID(10, 1), msgID)

	assert.True(t, audit.rows[1].Dispatched)
}

func TestCapture_RejectsInvalidEvent(t *testing.T) {
	audit := newMemAudit()
	pub := &memPublisher{}
	svc := New(audit, pub, zerolog.Nop())

	e := validEvent()
	e.SearchPhrase = nil

	_, err := svc.Capture(context.Background(), e)
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
	assert.Empty(t, audit.rows)
	assert.Empty(t, pub.published)
}

func TestCapture_BrokerDownLeavesRowForRedispatch(t *testing.T) {
	audit := newMemAudit()
	pub := &memPublisher{failErr: errors.New("connection refused")}
	svc := New(audit, pub, zerolog.Nop())

	_, err := svc.Capture(context.Background(), validEvent())
	require.Error(t, err)
	assert.Equal(t, domain.CodeTransient, domain.CodeOf(err))

	// Audit row exists and is still marked not handed off.
	require.Len(t, audit.rows, 1)
	assert.False(t, audit.rows[1].Dispatched)
}

func TestRedispatchBatch(t *testing.T) {
	audit := newMemAudit()
	pub := &memPublisher{failErr: errors.New("connection refused")}
	svc := New(audit, pub, zerolog.Nop())

	_, err := svc.Capture(context.Background(), validEvent())
	require.Error(t, err)

	// Broker comes back; the redispatcher picks the row up with the same
	// deterministic message id.
	pub.failErr = nil
	require.NoError(t, svc.redispatchBatch(context.Background(), time.Minute, 50))

	require.Len(t, pub.published, 1)
	assert.Equal(t, queuemsg.MessageID(10, 1), pub.published[0].MessageID)
	assert.True(t, audit.rows[1].Dispatched)

	// Nothing left on the next pass.
	require.NoError(t, svc.redispatchBatch(context.Background(), time.Minute, 50))
	assert.Len(t, pub.published, 1)
}

func TestRedispatchBatch_BrokerStillDown(t *testing.T) {
	audit := newMemAudit()
	pub := &memPublisher{failErr: errors.New("connection refused")}
	svc := New(audit, pub, zerolog.Nop())

	_, err := svc.Capture(context.Background(), validEvent())
	require.Error(t, err)

	// A failing publish is not an error of the batch itself; the row stays.
	require.NoError(t, svc.redispatchBatch(context.Background(), time.Minute, 50))
	assert.False(t, audit.rows[1].Dispatched)
}
