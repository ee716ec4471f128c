package queuemsg

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nauflars/myshop-sub003/internal/domain"
)

func strPtr(s string) *string { return &s }
func i64Ptr(i int64) *int64   { return &i }

func TestMessageID_Deterministic(t *testing.T) {
	a := MessageID(10, 200)
	b := MessageID(10, 200)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, MessageID(10, 201))
	assert.NotEqual(t, a, MessageID(11, 200))

	// Must stay parseable as a UUID (broker MessageId + dedup key).
	assert.Len(t, a, 36)
}

func TestFromEvent(t *testing.T) {
	at := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	e := &domain.InteractionEvent{
		ID:         55,
		UserID:     10,
		EventType:  domain.EventProductPurchase,
		ProductID:  i64Ptr(7),
		OccurredAt: at,
	}

	msg := FromEvent(e)
	assert.Equal(t, MessageID(10, 55), msg.MessageID)
	assert.Equal(t, int64(10), msg.UserID)
	assert.Equal(t, domain.EventProductPurchase, msg.EventType)
	require.NotNil(t, msg.ProductID)
	assert.Equal(t, int64(7), *msg.ProductID)
	assert.Nil(t, msg.SearchPhrase)
	assert.Equal(t, at, msg.OccurredAt)
}

func TestEncodeDecode(t *testing.T) {
	msg := Message{
		MessageID:    MessageID(3, 9),
		UserID:       3,
		EventType:    domain.EventSearch,
		SearchPhrase: strPtr("running shoes"),
		OccurredAt:   time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC),
	}

	body, err := Encode(msg)
	require.NoError(t, err)

	// Field names are the wire contract; do not let them drift.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	for _, field := range []string{"messageId", "userId", "eventType", "searchPhrase", "productId", "occurredAt"} {
		assert.Contains(t, raw, field)
	}
	assert.JSONEq(t, `null`, string(raw["productId"]))

	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, msg.MessageID, got.MessageID)
	assert.Equal(t, msg.UserID, got.UserID)
	assert.Equal(t, msg.EventType, got.EventType)
	require.NotNil(t, got.SearchPhrase)
	assert.Equal(t, "running shoes", *got.SearchPhrase)
	assert.True(t, msg.OccurredAt.Equal(got.OccurredAt))
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestValidate(t *testing.T) {
	at := time.Now().UTC()
	valid := func() Message {
		return Message{
			MessageID:    MessageID(1, 1),
			UserID:       1,
			EventType:    domain.EventSearch,
			SearchPhrase: strPtr("tea kettle"),
			OccurredAt:   at,
		}
	}

	t.Run("valid", func(t *testing.T) {
		m := valid()
		assert.NoError(t, m.Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Message)
	}{
		{"missing_message_id", func(m *Message) { m.MessageID = "" }},
		{"missing_user", func(m *Message) { m.UserID = 0 }},
		{"unknown_type", func(m *Message) { m.EventType = "checkout" }},
		{"zero_timestamp", func(m *Message) { m.OccurredAt = time.Time{} }},
		{"search_without_phrase", func(m *Message) { m.SearchPhrase = nil }},
		{"search_with_product", func(m *Message) { m.ProductID = i64Ptr(2) }},
		{"product_without_id", func(m *Message) {
			m.EventType = domain.EventProductView
			m.SearchPhrase = nil
		}},
		{"both_fields_set", func(m *Message) {
			m.EventType = domain.EventProductClick
			m.ProductID = i64Ptr(2)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(&m)
			err := m.Validate()
			require.Error(t, err)
			assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
		})
	}
}
