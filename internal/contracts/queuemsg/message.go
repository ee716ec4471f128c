// Package queuemsg defines the wire contract between the interaction
// publisher and the profile workers. Messages only live in transit; the
// broker's storage is the only place they persist.
package queuemsg

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Nauflars/myshop-sub003/internal/domain"
)

// Namespace for deterministic message ids. Stable forever: changing it would
// break dedup across deploys.
var messageNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Message is the queued projection of one InteractionEvent. Exactly one of
// SearchPhrase/ProductID is set, depending on EventType.
type Message struct {
	MessageID    string           `json:"messageId"`
	UserID       int64            `json:"userId"`
	EventType    domain.EventType `json:"eventType"`
	SearchPhrase *string          `json:"searchPhrase"`
	ProductID    *int64           `json:"productId"`
	OccurredAt   time.Time        `json:"occurredAt"`
}

// MessageID derives the dedup key from user id + event id. Deterministic so a
// republished audit row carries the same id as the original attempt.
func MessageID(userID, eventID int64) string {
	name := fmt.Sprintf("user:%d:event:%d", userID, eventID)
	return uuid.NewSHA1(messageNamespace, []byte(name)).String()
}

// FromEvent projects a validated audit record onto the wire shape.
func FromEvent(e *domain.InteractionEvent) Message {
	return Message{
		MessageID:    MessageID(e.UserID, e.ID),
		UserID:       e.UserID,
		EventType:    e.EventType,
		SearchPhrase: e.SearchPhrase,
		ProductID:    e.ProductID,
		OccurredAt:   e.OccurredAt.UTC(),
	}
}

func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode unmarshals and validates a delivery body. Any failure is a
// validation error: malformed payloads must be dead-lettered, not retried.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, domain.ErrValidationMeta("malformed message body", map[string]string{"error": err.Error()})
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) Validate() error {
	if m.MessageID == "" {
		return domain.ErrValidation("missing messageId")
	}
	if m.UserID <= 0 {
		return domain.ErrValidation("missing userId")
	}
	if !m.EventType.Valid() {
		return domain.ErrValidationMeta("unknown eventType", map[string]string{"event_type": string(m.EventType)})
	}
	if m.OccurredAt.IsZero() {
		return domain.ErrValidation("missing occurredAt")
	}
	if m.EventType == domain.EventSearch {
		if m.SearchPhrase == nil || *m.SearchPhrase == "" {
			return domain.ErrValidation("search message requires searchPhrase")
		}
		if m.ProductID != nil {
			return domain.ErrValidation("search message must not carry productId")
		}
		return nil
	}
	if m.ProductID == nil || *m.ProductID <= 0 {
		return domain.ErrValidation("product message requires productId")
	}
	if m.SearchPhrase != nil {
		return domain.ErrValidation("product message must not carry searchPhrase")
	}
	return nil
}
