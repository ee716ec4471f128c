package domain

import (
	"fmt"
	"time"
)

// EventType classifies a user interaction. The set is closed; the weight
// policy below must cover every value.
type EventType string

const (
	EventSearch          EventType = "search"
	EventProductView     EventType = "product_view"
	EventProductClick    EventType = "product_click"
	EventProductPurchase EventType = "product_purchase"
)

func (t EventType) Valid() bool {
	switch t {
	case EventSearch, EventProductView, EventProductClick, EventProductPurchase:
		return true
	}
	return false
}

// IsProduct reports whether the event carries a product id rather than a
// search phrase.
func (t EventType) IsProduct() bool {
	switch t {
	case EventProductView, EventProductClick, EventProductPurchase:
		return true
	}
	return false
}

// InteractionEvent is the audit/source-of-truth record written for every user
// action. Immutable after insert except the Dispatched handoff flag.
type InteractionEvent struct {
	ID           int64
	UserID       int64
	EventType    EventType
	SearchPhrase *string
	ProductID    *int64
	OccurredAt   time.Time
	Dispatched   bool
	CreatedAt    time.Time
}

func (e *InteractionEvent) Validate() error {
	if e.UserID <= 0 {
		return ErrValidation("missing user_id")
	}
	if !e.EventType.Valid() {
		return ErrValidationMeta("unknown event type", map[string]string{"event_type": string(e.EventType)})
	}
	if e.OccurredAt.IsZero() {
		return ErrValidation("missing occurred_at")
	}
	if e.EventType == EventSearch {
		if e.SearchPhrase == nil || *e.SearchPhrase == "" {
			return ErrValidation("search event requires search_phrase")
		}
		if e.ProductID != nil {
			return ErrValidation("search event must not carry product_id")
		}
		return nil
	}
	if e.ProductID == nil || *e.ProductID <= 0 {
		return ErrValidation("product event requires product_id")
	}
	if e.SearchPhrase != nil {
		return ErrValidation("product event must not carry search_phrase")
	}
	return nil
}

// WeightPolicy maps each EventType to its influence weight in (0,1].
// Constructed once at startup and injected; never mutated afterwards.
type WeightPolicy struct {
	weights map[EventType]float64
}

// Default interaction weights: a purchase fully dominates, a view barely
// nudges the profile.
const (
	DefaultWeightSearch   = 0.7
	DefaultWeightView     = 0.2
	DefaultWeightClick    = 0.4
	DefaultWeightPurchase = 1.0
)

func DefaultWeightPolicy() WeightPolicy {
	p, _ := NewWeightPolicy(DefaultWeightSearch, DefaultWeightView, DefaultWeightClick, DefaultWeightPurchase)
	return p
}

func NewWeightPolicy(search, view, click, purchase float64) (WeightPolicy, error) {
	w := map[EventType]float64{
		EventSearch:          search,
		EventProductView:     view,
		EventProductClick:    click,
		EventProductPurchase: purchase,
	}
	for t, v := range w {
		if v <= 0 || v > 1 {
			return WeightPolicy{}, ErrValidationMeta("weight out of range (0,1]", map[string]string{
				"event_type": string(t),
				"weight":     fmt.Sprintf("%g", v),
			})
		}
	}
	return WeightPolicy{weights: w}, nil
}

// Weight returns the configured weight for t. Unknown types are a validation
// error so they end up dead-lettered, never silently weighted.
func (p WeightPolicy) Weight(t EventType) (float64, error) {
	w, ok := p.weights[t]
	if !ok {
		return 0, ErrValidationMeta("no weight for event type", map[string]string{"event_type": string(t)})
	}
	return w, nil
}
