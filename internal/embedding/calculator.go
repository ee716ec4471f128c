// Package embedding implements the pure profile-merge algorithm: temporal
// decay of the stored vector, weighted blend with the event vector, and
// renormalization to unit magnitude. No I/O; identical inputs always produce
// identical outputs.
package embedding

import (
	"fmt"
	"math"
	"time"

	"github.com/Nauflars/myshop-sub003/internal/domain"
)

// DefaultDecayRate gives a ~30-day half-life for stored behavior.
const DefaultDecayRate = math.Ln2 / 30

const hoursPerDay = 24

type Calculator struct {
	dim       int
	decayRate float64 // per day
}

func NewCalculator(dim int, decayRate float64) (*Calculator, error) {
	if dim <= 0 {
		return nil, domain.ErrValidation("vector dimension must be positive")
	}
	if decayRate <= 0 {
		decayRate = DefaultDecayRate
	}
	return &Calculator{dim: dim, decayRate: decayRate}, nil
}

func (c *Calculator) Dimension() int { return c.dim }

// DecayFactor returns exp(-λ·days). Strictly decreasing in daysElapsed;
// DecayFactor(0) == 1.
func (c *Calculator) DecayFactor(daysElapsed float64) float64 {
	if daysElapsed < 0 {
		daysElapsed = 0
	}
	return math.Exp(-c.decayRate * daysElapsed)
}

// Merge folds one event vector into the user's stored profile.
//
// With no existing profile the result is the renormalized event vector at
// version 1. Otherwise the stored vector is decayed by elapsed event time
// (event time, not arrival time, so redelivery cannot change the result) and
// blended per dimension:
//
//	merged[i] = (profile[i]*decay + event[i]*weight) / (decay + weight)
//
// An event timestamped strictly before the profile's LastUpdated is rejected
// as a validation error; out-of-order deliveries are dead-lettered rather
// than reconciled.
func (c *Calculator) Merge(userID int64, existing *domain.UserEmbedding, eventVec []float32, weight float64, occurredAt time.Time) (*domain.UserEmbedding, error) {
	if len(eventVec) != c.dim {
		return nil, domain.ErrValidationMeta("event vector has wrong dimension", map[string]string{
			"want": fmt.Sprintf("%d", c.dim),
			"got":  fmt.Sprintf("%d", len(eventVec)),
		})
	}
	if weight <= 0 || weight > 1 {
		return nil, domain.ErrValidationMeta("weight out of range (0,1]", map[string]string{
			"weight": fmt.Sprintf("%g", weight),
		})
	}
	if occurredAt.IsZero() {
		return nil, domain.ErrValidation("missing event timestamp")
	}

	if existing == nil {
		vec, err := Normalize(eventVec)
		if err != nil {
			return nil, err
		}
		return &domain.UserEmbedding{
			UserID:      userID,
			Vector:      vec,
			LastUpdated: occurredAt.UTC(),
			Version:     1,
			EventCount:  1,
		}, nil
	}

	if len(existing.Vector) != c.dim {
		return nil, domain.ErrValidationMeta("stored vector has wrong dimension", map[string]string{
			"want": fmt.Sprintf("%d", c.dim),
			"got":  fmt.Sprintf("%d", len(existing.Vector)),
		})
	}
	if occurredAt.Before(existing.LastUpdated) {
		return nil, domain.ErrValidationMeta("event older than stored profile", map[string]string{
			"occurred_at":  occurredAt.UTC().Format(time.RFC3339Nano),
			"last_updated": existing.LastUpdated.UTC().Format(time.RFC3339Nano),
		})
	}

	days := occurredAt.Sub(existing.LastUpdated).Hours() / hoursPerDay
	decay := c.DecayFactor(days)

	merged := make([]float64, c.dim)
	denom := decay + weight
	for i := 0; i < c.dim; i++ {
		merged[i] = (float64(existing.Vector[i])*decay + float64(eventVec[i])*weight) / denom
	}

	vec, err := normalize64(merged)
	if err != nil {
		return nil, err
	}

	return &domain.UserEmbedding{
		UserID:      existing.UserID,
		Vector:      vec,
		LastUpdated: occurredAt.UTC(),
		Version:     existing.Version + 1,
		EventCount:  existing.EventCount + 1,
	}, nil
}

// Normalize scales v to unit magnitude. Zero vectors are a validation error:
// there is no meaningful direction to store.
func Normalize(v []float32) ([]float32, error) {
	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	return normalize64(f)
}

func normalize64(v []float64) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, domain.ErrValidation("vector has no magnitude")
	}
	mag := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x / mag)
	}
	return out, nil
}

// Magnitude returns the L2 norm, used by tests and invariant checks.
func Magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
