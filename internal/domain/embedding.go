package domain

import "time"

// UserEmbedding is the behavioral profile owned by the embedding store.
// Invariants: len(Vector) equals the configured dimension, the vector is unit
// magnitude within floating-point tolerance, and Version strictly increases
// with every successful save (it doubles as the optimistic-lock token).
type UserEmbedding struct {
	UserID      int64
	Vector      []float32
	LastUpdated time.Time
	Version     int64
	EventCount  int64
}

// Clone returns a deep copy so callers can merge without aliasing the stored
// vector.
func (e *UserEmbedding) Clone() *UserEmbedding {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Vector = make([]float32, len(e.Vector))
	copy(cp.Vector, e.Vector)
	return &cp
}
