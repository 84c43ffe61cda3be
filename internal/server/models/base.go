// Package models defines the entities served by the API and persisted in
// the database, together with the patch types used for partial updates.
package models

import "time"

// Precision is the timestamp resolution of the durable store.
const Precision = time.Microsecond

// Base carries the identity and lifecycle fields shared by every entity.
// A non-nil DeletedAt marks the row as soft-deleted.
type Base struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// GetID returns the entity id.
func (b *Base) GetID() string { return b.ID }

// Stamp fills zero CreatedAt/UpdatedAt with now.
func (b *Base) Stamp(now time.Time) {
	now = now.UTC().Truncate(Precision)
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
}

// Touch advances UpdatedAt to now. If the clock has not moved past the
// previous value, UpdatedAt is bumped by one Precision step so that it
// always strictly increases.
func (b *Base) Touch(now time.Time) {
	next := now.UTC().Truncate(Precision)
	if !next.After(b.UpdatedAt) {
		next = b.UpdatedAt.Add(Precision)
	}
	b.UpdatedAt = next
}

// Deleted reports whether the entity is soft-deleted.
func (b *Base) Deleted() bool { return b.DeletedAt != nil }
