// Package entity holds the timestamp pair embedded by mutable hookrelay objects.
package entity

import "time"

// Entity carries creation and last-modification times.
type Entity struct {
	CreatedAt time.Time `json:"createdAt" bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `json:"updatedAt" bun:"updated_at,notnull,default:current_timestamp"`
}

// New returns an Entity with both timestamps set to the current UTC time.
func New() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch bumps UpdatedAt to the current UTC time.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
