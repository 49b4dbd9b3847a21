package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityState is the workflow status of a record.
type EntityState string

const (
	EntityStatePendingEntry      EntityState = "pending-entry"
	EntityStatePendingReview     EntityState = "pending-review"
	EntityStatePendingCorrection EntityState = "pending-correction"
	EntityStateComplete          EntityState = "complete"
	EntityStateNotDone           EntityState = "not-done"
)

// IsValid reports whether the state is a known workflow state.
func (s EntityState) IsValid() bool {
	switch s {
	case EntityStatePendingEntry, EntityStatePendingReview, EntityStatePendingCorrection,
		EntityStateComplete, EntityStateNotDone:
		return true
	}
	return false
}

// Entity is one version of a named record conforming to a schema. Rows sharing a
// name form the record's history; at most one of them is live.
type Entity struct {
	ID          int64       `json:"id"`
	SchemaID    int64       `json:"schema_id"`
	Name        string      `json:"name"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	State       EntityState `json:"state"`
	CollectDate time.Time   `json:"collect_date"`
	Timeline
	Revision int `json:"revision"`
}

// NewEntity builds an unsaved entity of the given schema. An empty name is
// replaced by a generated slug at insert time.
func NewEntity(schemaID int64, name, title string, collectDate time.Time) Entity {
	return Entity{
		SchemaID:    schemaID,
		Name:        strings.TrimSpace(name),
		Title:       strings.TrimSpace(title),
		State:       EntityStatePendingEntry,
		CollectDate: collectDate,
	}
}

// Validate checks the entity row.
func (e Entity) Validate() error {
	if e.SchemaID == 0 {
		return NewValidationError("schema_id", "is required")
	}
	if len(e.Name) > 100 {
		return NewValidationError("name", "must be at most 100 characters")
	}
	if !e.State.IsValid() {
		return NewValidationError("state", "unknown state %q", e.State)
	}
	return e.Timeline.Validate()
}

// IsLive reports whether the row has not been retired.
func (e Entity) IsLive() bool {
	return e.RemoveDate == nil
}

// EntitySlug builds the generated name of an entity once its id is known.
func EntitySlug(schemaName string, id int64) string {
	return fmt.Sprintf("%s-%d", schemaName, id)
}

// WithState returns a copy moved to a new workflow state.
func (e Entity) WithState(state EntityState) Entity {
	clone := e
	clone.State = state
	return clone
}

// WithTitle returns a copy with a new title and description.
func (e Entity) WithTitle(title, description string) Entity {
	clone := e
	clone.Title = strings.TrimSpace(title)
	clone.Description = strings.TrimSpace(description)
	return clone
}
