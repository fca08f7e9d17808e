package stores

import (
	"time"

	"github.com/loomengine/loom/pkg/engine"
)

// EventRecord is one journalled load event.
type EventRecord struct {
	ID          string              `json:"id"`
	AttachID    *string             `json:"attach_id,omitempty"`
	Type        engine.LoadEventType `json:"type"`
	UnitName    string              `json:"unit_name"`
	ContextName string              `json:"context_name"`
	Rules       []string            `json:"rules,omitempty"`
	Error       string              `json:"error,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// AttachRecord is one journalled engine attach.
type AttachRecord struct {
	ID         string                 `json:"id"`
	Plugins    int                    `json:"plugins"`
	Rules      int                    `json:"rules"`
	Dropped    []engine.DroppedPlugin `json:"dropped,omitempty"`
	AttachedAt time.Time              `json:"attached_at"`
	DetachedAt *time.Time             `json:"detached_at,omitempty"`
}

// EventFilter narrows event queries. Zero values match everything.
type EventFilter struct {
	Type     engine.LoadEventType
	UnitName string
	Limit    int
	Offset   int
}
