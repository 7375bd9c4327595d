package models

import (
	"time"

	"github.com/google/uuid"
)

// MergeRecord is one entry in the append-only merge history. Seq gives a
// total order across all merges, used to decide whether a merge is still the
// most recent one and therefore undoable.
// Stored in merge_history table.
type MergeRecord struct {
	ID        uuid.UUID  `json:"id"`
	Seq       int64      `json:"seq"`
	Kind      EntityKind `json:"kind"`
	SourceID  uuid.UUID  `json:"source_id"`
	TargetID  uuid.UUID  `json:"target_id"`
	Reason    string     `json:"reason"`
	Actor     string     `json:"actor"`
	Undone    bool       `json:"undone"`
	CreatedAt time.Time  `json:"created_at"`
}
