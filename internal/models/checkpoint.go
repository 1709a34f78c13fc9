package models

import "github.com/iudanet/decksync/pkg/api"

// NextCheckpoint derives the cursor that follows a page already sorted by (updatedAt, id).
// The new checkpoint is the position of the last document; an empty page leaves the
// cursor where it was so a filtered-out tick never looks like progress.
func NextCheckpoint(page []*Document, current *api.Checkpoint) *api.Checkpoint {
	if len(page) == 0 {
		if current == nil {
			return nil
		}
		cp := *current
		return &cp
	}
	cp := page[len(page)-1].Position()
	return &cp
}

// NormalizeCheckpoint treats a malformed resume point as "no checkpoint" (full resync)
// instead of rejecting it.
func NormalizeCheckpoint(cp *api.Checkpoint) *api.Checkpoint {
	if cp == nil || !cp.Valid() {
		return nil
	}
	c := *cp
	return &c
}

// IsAfter reports whether position p is strictly after checkpoint cp.
// A nil checkpoint precedes every position.
func IsAfter(p api.Checkpoint, cp *api.Checkpoint) bool {
	if cp == nil {
		return true
	}
	return cp.Less(p)
}

// MaxCheckpoint returns the later of two checkpoints; nil counts as the earliest.
func MaxCheckpoint(a, b *api.Checkpoint) *api.Checkpoint {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.Less(*b):
		return b
	default:
		return a
	}
}
