package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ResyncToken is the wire form of a RESYNC event.
const ResyncToken = "RESYNC"

// ErrUnknownEvent is returned when a payload is neither a change event nor RESYNC.
var ErrUnknownEvent = errors.New("unknown event")

// EventKind discriminates the Event variants.
type EventKind uint8

const (
	// EventChanges carries documents and the checkpoint of the last one.
	EventChanges EventKind = iota + 1
	// EventResync tells the consumer to drop incremental tracking and redo pull catch-up.
	EventResync
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventChanges:
		return "changes"
	case EventResync:
		return "resync"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is the ChangeEvent | RESYNC union delivered on live streams.
type Event struct {
	Checkpoint *Checkpoint
	Documents  []Document
	Kind       EventKind
}

// Changes builds a change event.
func Changes(documents []Document, checkpoint *Checkpoint) Event {
	return Event{Kind: EventChanges, Documents: documents, Checkpoint: checkpoint}
}

// Resync builds a RESYNC event.
func Resync() Event {
	return Event{Kind: EventResync}
}

type changeEventJSON struct {
	Checkpoint *Checkpoint `json:"checkpoint"`
	Documents  []Document  `json:"documents"`
}

// MarshalJSON encodes RESYNC as the bare string "RESYNC" and changes as an object.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventResync:
		return json.Marshal(ResyncToken)
	case EventChanges:
		docs := e.Documents
		if docs == nil {
			docs = []Document{}
		}
		return json.Marshal(changeEventJSON{Documents: docs, Checkpoint: e.Checkpoint})
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownEvent, e.Kind)
	}
}

// UnmarshalJSON accepts either "RESYNC" or {"documents":[...],"checkpoint":...}.
func (e *Event) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("%w: empty payload", ErrUnknownEvent)
	}

	switch b[0] {
	case '"':
		var token string
		if err := json.Unmarshal(b, &token); err != nil {
			return fmt.Errorf("failed to decode event token: %w", err)
		}
		if token != ResyncToken {
			return fmt.Errorf("%w: %q", ErrUnknownEvent, token)
		}
		*e = Resync()
		return nil
	case '{':
		var payload changeEventJSON
		if err := json.Unmarshal(b, &payload); err != nil {
			return fmt.Errorf("failed to decode change event: %w", err)
		}
		*e = Changes(payload.Documents, payload.Checkpoint)
		return nil
	default:
		return fmt.Errorf("%w: unexpected payload", ErrUnknownEvent)
	}
}

// TaggedEvent is one frame of the multiplexed live stream.
type TaggedEvent struct {
	Entity string `json:"type"`
	Event  Event  `json:"event"`
}
