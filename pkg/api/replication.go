package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MaxBatchSize is the largest page a pull request may ask for.
const MaxBatchSize = 200

// Reserved document keys. Everything else in a document is a business field.
const (
	FieldID        = "id"
	FieldUpdatedAt = "updatedAt"
	FieldDeleted   = "deleted"
)

// Checkpoint marks how far replication has progressed for one entity and one principal.
// Positions are totally ordered by (UpdatedAt, ID) ascending.
type Checkpoint struct {
	ID        string `json:"id"`
	UpdatedAt int64  `json:"updatedAt"` // epoch milliseconds
}

// Less reports whether c sorts strictly before other.
func (c Checkpoint) Less(other Checkpoint) bool {
	if c.UpdatedAt != other.UpdatedAt {
		return c.UpdatedAt < other.UpdatedAt
	}
	return c.ID < other.ID
}

// Valid reports whether the checkpoint can be used as a resume point.
func (c Checkpoint) Valid() bool {
	return c.ID != "" && c.UpdatedAt >= 0
}

// Document is the wire representation of one replicated entity instance.
// It serialises as a flat JSON object: business fields plus id, updatedAt and deleted.
type Document struct {
	Fields    map[string]any
	ID        string
	UpdatedAt int64
	Deleted   bool
}

// Position returns the checkpoint that points at this document.
func (d Document) Position() Checkpoint {
	return Checkpoint{ID: d.ID, UpdatedAt: d.UpdatedAt}
}

// MarshalJSON flattens business fields next to the reserved keys.
func (d Document) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Fields)+3)
	for k, v := range d.Fields {
		m[k] = v
	}
	m[FieldID] = d.ID
	m[FieldUpdatedAt] = d.UpdatedAt
	m[FieldDeleted] = d.Deleted
	return json.Marshal(m)
}

// UnmarshalJSON splits reserved keys from business fields.
// Numbers in business fields are kept as json.Number to round-trip exactly.
func (d *Document) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("document must be a JSON object")
	}

	var doc Document
	if v, ok := raw[FieldID]; ok {
		if err := json.Unmarshal(v, &doc.ID); err != nil {
			return fmt.Errorf("invalid %q: %w", FieldID, err)
		}
	}
	if v, ok := raw[FieldUpdatedAt]; ok {
		if err := json.Unmarshal(v, &doc.UpdatedAt); err != nil {
			return fmt.Errorf("invalid %q: %w", FieldUpdatedAt, err)
		}
	}
	if v, ok := raw[FieldDeleted]; ok {
		if err := json.Unmarshal(v, &doc.Deleted); err != nil {
			return fmt.Errorf("invalid %q: %w", FieldDeleted, err)
		}
	}

	for k, v := range raw {
		if k == FieldID || k == FieldUpdatedAt || k == FieldDeleted {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("invalid field %q: %w", k, err)
		}
		if doc.Fields == nil {
			doc.Fields = make(map[string]any, len(raw))
		}
		doc.Fields[k] = value
	}

	*d = doc
	return nil
}

// PullRequest asks for the next page of changes after Checkpoint.
// A nil Checkpoint means "from the beginning".
type PullRequest struct {
	Checkpoint *Checkpoint `json:"checkpoint"`
	BatchSize  int         `json:"batchSize"`
}

// UnmarshalJSON decodes a pull request. A checkpoint that does not decode
// is dropped, so a corrupted resume point restarts the pull from the beginning.
func (r *PullRequest) UnmarshalJSON(b []byte) error {
	var raw struct {
		Checkpoint json.RawMessage `json:"checkpoint"`
		BatchSize  int             `json:"batchSize"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	r.BatchSize = raw.BatchSize
	r.Checkpoint = nil
	if len(raw.Checkpoint) == 0 {
		return nil
	}

	var cp *Checkpoint
	if err := json.Unmarshal(raw.Checkpoint, &cp); err == nil {
		r.Checkpoint = cp
	}
	return nil
}

// PullResponse carries one ordered page of changed documents.
type PullResponse struct {
	Checkpoint *Checkpoint `json:"checkpoint"`
	Documents  []Document  `json:"documents"`
}

// PushRow is one candidate write together with the master state the client assumed.
type PushRow struct {
	AssumedMasterState *Document `json:"assumedMasterState"`
	NewDocumentState   Document  `json:"newDocumentState"`
}

// PushRequest is a batch of client-originated writes.
type PushRequest struct {
	Rows []PushRow `json:"rows"`
}

// PushResponse lists the current server state of every rejected row.
// Rows not listed were applied.
type PushResponse struct {
	Conflicts []Document `json:"conflicts"`
}

// BulkDeleteRequest tombstones many documents at once.
type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// BulkDeleteResponse reports how many rows became tombstones.
type BulkDeleteResponse struct {
	Deleted int `json:"deleted"`
}
