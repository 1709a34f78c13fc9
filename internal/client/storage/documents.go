package storage

import (
	"context"

	"github.com/iudanet/decksync/pkg/api"
)

// LocalDocument is the client copy of one replicated document.
// Fork is what the application sees and edits, Master is the last state
// received from the server. Dirty marks a fork the server has not accepted yet.
type LocalDocument struct {
	Master   *api.Document `json:"master,omitempty"`
	Fork     api.Document  `json:"fork"`
	Revision uint64        `json:"revision"` // растет при каждой локальной записи
	Dirty    bool          `json:"dirty"`
	// Rebase: сервер принял отправленную ревизию, но fork с тех пор изменился.
	// Следующее состояние с сервера становится master для этой правки.
	Rebase bool `json:"rebase,omitempty"`
}

// WriteLocal applies an application write to the fork.
func (d *LocalDocument) WriteLocal(doc api.Document) {
	doc.Fields = cloneFields(doc.Fields)
	// updatedAt проставит сервер при push; локально сохраняем известную версию
	if d.Master != nil {
		doc.UpdatedAt = d.Master.UpdatedAt
	} else {
		doc.UpdatedAt = 0
	}
	d.Fork = doc
	d.Dirty = true
	d.Revision++
}

// ApplyRemote records a server state on a clean record. States older than the
// known master are ignored. A dirty record keeps the master its edit was based on,
// so a concurrent server change comes back as a push conflict instead of being
// overwritten. It reports whether anything changed.
func (d *LocalDocument) ApplyRemote(doc api.Document) bool {
	if d.Master != nil && doc.UpdatedAt < d.Master.UpdatedAt {
		return false
	}
	if d.Dirty && !d.Rebase {
		return false
	}

	master := doc
	master.Fields = cloneFields(doc.Fields)
	d.Master = &master

	if d.Dirty {
		d.Rebase = false
		return true
	}

	fork := master
	fork.Fields = cloneFields(master.Fields)
	d.Fork = fork
	return true
}

// MarkPushed clears Dirty if the fork was not edited again after revision was pushed.
// Otherwise the later edit is rebased onto the accepted state once it is pulled.
func (d *LocalDocument) MarkPushed(revision uint64) {
	if d.Revision == revision {
		d.Dirty = false
		d.Rebase = false
		return
	}
	d.Rebase = true
}

// Resolution is the outcome of a push conflict for one document.
type Resolution struct {
	// Resolved is nil to accept Server as is, or a document to push again against Server.
	Resolved *api.Document
	Server   api.Document
	Revision uint64
}

// ApplyConflict makes the server state the new master and settles the fork.
// A fork edited after the conflicting push stays dirty and will be pushed against the new master.
func (d *LocalDocument) ApplyConflict(r Resolution) {
	server := r.Server
	server.Fields = cloneFields(r.Server.Fields)
	d.Master = &server
	d.Rebase = false

	if d.Revision != r.Revision {
		return
	}

	if r.Resolved == nil {
		fork := server
		fork.Fields = cloneFields(server.Fields)
		d.Fork = fork
		d.Dirty = false
		return
	}

	resolved := *r.Resolved
	resolved.ID = server.ID
	resolved.UpdatedAt = server.UpdatedAt
	resolved.Fields = cloneFields(r.Resolved.Fields)
	d.Fork = resolved
	d.Dirty = true
	d.Revision++
}

// PushRow builds the push row for a dirty document.
func (d *LocalDocument) PushRow() api.PushRow {
	return api.PushRow{NewDocumentState: d.Fork, AssumedMasterState: d.Master}
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// DocumentStorage stores local documents per entity
type DocumentStorage interface {
	// GetDocument returns one document
	// Returns ErrDocumentNotFound if it was never stored
	GetDocument(ctx context.Context, entity, id string) (*LocalDocument, error)

	// ListDocuments returns every document of the entity ordered by id, tombstones included
	ListDocuments(ctx context.Context, entity string) ([]*LocalDocument, error)

	// DirtyDocuments returns up to limit documents with unpushed local edits, ordered by id
	DirtyDocuments(ctx context.Context, entity string, limit int) ([]*LocalDocument, error)

	// CountDirty returns the number of documents with unpushed local edits
	CountDirty(ctx context.Context, entity string) (int, error)

	// WriteLocal stores an application write and returns the updated record
	WriteLocal(ctx context.Context, entity string, doc api.Document) (*LocalDocument, error)

	// ApplyRemote stores server states in one transaction and returns how many records changed
	ApplyRemote(ctx context.Context, entity string, docs []api.Document) (int, error)

	// MarkPushed clears Dirty for accepted rows, keyed by id with the pushed revision
	MarkPushed(ctx context.Context, entity string, revisions map[string]uint64) error

	// ApplyConflicts stores conflict resolutions in one transaction
	ApplyConflicts(ctx context.Context, entity string, resolutions []Resolution) error
}
