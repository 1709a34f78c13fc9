package models

import (
	"time"

	"github.com/iudanet/decksync/pkg/api"
)

// Document представляет одну реплицируемую запись на стороне сервера.
// Записи никогда не удаляются физически: удаление оставляет tombstone (Deleted = true),
// чтобы и pull-догонялка, и live-поток видели удаление как обычное изменение.
type Document struct {
	CreatedAt   time.Time      `json:"created_at"`
	Fields      map[string]any `json:"fields"`
	UserID      string         `json:"user_id"`      // владелец (principal)
	Entity      string         `json:"entity"`       // тег сущности, например "cards"
	ID          string         `json:"id"`           // идентификатор, уникален в рамках (user, entity)
	UpdatedAt   int64          `json:"updated_at"`   // собственная метка записи, epoch ms
	EffectiveAt int64          `json:"effective_at"` // max(UpdatedAt, метка свежей ссылки на запись)
	Deleted     bool           `json:"deleted"`
}

// Position returns the document's place in the change feed.
// For link-widened entities the effective timestamp orders the feed, not the row's own stamp.
func (d *Document) Position() api.Checkpoint {
	ts := d.UpdatedAt
	if d.EffectiveAt > ts {
		ts = d.EffectiveAt
	}
	return api.Checkpoint{ID: d.ID, UpdatedAt: ts}
}

// ToAPI converts the document to its wire form.
func (d *Document) ToAPI() api.Document {
	return api.Document{
		ID:        d.ID,
		UpdatedAt: d.UpdatedAt,
		Deleted:   d.Deleted,
		Fields:    cloneFields(d.Fields),
	}
}

// FromAPI builds a server document owned by userID from a wire document.
func FromAPI(userID, entity string, doc api.Document) *Document {
	return &Document{
		UserID:    userID,
		Entity:    entity,
		ID:        doc.ID,
		UpdatedAt: doc.UpdatedAt,
		Deleted:   doc.Deleted,
		Fields:    cloneFields(doc.Fields),
	}
}

// Clone создает глубокую копию документа (вложенные значения полей копируются по ссылке)
func (d *Document) Clone() *Document {
	c := *d
	c.Fields = cloneFields(d.Fields)
	return &c
}

// ToAPIDocuments converts a page of documents to wire form.
func ToAPIDocuments(docs []*Document) []api.Document {
	out := make([]api.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ToAPI())
	}
	return out
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
