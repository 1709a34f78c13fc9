package models

import (
	"errors"
	"fmt"
	"sort"

	"github.com/iudanet/decksync/internal/validation"
	"github.com/iudanet/decksync/pkg/api"
)

// Entity tags of the flashcard domain.
const (
	EntityDecks     = "decks"
	EntityCards     = "cards"
	EntityDeckCards = "deck_cards"
	EntitySettings  = "settings"
)

var (
	// ErrUnknownEntity indicates that the entity tag is not registered
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrInvalidDocument indicates that a document failed entity validation
	ErrInvalidDocument = errors.New("invalid document")
)

// Link describes a cross-entity reference that widens an entity's change feed:
// a fresh row in Entity whose Field points at a document makes that document
// reappear in the feed with the link's timestamp.
type Link struct {
	Entity string
	Field  string
}

// Entity describes one syncable entity type.
type Entity struct {
	LinkedBy       *Link
	Name           string
	RequiredFields []string
	Multiplexed    bool // served on the shared multiplexed stream
}

// Validate checks a candidate document state against the entity rules.
// Tombstones only need a valid id.
func (e Entity) Validate(doc api.Document) error {
	if err := validation.ValidateDocumentID(doc.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Deleted {
		return nil
	}
	for _, field := range e.RequiredFields {
		v, ok := doc.Fields[field]
		if !ok || v == nil {
			return fmt.Errorf("%w: %s requires field %q", ErrInvalidDocument, e.Name, field)
		}
	}
	return nil
}

// Catalog is the set of entities known to both ends of the protocol.
type Catalog struct {
	entities map[string]Entity
	names    []string
}

// NewCatalog validates and indexes entity definitions.
func NewCatalog(entities ...Entity) (*Catalog, error) {
	c := &Catalog{entities: make(map[string]Entity, len(entities))}
	for _, e := range entities {
		if err := validation.ValidateEntityName(e.Name); err != nil {
			return nil, err
		}
		if _, dup := c.entities[e.Name]; dup {
			return nil, fmt.Errorf("entity %q registered twice", e.Name)
		}
		c.entities[e.Name] = e
		c.names = append(c.names, e.Name)
	}
	for _, e := range entities {
		if e.LinkedBy == nil {
			continue
		}
		if _, ok := c.entities[e.LinkedBy.Entity]; !ok {
			return nil, fmt.Errorf("entity %q linked by unknown entity %q", e.Name, e.LinkedBy.Entity)
		}
		if e.LinkedBy.Field == "" {
			return nil, fmt.Errorf("entity %q: link field is empty", e.Name)
		}
	}
	sort.Strings(c.names)
	return c, nil
}

// DefaultCatalog returns the flashcard entities.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Entity{Name: EntityDecks, RequiredFields: []string{"name"}, Multiplexed: true},
		Entity{
			Name:           EntityCards,
			RequiredFields: []string{"front", "back"},
			LinkedBy:       &Link{Entity: EntityDeckCards, Field: "cardId"},
			Multiplexed:    true,
		},
		Entity{Name: EntityDeckCards, RequiredFields: []string{"deckId", "cardId"}, Multiplexed: true},
		Entity{Name: EntitySettings},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Get looks up an entity by tag.
func (c *Catalog) Get(name string) (Entity, error) {
	e, ok := c.entities[name]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return e, nil
}

// Names returns all entity tags in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Multiplexed returns the tags served on the shared stream.
func (c *Catalog) Multiplexed() []string {
	var out []string
	for _, name := range c.names {
		if c.entities[name].Multiplexed {
			out = append(out, name)
		}
	}
	return out
}

// Standalone returns the tags served on their own per-entity stream.
func (c *Catalog) Standalone() []string {
	var out []string
	for _, name := range c.names {
		if !c.entities[name].Multiplexed {
			out = append(out, name)
		}
	}
	return out
}

// LinkedFrom returns the entities whose feed is widened by rows of linkEntity.
func (c *Catalog) LinkedFrom(linkEntity string) []Entity {
	var out []Entity
	for _, name := range c.names {
		e := c.entities[name]
		if e.LinkedBy != nil && e.LinkedBy.Entity == linkEntity {
			out = append(out, e)
		}
	}
	return out
}
