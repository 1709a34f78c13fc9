package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iudanet/decksync/internal/client/storage"
	"github.com/iudanet/decksync/pkg/api"
)

func (c *Cli) newPutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put <entity> [id] <json>",
		Short: "Create or replace a document locally",
		Long: `Create or replace a document in the local store. The change is pushed by 'sync' or 'watch'.

Without an id the document keeps the id from the JSON body or gets a new UUID.`,
		Example: `  decksync put decks '{"name":"Spanish"}'
  decksync put cards c1 '{"front":"hola","back":"hello"}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: c.withStore(c.runPut),
	}
}

func (c *Cli) runPut(ctx context.Context, args []string) error {
	entity, err := c.catalog.Get(args[0])
	if err != nil {
		return err
	}

	body := args[len(args)-1]
	var doc api.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return fmt.Errorf("invalid document JSON: %w", err)
	}

	switch {
	case len(args) == 3:
		doc.ID = args[1]
	case doc.ID == "":
		doc.ID = uuid.NewString()
	}
	// Удаление делается командой delete
	doc.Deleted = false

	if err := entity.Validate(doc); err != nil {
		return err
	}

	local, err := c.store.WriteLocal(ctx, entity.Name, doc)
	if err != nil {
		return err
	}

	c.io.Printf("Saved %s/%s (revision %d, pending sync)\n", entity.Name, local.Fork.ID, local.Revision)
	return nil
}

func (c *Cli) newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity> <id>",
		Short: "Delete a document (tombstone)",
		Args:  cobra.ExactArgs(2),
		RunE:  c.withStore(c.runDelete),
	}
}

func (c *Cli) runDelete(ctx context.Context, args []string) error {
	entity, err := c.catalog.Get(args[0])
	if err != nil {
		return err
	}
	id := args[1]

	local, err := c.store.GetDocument(ctx, entity.Name, id)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return fmt.Errorf("%s/%s not found locally: %w", entity.Name, id, err)
		}
		return err
	}
	if local.Fork.Deleted {
		return fmt.Errorf("%s/%s is already deleted", entity.Name, id)
	}

	tombstone := local.Fork
	tombstone.Deleted = true
	if _, err := c.store.WriteLocal(ctx, entity.Name, tombstone); err != nil {
		return err
	}

	c.io.Printf("Deleted %s/%s (pending sync)\n", entity.Name, id)
	return nil
}

func (c *Cli) newListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list <entity>",
		Short: "List local documents of an entity",
		Long: `List local documents of an entity.

Marks: * - local changes not pushed yet, x - deleted (shown with --all).`,
		Args: cobra.ExactArgs(1),
		RunE: c.withStore(func(ctx context.Context, args []string) error {
			return c.runList(ctx, args[0], all)
		}),
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include deleted documents")

	return cmd
}

func (c *Cli) runList(ctx context.Context, name string, all bool) error {
	entity, err := c.catalog.Get(name)
	if err != nil {
		return err
	}

	docs, err := c.store.ListDocuments(ctx, entity.Name)
	if err != nil {
		return err
	}

	c.io.Printf("=== %s ===\n", entity.Name)

	shown := 0
	for _, doc := range docs {
		if doc.Fork.Deleted && !all {
			continue
		}

		fields, err := json.Marshal(doc.Fork.Fields)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", doc.Fork.ID, err)
		}
		c.io.Printf("%s %s %s\n", marks(doc), doc.Fork.ID, fields)
		shown++
	}

	if shown == 0 {
		c.io.Println("No documents")
		return nil
	}
	c.io.Printf("Total: %d\n", shown)
	return nil
}

func marks(doc *storage.LocalDocument) string {
	m := []byte("  ")
	if doc.Dirty {
		m[0] = '*'
	}
	if doc.Fork.Deleted {
		m[1] = 'x'
	}
	return string(m)
}
