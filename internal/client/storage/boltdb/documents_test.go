package boltdb

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/decksync/internal/client/storage"
	"github.com/iudanet/decksync/pkg/api"
)

func deckDoc(id string, updatedAt int64, name string) api.Document {
	return api.Document{ID: id, UpdatedAt: updatedAt, Fields: map[string]any{"name": name}}
}

func forkIDs(docs []*storage.LocalDocument) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.Fork.ID)
	}
	return ids
}

func TestStorage_GetDocument_NotFound(t *testing.T) {
	store := setupTestStorage(t)

	_, err := store.GetDocument(context.Background(), "decks", "missing")
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
}

func TestStorage_WriteLocalAndDirty(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)

	for _, id := range []string{"c", "a", "b"} {
		_, err := store.WriteLocal(ctx, "decks", deckDoc(id, 0, id))
		require.NoError(t, err)
	}
	// Другая сущность не смешивается с decks
	_, err := store.WriteLocal(ctx, "cards", api.Document{ID: "x", Fields: map[string]any{"front": "f", "back": "b"}})
	require.NoError(t, err)

	all, err := store.ListDocuments(ctx, "decks")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, forkIDs(all))

	dirty, err := store.DirtyDocuments(ctx, "decks", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, forkIDs(dirty))

	count, err := store.CountDirty(ctx, "decks")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	empty, err := store.ListDocuments(ctx, "settings")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStorage_ApplyRemote(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)

	_, err := store.WriteLocal(ctx, "decks", deckDoc("mine", 0, "local edit"))
	require.NoError(t, err)

	changed, err := store.ApplyRemote(ctx, "decks", []api.Document{
		deckDoc("mine", 100, "server"),
		deckDoc("other", 100, "from server"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	// Неотправленная правка не теряет свою базу: push вернет конфликт
	mine, err := store.GetDocument(ctx, "decks", "mine")
	require.NoError(t, err)
	assert.True(t, mine.Dirty)
	assert.Equal(t, "local edit", mine.Fork.Fields["name"])
	assert.Nil(t, mine.Master)

	other, err := store.GetDocument(ctx, "decks", "other")
	require.NoError(t, err)
	assert.False(t, other.Dirty)
	assert.Equal(t, "from server", other.Fork.Fields["name"])

	// Повторная доставка того же состояния безвредна, старое состояние игнорируется
	changed, err = store.ApplyRemote(ctx, "decks", []api.Document{deckDoc("other", 50, "stale")})
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestStorage_ApplyRemote_KeepsNumbers(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)

	_, err := store.ApplyRemote(ctx, "decks", []api.Document{
		{ID: "d1", UpdatedAt: 1, Fields: map[string]any{"name": "n", "cardCount": json.Number("12")}},
	})
	require.NoError(t, err)

	doc, err := store.GetDocument(ctx, "decks", "d1")
	require.NoError(t, err)
	assert.Equal(t, json.Number("12"), doc.Fork.Fields["cardCount"])
}

func TestStorage_MarkPushedAndConflicts(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)

	accepted, err := store.WriteLocal(ctx, "decks", deckDoc("accepted", 0, "ok"))
	require.NoError(t, err)
	rejected, err := store.WriteLocal(ctx, "decks", deckDoc("rejected", 0, "mine"))
	require.NoError(t, err)

	require.NoError(t, store.MarkPushed(ctx, "decks", map[string]uint64{"accepted": accepted.Revision}))
	require.NoError(t, store.ApplyConflicts(ctx, "decks", []storage.Resolution{
		{Server: deckDoc("rejected", 300, "theirs"), Revision: rejected.Revision},
	}))

	count, err := store.CountDirty(ctx, "decks")
	require.NoError(t, err)
	assert.Zero(t, count)

	doc, err := store.GetDocument(ctx, "decks", "rejected")
	require.NoError(t, err)
	assert.Equal(t, "theirs", doc.Fork.Fields["name"])
	assert.Equal(t, int64(300), doc.Master.UpdatedAt)

	err = store.MarkPushed(ctx, "decks", map[string]uint64{"unknown": 1})
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
}
