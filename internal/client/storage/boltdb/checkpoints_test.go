package boltdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/decksync/pkg/api"
)

func TestStorage_Checkpoints(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)

	cp, err := store.GetCheckpoint(ctx, "decks")
	require.NoError(t, err)
	assert.Nil(t, cp, "never pulled entity has no checkpoint")

	require.NoError(t, store.SaveCheckpoint(ctx, "decks", &api.Checkpoint{ID: "b", UpdatedAt: 100}))
	require.NoError(t, store.SaveCheckpoint(ctx, "cards", &api.Checkpoint{ID: "x", UpdatedAt: 5}))

	cp, err = store.GetCheckpoint(ctx, "decks")
	require.NoError(t, err)
	assert.Equal(t, &api.Checkpoint{ID: "b", UpdatedAt: 100}, cp)

	// nil сбрасывает checkpoint только своей сущности
	require.NoError(t, store.SaveCheckpoint(ctx, "decks", nil))
	cp, err = store.GetCheckpoint(ctx, "decks")
	require.NoError(t, err)
	assert.Nil(t, cp)

	cp, err = store.GetCheckpoint(ctx, "cards")
	require.NoError(t, err)
	assert.Equal(t, &api.Checkpoint{ID: "x", UpdatedAt: 5}, cp)
}
