package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_EstablishAndGet(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	sess, err := store.Establish(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, sess.Token, 64)
	assert.Equal(t, "user-1", sess.UserID)

	got, err := store.Get(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
}

func TestMemoryStore_TokensAreUnique(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	a, err := store.Establish(ctx, "user-1")
	require.NoError(t, err)
	b, err := store.Establish(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	_, err := store.Get(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Millisecond)
	ctx := context.Background()

	sess, err := store.Establish(ctx, "user-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = store.Get(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_Destroy(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	sess, err := store.Establish(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, store.Destroy(ctx, sess.Token))
	_, err = store.Get(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// destroying again is fine
	require.NoError(t, store.Destroy(ctx, sess.Token))
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore(time.Millisecond)
	ctx := context.Background()

	_, err := store.Establish(ctx, "user-1")
	require.NoError(t, err)
	_, err = store.Establish(ctx, "user-2")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.Zero(t, store.Sweep())
}
