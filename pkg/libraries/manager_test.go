package libraries

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfhq/shelf/pkg/observability"
	"github.com/shelfhq/shelf/pkg/storage"
)

type managerFixture struct {
	manager *Manager
	store   *Store
	library *Library
	root    string
}

func newManagerFixture(t *testing.T, listingTTL time.Duration) *managerFixture {
	t.Helper()

	store := newTestStore(t)
	ctx := context.Background()

	repo := &Repo{Name: "main", Kind: RepoKindLocal, Path: "main"}
	require.NoError(t, store.CreateRepo(ctx, repo))

	lib := &Library{Name: "Books", OwnerID: "user-1", RepoID: repo.ID}
	require.NoError(t, store.CreateLibrary(ctx, lib))

	root := t.TempDir()
	manager := NewManager(ManagerConfig{
		Store:      store,
		Factory:    NewBackendFactory(root, storage.S3Options{}),
		Logger:     observability.NewLogger(observability.ErrorLevel, io.Discard),
		ListingTTL: listingTTL,
	})

	return &managerFixture{manager: manager, store: store, library: lib, root: root}
}

func TestManager_Get(t *testing.T) {
	f := newManagerFixture(t, time.Minute)

	lib, err := f.manager.Get(context.Background(), f.library.ID)
	require.NoError(t, err)
	assert.Equal(t, "Books", lib.Name)
	require.NotNil(t, lib.Repo)
	assert.Equal(t, RepoKindLocal, lib.Repo.Kind)

	_, err = f.manager.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrLibraryNotFound)
}

func TestManager_GetMisconfiguredRepo(t *testing.T) {
	f := newManagerFixture(t, time.Minute)
	ctx := context.Background()

	orphan := &Library{Name: "Orphan", OwnerID: "user-1", RepoID: "gone"}
	require.NoError(t, f.store.CreateLibrary(ctx, orphan))

	_, err := f.manager.Get(ctx, orphan.ID)
	assert.ErrorIs(t, err, ErrRepoNotFound)
}

func TestManager_CreateRequiresRepo(t *testing.T) {
	f := newManagerFixture(t, time.Minute)

	err := f.manager.Create(context.Background(), &Library{
		Name:    "Broken",
		OwnerID: "user-1",
		RepoID:  "missing",
	})
	assert.ErrorIs(t, err, ErrRepoNotFound)
}

func TestManager_FileRoundTrip(t *testing.T) {
	f := newManagerFixture(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, f.manager.WriteFile(ctx, f.library.ID, "books/moby.txt", strings.NewReader("whale")))

	data, err := f.manager.ReadFile(ctx, f.library.ID, "books/moby.txt")
	require.NoError(t, err)
	assert.Equal(t, "whale", string(data))

	rc, err := f.manager.OpenFile(ctx, f.library.ID, "books/moby.txt")
	require.NoError(t, err)
	streamed, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "whale", string(streamed))

	require.NoError(t, f.manager.MoveFile(ctx, f.library.ID, "books/moby.txt", "archive/moby.txt"))
	_, err = f.manager.ReadFile(ctx, f.library.ID, "books/moby.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, f.manager.DeleteFile(ctx, f.library.ID, "archive/moby.txt"))
	_, err = f.manager.ReadFile(ctx, f.library.ID, "archive/moby.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_TouchFile(t *testing.T) {
	f := newManagerFixture(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, f.manager.TouchFile(ctx, f.library.ID, "empty.txt"))

	data, err := f.manager.ReadFile(ctx, f.library.ID, "empty.txt")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestManager_ListingCache(t *testing.T) {
	f := newManagerFixture(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, f.manager.WriteFile(ctx, f.library.ID, "a.txt", strings.NewReader("a")))

	infos, err := f.manager.ListFiles(ctx, f.library.ID, "")
	require.NoError(t, err)
	require.Len(t, infos, 1)

	// a change made behind the manager's back is not visible while the
	// listing is cached
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "main", "b.txt"), []byte("b"), 0o644))

	infos, err = f.manager.ListFiles(ctx, f.library.ID, "")
	require.NoError(t, err)
	assert.Len(t, infos, 1)

	// until the watcher (or any write through the manager) invalidates it
	f.manager.InvalidateAllListings()

	infos, err = f.manager.ListFiles(ctx, f.library.ID, "")
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestManager_WriteInvalidatesListing(t *testing.T) {
	f := newManagerFixture(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, f.manager.WriteFile(ctx, f.library.ID, "a.txt", strings.NewReader("a")))

	infos, err := f.manager.ListFiles(ctx, f.library.ID, "")
	require.NoError(t, err)
	require.Len(t, infos, 1)

	require.NoError(t, f.manager.WriteFile(ctx, f.library.ID, "b.txt", strings.NewReader("b")))

	infos, err = f.manager.ListFiles(ctx, f.library.ID, "")
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestManager_RejectsTraversal(t *testing.T) {
	f := newManagerFixture(t, time.Minute)
	ctx := context.Background()

	_, err := f.manager.ReadFile(ctx, f.library.ID, "../outside.txt")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)

	_, err = f.manager.ListFiles(ctx, f.library.ID, "../")
	assert.ErrorIs(t, err, storage.ErrInvalidPath)
}
