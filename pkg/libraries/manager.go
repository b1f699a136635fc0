package libraries

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/shelfhq/shelf/pkg/observability"
	"github.com/shelfhq/shelf/pkg/storage"
)

// BackendFactory builds the storage backend for a repo
type BackendFactory func(ctx context.Context, repo *Repo) (storage.Backend, error)

// NewBackendFactory maps repo kinds onto backends: local repos become
// directories under localRoot, S3 repos become key prefixes using the
// shared bucket settings
func NewBackendFactory(localRoot string, s3 storage.S3Options) BackendFactory {
	return func(ctx context.Context, repo *Repo) (storage.Backend, error) {
		switch repo.Kind {
		case RepoKindLocal:
			return storage.NewLocalBackend(filepath.Join(localRoot, repo.Path))
		case RepoKindS3:
			opts := s3
			opts.Prefix = repo.Path
			return storage.NewS3Backend(ctx, opts)
		default:
			return nil, fmt.Errorf("unknown repo kind: %s", repo.Kind)
		}
	}
}

// Manager coordinates library metadata with the storage backends behind
// them. Backends are built once per repo and reused; directory listings are
// cached with a TTL and invalidated on any write through the manager or on
// out-of-band filesystem changes reported by the storage watcher.
type Manager struct {
	store   *Store
	factory BackendFactory
	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	backends map[string]storage.Backend

	listings *lru.LRU[string, []storage.FileInfo]
}

// ManagerConfig wires the manager's collaborators
type ManagerConfig struct {
	Store   *Store
	Factory BackendFactory
	Logger  *observability.Logger
	// Metrics may be nil in tests
	Metrics *observability.Metrics

	ListingTTL      time.Duration
	ListingCapacity int
}

// NewManager creates a library manager
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.ListingTTL <= 0 {
		cfg.ListingTTL = 30 * time.Second
	}
	if cfg.ListingCapacity <= 0 {
		cfg.ListingCapacity = 512
	}
	return &Manager{
		store:    cfg.Store,
		factory:  cfg.Factory,
		logger:   cfg.Logger.WithField("component", "libraries"),
		metrics:  cfg.Metrics,
		backends: make(map[string]storage.Backend),
		listings: lru.NewLRU[string, []storage.FileInfo](cfg.ListingCapacity, nil, cfg.ListingTTL),
	}
}

// List returns the libraries owned by a user
func (m *Manager) List(ctx context.Context, ownerID string) ([]*Library, error) {
	return m.store.ListByOwner(ctx, ownerID)
}

// ListRepos returns the configured repos
func (m *Manager) ListRepos(ctx context.Context) ([]*Repo, error) {
	return m.store.ListRepos(ctx)
}

// Get returns a library joined with its repo
func (m *Manager) Get(ctx context.Context, libraryID string) (*LibraryWithRepo, error) {
	lib, err := m.store.GetLibrary(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	repo, err := m.store.GetRepo(ctx, lib.RepoID)
	if err != nil {
		return nil, fmt.Errorf("library %s is misconfigured: %w", libraryID, err)
	}
	return &LibraryWithRepo{Library: *lib, Repo: repo}, nil
}

// Create inserts a library after checking its repo exists
func (m *Manager) Create(ctx context.Context, lib *Library) error {
	if _, err := m.store.GetRepo(ctx, lib.RepoID); err != nil {
		return err
	}
	return m.store.CreateLibrary(ctx, lib)
}

// Delete removes a library record; files on the repo stay
func (m *Manager) Delete(ctx context.Context, libraryID string) error {
	if err := m.store.DeleteLibrary(ctx, libraryID); err != nil {
		return err
	}
	m.invalidateLibrary(libraryID)
	return nil
}

// backend returns the cached backend for a repo, building it on first use
func (m *Manager) backend(ctx context.Context, repo *Repo) (storage.Backend, error) {
	m.mu.RLock()
	b, ok := m.backends[repo.ID]
	m.mu.RUnlock()
	if ok {
		return b, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.backends[repo.ID]; ok {
		return b, nil
	}

	b, err := m.factory(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend for repo %s: %w", repo.ID, err)
	}
	m.backends[repo.ID] = b
	return b, nil
}

// resolve returns the backend behind a library
func (m *Manager) resolve(ctx context.Context, libraryID string) (storage.Backend, error) {
	lib, err := m.Get(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	return m.backend(ctx, lib.Repo)
}

func listingKey(libraryID, path string) string {
	return libraryID + "\x00" + path
}

// ListFiles returns the entries under path, served from the listing cache
// when fresh
func (m *Manager) ListFiles(ctx context.Context, libraryID, path string) ([]storage.FileInfo, error) {
	cleaned, err := storage.CleanPath(path)
	if err != nil {
		return nil, err
	}

	key := listingKey(libraryID, cleaned)
	if infos, ok := m.listings.Get(key); ok {
		return infos, nil
	}

	backend, err := m.resolve(ctx, libraryID)
	if err != nil {
		return nil, err
	}

	var infos []storage.FileInfo
	err = m.instrument(backend, "list", func() error {
		var opErr error
		infos, opErr = backend.List(ctx, cleaned)
		return opErr
	})
	if err != nil {
		return nil, err
	}

	m.listings.Add(key, infos)
	return infos, nil
}

// TouchFile creates an empty file
func (m *Manager) TouchFile(ctx context.Context, libraryID, path string) error {
	backend, err := m.resolve(ctx, libraryID)
	if err != nil {
		return err
	}
	err = m.instrument(backend, "touch", func() error {
		return backend.Touch(ctx, path)
	})
	if err == nil {
		m.invalidateLibrary(libraryID)
	}
	return err
}

// ReadFile returns the full content of a file
func (m *Manager) ReadFile(ctx context.Context, libraryID, path string) ([]byte, error) {
	backend, err := m.resolve(ctx, libraryID)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = m.instrument(backend, "read", func() error {
		var opErr error
		data, opErr = backend.Read(ctx, path)
		return opErr
	})
	return data, err
}

// OpenFile returns a streaming reader for a file
func (m *Manager) OpenFile(ctx context.Context, libraryID, path string) (io.ReadCloser, error) {
	backend, err := m.resolve(ctx, libraryID)
	if err != nil {
		return nil, err
	}

	var rc io.ReadCloser
	err = m.instrument(backend, "open", func() error {
		var opErr error
		rc, opErr = backend.Open(ctx, path)
		return opErr
	})
	return rc, err
}

// WriteFile stores content at path
func (m *Manager) WriteFile(ctx context.Context, libraryID, path string, content io.Reader) error {
	backend, err := m.resolve(ctx, libraryID)
	if err != nil {
		return err
	}
	err = m.instrument(backend, "write", func() error {
		return backend.Write(ctx, path, content)
	})
	if err == nil {
		m.invalidateLibrary(libraryID)
	}
	return err
}

// MoveFile renames src to dst
func (m *Manager) MoveFile(ctx context.Context, libraryID, src, dst string) error {
	backend, err := m.resolve(ctx, libraryID)
	if err != nil {
		return err
	}
	err = m.instrument(backend, "move", func() error {
		return backend.Move(ctx, src, dst)
	})
	if err == nil {
		m.invalidateLibrary(libraryID)
	}
	return err
}

// DeleteFile removes a file
func (m *Manager) DeleteFile(ctx context.Context, libraryID, path string) error {
	backend, err := m.resolve(ctx, libraryID)
	if err != nil {
		return err
	}
	err = m.instrument(backend, "delete", func() error {
		return backend.Delete(ctx, path)
	})
	if err == nil {
		m.invalidateLibrary(libraryID)
	}
	return err
}

// InvalidateAllListings drops every cached listing. Wired to the local
// storage watcher, which cannot map a changed path back to a library.
func (m *Manager) InvalidateAllListings() {
	m.listings.Purge()
}

// invalidateLibrary drops cached listings for one library
func (m *Manager) invalidateLibrary(libraryID string) {
	prefix := libraryID + "\x00"
	for _, key := range m.listings.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.listings.Remove(key)
		}
	}
}

// instrument times a backend operation and records it
func (m *Manager) instrument(backend storage.Backend, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if m.metrics != nil {
		m.metrics.RecordStorageOperation(op, backend.Kind(), time.Since(start), err)
	}
	return err
}
