package libraries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLibraryNotFound indicates the library does not exist
	ErrLibraryNotFound = errors.New("library not found")
	// ErrRepoNotFound indicates the repo does not exist
	ErrRepoNotFound = errors.New("repo not found")
)

// Schema creates the repos and libraries tables. Runs at startup; safe to
// re-run.
const Schema = `
CREATE TABLE IF NOT EXISTS repos (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	path       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS libraries (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	repo_id    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_libraries_owner ON libraries(owner_id);
`

// Store provides database access to repos and libraries
type Store struct {
	db *sql.DB
}

// NewStore creates a library store backed by the given database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InitSchema creates the tables if they do not exist
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to initialize libraries schema: %w", err)
	}
	return nil
}

// CreateRepo inserts a new repo
func (s *Store) CreateRepo(ctx context.Context, repo *Repo) error {
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	repo.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repos (id, name, kind, path, created_at) VALUES ($1, $2, $3, $4, $5)`,
		repo.ID, repo.Name, string(repo.Kind), repo.Path, repo.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create repo: %w", err)
	}
	return nil
}

// GetRepo returns the repo with the given ID
func (s *Store) GetRepo(ctx context.Context, id string) (*Repo, error) {
	var repo Repo
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, path, created_at FROM repos WHERE id = $1`, id).
		Scan(&repo.ID, &repo.Name, &kind, &repo.Path, &repo.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRepoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repo: %w", err)
	}
	repo.Kind = RepoKind(kind)
	return &repo, nil
}

// ListRepos returns all configured repos
func (s *Store) ListRepos(ctx context.Context) ([]*Repo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, path, created_at FROM repos ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repos: %w", err)
	}
	defer rows.Close()

	var repos []*Repo
	for rows.Next() {
		var repo Repo
		var kind string
		if err := rows.Scan(&repo.ID, &repo.Name, &kind, &repo.Path, &repo.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repo: %w", err)
		}
		repo.Kind = RepoKind(kind)
		repos = append(repos, &repo)
	}
	return repos, rows.Err()
}

// CreateLibrary inserts a new library
func (s *Store) CreateLibrary(ctx context.Context, lib *Library) error {
	if lib.ID == "" {
		lib.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	lib.CreatedAt = now
	lib.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO libraries (id, name, owner_id, repo_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		lib.ID, lib.Name, lib.OwnerID, lib.RepoID, lib.CreatedAt, lib.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create library: %w", err)
	}
	return nil
}

// GetLibrary returns the library with the given ID
func (s *Store) GetLibrary(ctx context.Context, id string) (*Library, error) {
	var lib Library
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, repo_id, created_at, updated_at FROM libraries WHERE id = $1`, id).
		Scan(&lib.ID, &lib.Name, &lib.OwnerID, &lib.RepoID, &lib.CreatedAt, &lib.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLibraryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library: %w", err)
	}
	return &lib, nil
}

// ListByOwner returns the libraries owned by a user
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*Library, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, owner_id, repo_id, created_at, updated_at FROM libraries
		 WHERE owner_id = $1 ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	defer rows.Close()

	var libs []*Library
	for rows.Next() {
		var lib Library
		if err := rows.Scan(&lib.ID, &lib.Name, &lib.OwnerID, &lib.RepoID, &lib.CreatedAt, &lib.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan library: %w", err)
		}
		libs = append(libs, &lib)
	}
	return libs, rows.Err()
}

// DeleteLibrary removes a library record. Files on the backing repo are
// left in place.
func (s *Store) DeleteLibrary(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM libraries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete library: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return ErrLibraryNotFound
	}
	return nil
}
