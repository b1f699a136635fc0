package libraries

import "time"

// RepoKind names the storage backend type behind a repository
type RepoKind string

const (
	RepoKindLocal RepoKind = "local"
	RepoKindS3    RepoKind = "s3"
)

// Repo is a configured storage backend instance. Libraries reference repos;
// the repo decides where their files physically live.
type Repo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      RepoKind  `json:"kind"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Library is a user-owned collection of files stored on one repo
type Library struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	RepoID    string    `json:"repo_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LibraryWithRepo joins a library with its resolved repo
type LibraryWithRepo struct {
	Library
	Repo *Repo `json:"repo"`
}
