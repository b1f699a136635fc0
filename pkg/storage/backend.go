package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the requested file does not exist in the backend
	ErrNotFound = errors.New("file not found")
	// ErrInvalidPath indicates a path that escapes the repo root or is
	// otherwise malformed
	ErrInvalidPath = errors.New("invalid path")
)

// FileInfo describes a single entry in a repo listing
type FileInfo struct {
	// Path is the repo-relative path, forward-slash separated
	Path string `json:"path"`
	// Size in bytes; zero for directories
	Size int64 `json:"size"`
	// IsDir marks directory entries
	IsDir bool `json:"is_dir"`
	// ModTime is the last modification time when the backend knows it
	ModTime time.Time `json:"mod_time,omitempty"`
}

// Backend is a file store scoped to a single repo root. All paths are
// repo-relative; implementations must reject traversal outside the root.
type Backend interface {
	// Touch creates an empty file at path, creating parent directories
	// as needed. Existing files are left untouched.
	Touch(ctx context.Context, filePath string) error

	// Write stores content at path, replacing any existing file
	Write(ctx context.Context, filePath string, content io.Reader) error

	// Read returns the full content of the file at path
	Read(ctx context.Context, filePath string) ([]byte, error)

	// Open returns a streaming reader for the file at path. The caller
	// must close it.
	Open(ctx context.Context, filePath string) (io.ReadCloser, error)

	// List returns the entries under prefix, non-recursively. An empty
	// prefix lists the repo root.
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// Delete removes the file at path
	Delete(ctx context.Context, filePath string) error

	// Move renames src to dst, creating dst's parent directories as needed
	Move(ctx context.Context, src, dst string) error

	// Kind names the backend type ("local" or "s3") for logging and metrics
	Kind() string
}

// CleanPath normalizes a repo-relative path and rejects traversal. The
// returned path never starts with "/" or contains "." or ".." elements.
func CleanPath(filePath string) (string, error) {
	if strings.ContainsRune(filePath, 0) {
		return "", ErrInvalidPath
	}

	normalized := strings.ReplaceAll(filePath, "\\", "/")
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return "", ErrInvalidPath
		}
	}

	cleaned := path.Clean("/" + normalized)
	if cleaned == "/" {
		return "", nil
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}
