package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalBackend stores repo files under a directory on the local filesystem
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a local backend rooted at dir, creating it if
// necessary
func NewLocalBackend(dir string) (*LocalBackend, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalBackend{root: abs}, nil
}

// Kind implements Backend.Kind
func (b *LocalBackend) Kind() string { return "local" }

// Root returns the absolute filesystem root, used by the change watcher
func (b *LocalBackend) Root() string { return b.root }

// resolve maps a repo-relative path onto the filesystem, guarding against
// traversal outside the root
func (b *LocalBackend) resolve(filePath string) (string, error) {
	cleaned, err := CleanPath(filePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(cleaned)), nil
}

// Touch implements Backend.Touch
func (b *LocalBackend) Touch(ctx context.Context, filePath string) error {
	full, err := b.resolve(filePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to touch file: %w", err)
	}
	return f.Close()
}

// Write implements Backend.Write
func (b *LocalBackend) Write(ctx context.Context, filePath string, content io.Reader) error {
	full, err := b.resolve(filePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return f.Close()
}

// Read implements Backend.Read
func (b *LocalBackend) Read(ctx context.Context, filePath string) ([]byte, error) {
	full, err := b.resolve(filePath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Open implements Backend.Open
func (b *LocalBackend) Open(ctx context.Context, filePath string) (io.ReadCloser, error) {
	full, err := b.resolve(filePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// List implements Backend.List
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	full, err := b.resolve(prefix)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	cleaned, _ := CleanPath(prefix)
	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		relPath := entry.Name()
		if cleaned != "" {
			relPath = cleaned + "/" + relPath
		}

		info := FileInfo{Path: relPath, IsDir: entry.IsDir()}
		if meta, err := entry.Info(); err == nil {
			info.ModTime = meta.ModTime()
			if !entry.IsDir() {
				info.Size = meta.Size()
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Delete implements Backend.Delete
func (b *LocalBackend) Delete(ctx context.Context, filePath string) error {
	full, err := b.resolve(filePath)
	if err != nil {
		return err
	}

	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Move implements Backend.Move
func (b *LocalBackend) Move(ctx context.Context, src, dst string) error {
	srcFull, err := b.resolve(src)
	if err != nil {
		return err
	}
	dstFull, err := b.resolve(dst)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dstFull), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	err = os.Rename(srcFull, dstFull)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to move file: %w", err)
	}
	return nil
}
