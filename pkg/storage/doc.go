// Package storage defines the file backend abstraction behind library
// repositories, with a local filesystem implementation and an S3 one.
//
// Paths handed to a backend are repo-relative, forward-slash separated, and
// validated against directory traversal before touching the underlying store.
package storage
