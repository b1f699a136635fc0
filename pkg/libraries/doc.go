// Package libraries manages user-owned file libraries and the repositories
// that back them.
//
// A repository names a storage backend instance (a local directory or an S3
// bucket prefix); a library is a user-facing collection stored on exactly
// one repository. File operations resolve the library's backend and pass
// through it, with directory listings cached and invalidated on writes or
// out-of-band filesystem changes.
package libraries
