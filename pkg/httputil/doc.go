// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, request parsing, and the middleware
// stack shared by the API and UI routes.
package httputil
