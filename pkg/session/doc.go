// Package session issues and validates the opaque bearer tokens that keep
// users signed in after an SSO login. Tokens live in an HttpOnly cookie and
// map to server-side session records, stored in memory or in Redis.
package session
