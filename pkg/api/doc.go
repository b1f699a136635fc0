// Package api assembles the HTTP surface of the service: the public router
// with its middleware chain, cookie-based session authentication, and the
// separate health/metrics listener used by probes and scrapers.
package api
