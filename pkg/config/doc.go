// Package config loads and validates Shelf service configuration.
//
// Configuration comes from environment variables prefixed with SHELF_,
// optionally seeded from a YAML file pointed at by SHELF_CONFIG. Environment
// variables always win over file values. Validation happens once at startup;
// in particular, enabling OIDC SSO with incomplete issuer/client settings is
// a startup error, never a lazy failure at first login.
package config
