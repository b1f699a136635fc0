// Package users manages local user accounts and their reconciliation with
// federated identities.
//
// Accounts created from an SSO login carry a deterministic handle derived
// from the provider and subject, so repeated logins from the same upstream
// identity always land on the same local account. Locally created accounts
// get random identifiers.
package users
