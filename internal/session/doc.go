// Package session owns the authentication session lifecycle.
//
// This package manages:
//   - Login, registration, and logout against the identity service
//   - Silent token refresh with a single-flight guard
//   - Cold-start reconciliation from stored token state
//   - The single process-wide Session, exposed as immutable snapshots
//
// The refresh credential is an HTTP-only cookie owned by the identity
// service; this package carries it in a cookie jar and never reads it.
// The access token lives only in a tab-scoped TokenStore and is cleared
// on logout or refresh failure.
package session
