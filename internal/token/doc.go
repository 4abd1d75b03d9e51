// Package token decodes identity service access tokens into structured claims.
//
// Decoding is purely local: no signature verification, no network access.
// The server validates signatures; the client only needs the subject,
// role/group memberships, and expiry carried in the payload.
package token
