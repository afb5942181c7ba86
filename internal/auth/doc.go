// Package auth verifies the bearer tokens that protect the control API.
// Tokens are HS256 JWTs signed with a shared site secret; the role claim
// separates read-only viewers from controllers who may start and stop
// operations.
package auth
