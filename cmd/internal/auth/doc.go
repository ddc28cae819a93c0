// Package auth verifies bearer tokens and carries the resulting principal.
//
// Access tokens are PASETO v4.public with the claims "uid" and "role". Kiln only verifies them;
// issuing is available for local tooling and tests when a secret key is configured.
package auth
