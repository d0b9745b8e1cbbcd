// Package session verifies (and, for dev tooling, issues) PASETO v4.public access tokens.
//
// Tokens carry the user id ("uid") and a session id ("sid"). Issuance for real
// users happens outside this layer; the realtime server only verifies.
package session
