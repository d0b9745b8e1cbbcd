// Package identity resolves user principals for the realtime layer.
//
// It owns the User model, the read-only Directory boundary used by the current-user
// resolver, and ID primitives (ULID). Credential storage and issuance live elsewhere.
package identity
