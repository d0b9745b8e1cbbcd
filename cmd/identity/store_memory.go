package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryDirectory is a dev-only Directory used when no database is configured.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDirectory constructs a MemoryDirectory seeded with users.
func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put inserts or replaces a user. Users with an empty id are ignored.
func (d *MemoryDirectory) Put(u User) {
	u.ID = NormalizeID(u.ID)
	if u.ID == "" {
		return
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

// UserByID returns the user or a NotFoundError.
func (d *MemoryDirectory) UserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.UserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	id = NormalizeID(id)
	if id == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty id"}
	}

	d.mu.RLock()
	u, ok := d.users[id]
	d.mu.RUnlock()
	if !ok {
		return User{}, NotFoundError{Op: op, UserID: id}
	}
	return u, nil
}

// ParseDevUsers parses a comma-separated list of "id:username[:display name]" entries.
func ParseDevUsers(raw string) ([]User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var out []User
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || NormalizeID(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, OpError{Op: "identity.ParseDevUsers", Kind: ErrInvalidInput, Msg: fmt.Sprintf("bad entry %q", entry)}
		}

		u := User{
			ID:       NormalizeID(parts[0]),
			Username: strPtr(NormalizeUsername(parts[1])),
		}
		if len(parts) == 3 {
			u.DisplayName = strPtr(parts[2])
		}
		out = append(out, u)
	}
	return out, nil
}
