package identity

import (
	"context"
	"strings"
	"time"

	v1 "privat/shared/contracts/realtime/v1"
)

// User is the canonical security principal.
type User struct {
	ID       string
	Username *string
	Email    *string

	DisplayName *string
	Bio         *string

	CreatedAt time.Time
}

// Directory looks users up by id. It is read-only: registration lives outside this layer.
type Directory interface {
	UserByID(ctx context.Context, id string) (User, error)
}

// Sanitize strips private fields (email, credentials) and returns the public profile.
func Sanitize(u User) v1.PublicProfile {
	return v1.PublicProfile{
		ID:       u.ID,
		Username: deref(u.Username),
		Name:     deref(u.DisplayName),
		Bio:      deref(u.Bio),
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
