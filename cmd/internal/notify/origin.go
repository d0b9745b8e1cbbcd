package notify

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// DefaultAllowedOrigins only admits local development origins.
var DefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}

// originPolicy guards the WebSocket upgrade. Browsers always send Origin on
// WebSocket handshakes, so a missing Origin is rejected unless disabled.
type originPolicy struct {
	required bool
	allowed  []string

	// Host patterns for websocket.Accept, which runs its own cross-origin check.
	// Derived from allowed so both layers agree.
	patterns []string
}

func newOriginPolicy(allowed []string, required bool) originPolicy {
	clean := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a = strings.TrimSpace(a); a != "" {
			clean = append(clean, a)
		}
	}
	return originPolicy{
		required: required,
		allowed:  clean,
		patterns: deriveOriginPatterns(clean),
	}
}

func (p originPolicy) check(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if p.required {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(p.allowed) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range p.allowed {
		if a == "*" || a == origin {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// insecureSkipVerify reports whether the allowlist is the explicit wildcard.
func (p originPolicy) insecureSkipVerify() bool {
	return slices.Contains(p.allowed, "*")
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
