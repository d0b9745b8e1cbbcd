package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"privat/cmd/identity/ids"

	v1 "privat/shared/contracts/realtime/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when PRIVAT_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresMailbox_DrainOnceInOrder(t *testing.T) {
	t.Parallel()

	mb := mustNewTestMailbox(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	offer := v1.Offer{Mode: v1.ModeAudio, SessionDescription: v1.SessionDescription{Type: "offer", SDP: "v=0"}}
	if err := mb.Enqueue(ctx, pgSignal(t, "alice", "bob", offer, now)); err != nil {
		t.Fatalf("enqueue offer: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := mb.Enqueue(ctx, pgSignal(t, "alice", "bob", candidate(i), now)); err != nil {
			t.Fatalf("enqueue candidate %d: %v", i, err)
		}
	}
	if err := mb.Enqueue(ctx, pgSignal(t, "bob", "carol", v1.Hangup{Reason: "busy"}, now)); err != nil {
		t.Fatalf("enqueue hangup: %v", err)
	}

	got, err := mb.Drain(ctx, "bob")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len=%d want 4", len(got))
	}
	if o, ok := got[0].Payload.(v1.Offer); !ok || o.SessionDescription.SDP != "v=0" {
		t.Fatalf("first=%+v want offer", got[0])
	}
	for i := 1; i < 4; i++ {
		c := got[i].Payload.(v1.Candidate)
		if want := fmt.Sprintf("candidate:%d", i-1); c.Candidate.Candidate != want {
			t.Fatalf("signal[%d]=%q want %q", i, c.Candidate.Candidate, want)
		}
	}
	if !got[0].CreatedAt.Equal(now) {
		t.Fatalf("created_at=%v want %v", got[0].CreatedAt, now)
	}

	again, err := mb.Drain(ctx, "bob")
	if err != nil || len(again) != 0 {
		t.Fatalf("second drain: len=%d err=%v", len(again), err)
	}

	carol, err := mb.Drain(ctx, "carol")
	if err != nil || len(carol) != 1 {
		t.Fatalf("carol drain: len=%d err=%v", len(carol), err)
	}
	if h := carol[0].Payload.(v1.Hangup); h.Reason != "busy" {
		t.Fatalf("hangup reason=%q", h.Reason)
	}
}

func TestPostgresMailbox_ConcurrentDrainsNeverDuplicate(t *testing.T) {
	t.Parallel()

	mb := mustNewTestMailbox(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const total = 60
	for i := 0; i < total; i++ {
		if err := mb.Enqueue(ctx, pgSignal(t, "alice", "bob", candidate(i), time.Now().UTC())); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for d := 0; d < 4; d++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := mb.Drain(ctx, "bob")
			if err != nil {
				t.Errorf("drain: %v", err)
				return
			}
			mu.Lock()
			for _, s := range got {
				seen[s.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("delivered %d distinct signals, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("signal %s delivered %d times", id, n)
		}
	}
}

func pgSignal(t *testing.T, from, to string, p v1.Payload, now time.Time) v1.Signal {
	t.Helper()

	return v1.Signal{
		ID:        ids.MustNewULID(now),
		FromID:    from,
		ToID:      to,
		Payload:   p,
		CreatedAt: now,
	}
}

func mustNewTestMailbox(t *testing.T) *PostgresMailbox {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	mb, err := NewPostgresMailbox(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresMailbox: %v", err)
	}
	return mb
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("PRIVAT_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PRIVAT_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse PRIVAT_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (PRIVAT_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "privat_it_" + strings.ToLower(ids.MustNewULID(time.Now().UTC()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	signals := pgIdent(schema, "call_signals")
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL,
  from_id TEXT NOT NULL,
  to_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  payload JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_call_signals_kind CHECK (kind IN ('offer', 'answer', 'candidate', 'hangup'))
);

CREATE INDEX IF NOT EXISTS idx_call_signals_to_id_seq
  ON %s (to_id, seq);
`, signals, signals)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
