package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	v1 "privat/shared/contracts/realtime/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMailbox is a Mailbox backed by the call_signals table.
//
// Ownership model:
// - PostgresMailbox does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Drain is a single DELETE ... RETURNING: rows inserted after the statement snapshot
// stay queued, and concurrent drains for one recipient never return the same row.
type PostgresMailbox struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresMailbox behavior.
type PostgresOption func(*PostgresMailbox) error

// WithSchema sets the DB schema used by this mailbox (default: "privat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresMailbox) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("signaling: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("signaling: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresMailbox constructs a Postgres-backed Mailbox.
func NewPostgresMailbox(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresMailbox, error) {
	st := &PostgresMailbox{
		pool:   pool,
		schema: "privat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("signaling: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresMailbox) Close() error { return nil }

// Enqueue inserts one row for the recipient.
func (s *PostgresMailbox) Enqueue(ctx context.Context, sig v1.Signal) error {
	if s == nil || s.pool == nil {
		return errors.New("signaling: nil mailbox")
	}
	if err := validateForEnqueue(sig); err != nil {
		return err
	}

	payload, err := json.Marshal(sig.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	signals := pgIdent(s.schema, "call_signals")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+signals+` (id, from_id, to_id, kind, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sig.ID, sig.FromID, sig.ToID, string(sig.Kind()), payload, sig.CreatedAt,
	)
	return err
}

// Drain deletes and returns the recipient's rows ordered by insertion.
func (s *PostgresMailbox) Drain(ctx context.Context, userID string) ([]v1.Signal, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("signaling: nil mailbox")
	}

	signals := pgIdent(s.schema, "call_signals")
	rows, err := s.pool.Query(ctx,
		`DELETE FROM `+signals+`
		  WHERE to_id = $1
		  RETURNING seq, id, from_id, to_id, kind, payload, created_at`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type drained struct {
		seq int64
		sig v1.Signal
	}

	var out []drained
	for rows.Next() {
		var (
			d    drained
			kind string
			raw  []byte
		)
		if err := rows.Scan(&d.seq, &d.sig.ID, &d.sig.FromID, &d.sig.ToID, &kind, &raw, &d.sig.CreatedAt); err != nil {
			return nil, err
		}
		k, err := v1.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", d.seq, err)
		}
		p, err := v1.DecodePayload(k, raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", d.seq, err)
		}
		d.sig.Payload = p
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified.
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })

	res := make([]v1.Signal, 0, len(out))
	for _, d := range out {
		res = append(res, d.sig)
	}
	return res, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
