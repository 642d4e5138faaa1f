package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	v1 "slate/shared/contracts/scene/v1"
)

// PostgresStore is a SnapshotStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Schema: one row per session in <schema>.scene_snapshots
// (session_id text PK, document jsonb, updated_at timestamptz).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "slate").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed SnapshotStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "slate",
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
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Save upserts the latest snapshot for the document's session.
func (s *PostgresStore) Save(ctx context.Context, doc v1.Document) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}
	if doc.SessionID == "" {
		return errors.New("missing session_id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	ts := doc.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	snapshots := pgIdent(s.schema, "scene_snapshots")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+snapshots+` (session_id, document, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE
		 SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		doc.SessionID, payload, ts,
	)
	return err
}

// Load fetches the stored snapshot for a session.
func (s *PostgresStore) Load(ctx context.Context, sessionID string) (v1.Document, bool, error) {
	if s == nil || s.pool == nil {
		return v1.Document{}, false, errors.New("realtime: nil store")
	}
	if sessionID == "" {
		return v1.Document{}, false, errors.New("missing session_id")
	}
	if err := ctx.Err(); err != nil {
		return v1.Document{}, false, err
	}

	snapshots := pgIdent(s.schema, "scene_snapshots")

	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM `+snapshots+` WHERE session_id = $1`,
		sessionID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return v1.Document{}, false, nil
	}
	if err != nil {
		return v1.Document{}, false, err
	}

	var doc v1.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return v1.Document{}, false, fmt.Errorf("decode document: %w", err)
	}
	return doc, true, nil
}

// ---- identifier quoting ----

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent joins a validated schema and table name for safe interpolation.
func pgIdent(schema, table string) string {
	return `"` + schema + `"."` + table + `"`
}
