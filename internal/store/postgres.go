package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// runLockKey is the pg_advisory_lock key guarding discovery runs. Arbitrary
// but must stay stable across versions sharing a database.
const runLockKey int64 = 727274657223

// PostgresStore implements DiscoveryStore on PostgreSQL via sqlx.
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration

	// lockConn pins the advisory lock to one session for the run's duration.
	lockConn *sqlx.Conn
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string, timeout time.Duration) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}, nil
}

// NewPostgresStoreFromDB wraps an existing connection, for tests.
func NewPostgresStoreFromDB(db *sqlx.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}
}

const schema = `
CREATE TABLE IF NOT EXISTS discoveries (
	handle           TEXT PRIMARY KEY,
	display_handle   TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	bio              TEXT NOT NULL DEFAULT '',
	followers_count  INTEGER NOT NULL DEFAULT 0,
	age_weeks        INTEGER NOT NULL DEFAULT 0,
	last_score       INTEGER NOT NULL,
	follower_points  INTEGER NOT NULL DEFAULT 0,
	age_points       INTEGER NOT NULL DEFAULT 0,
	keyword_points   INTEGER NOT NULL DEFAULT 0,
	link_points      INTEGER NOT NULL DEFAULT 0,
	cross_ref_points INTEGER NOT NULL DEFAULT 0,
	power_users      TEXT[] NOT NULL DEFAULT '{}',
	keywords         TEXT[] NOT NULL DEFAULT '{}',
	verified         BOOLEAN NOT NULL DEFAULT FALSE,
	protected        BOOLEAN NOT NULL DEFAULT FALSE,
	first_seen_at    TIMESTAMPTZ NOT NULL,
	last_updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS discovery_runs (
	id                     BIGSERIAL PRIMARY KEY,
	run_id                 TEXT NOT NULL,
	started_at             TIMESTAMPTZ NOT NULL,
	finished_at            TIMESTAMPTZ NOT NULL,
	state                  TEXT NOT NULL,
	power_users_processed  INTEGER NOT NULL DEFAULT 0,
	power_users_skipped    INTEGER NOT NULL DEFAULT 0,
	follow_events          INTEGER NOT NULL DEFAULT 0,
	unique_accounts        INTEGER NOT NULL DEFAULT 0,
	unreachable            INTEGER NOT NULL DEFAULT 0,
	prefiltered            INTEGER NOT NULL DEFAULT 0,
	duplicates             INTEGER NOT NULL DEFAULT 0,
	persisted              INTEGER NOT NULL DEFAULT 0,
	exported               INTEGER NOT NULL DEFAULT 0,
	errors                 INTEGER NOT NULL DEFAULT 0
);`

// EnsureSchema creates the discovery tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Exists reports whether the handle already has a store record. Handles are
// compared case-insensitively.
func (s *PostgresStore) Exists(ctx context.Context, handle string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var one int
	err := s.db.QueryRowxContext(ctx,
		`SELECT 1 FROM discoveries WHERE handle = $1`, normalizeHandle(handle)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check handle %s: %w", handle, err)
	}
	return true, nil
}

// IsNew is the authoritative "should this be exported" signal: true iff no
// prior record exists.
func (s *PostgresStore) IsNew(ctx context.Context, handle string) (bool, error) {
	exists, err := s.Exists(ctx, handle)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// Upsert inserts a new record or refreshes an existing one. first_seen_at
// is set only on insert; conflicts update the score and metadata columns.
func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO discoveries (
			handle, display_handle, name, bio, followers_count, age_weeks,
			last_score, follower_points, age_points, keyword_points,
			link_points, cross_ref_points, power_users, keywords,
			verified, protected, first_seen_at, last_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (handle) DO UPDATE SET
			name = EXCLUDED.name,
			bio = EXCLUDED.bio,
			followers_count = EXCLUDED.followers_count,
			age_weeks = EXCLUDED.age_weeks,
			last_score = EXCLUDED.last_score,
			follower_points = EXCLUDED.follower_points,
			age_points = EXCLUDED.age_points,
			keyword_points = EXCLUDED.keyword_points,
			link_points = EXCLUDED.link_points,
			cross_ref_points = EXCLUDED.cross_ref_points,
			power_users = EXCLUDED.power_users,
			keywords = EXCLUDED.keywords,
			verified = EXCLUDED.verified,
			protected = EXCLUDED.protected,
			last_updated_at = EXCLUDED.last_updated_at`

	_, err := s.db.ExecContext(ctx, query,
		normalizeHandle(rec.Handle), rec.DisplayHandle, rec.Name, rec.Bio,
		rec.FollowersCount, rec.AgeWeeks,
		rec.Score, rec.FollowerPoints, rec.AgePoints, rec.KeywordPoints,
		rec.LinkPoints, rec.CrossRefPoints,
		pq.Array(rec.PowerUsers), pq.Array(rec.Keywords),
		rec.Verified, rec.Protected,
		rec.FirstSeenAt, rec.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert discovery %s: %w", rec.Handle, err)
	}
	return nil
}

// TopDiscoveries lists stored accounts at or above minScore, best first,
// ties broken by handle for stable output.
func (s *PostgresStore) TopDiscoveries(ctx context.Context, minScore, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `
		SELECT handle, display_handle, name, bio, followers_count, age_weeks,
		       last_score, follower_points, age_points, keyword_points,
		       link_points, cross_ref_points, power_users, keywords,
		       verified, protected, first_seen_at, last_updated_at
		FROM discoveries
		WHERE last_score >= $1
		ORDER BY last_score DESC, handle ASC
		LIMIT $2`, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query discoveries: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var powerUsers, keywords pq.StringArray
		if err := rows.Scan(
			&rec.Handle, &rec.DisplayHandle, &rec.Name, &rec.Bio,
			&rec.FollowersCount, &rec.AgeWeeks,
			&rec.Score, &rec.FollowerPoints, &rec.AgePoints, &rec.KeywordPoints,
			&rec.LinkPoints, &rec.CrossRefPoints,
			&powerUsers, &keywords,
			&rec.Verified, &rec.Protected,
			&rec.FirstSeenAt, &rec.LastUpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan discovery row: %w", err)
		}
		rec.PowerUsers = powerUsers
		rec.Keywords = keywords
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordRun appends one run-summary row.
func (s *PostgresStore) RecordRun(ctx context.Context, run RunSummary) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discovery_runs (
			run_id, started_at, finished_at, state,
			power_users_processed, power_users_skipped, follow_events,
			unique_accounts, unreachable, prefiltered, duplicates,
			persisted, exported, errors
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		run.RunID, run.StartedAt, run.FinishedAt, run.State,
		run.PowerUsersProcessed, run.PowerUsersSkipped, run.FollowEvents,
		run.UniqueAccounts, run.Unreachable, run.Prefiltered, run.Duplicates,
		run.Persisted, run.Exported, run.Errors)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.RunID, err)
	}
	return nil
}

// AcquireRunLock takes the advisory run lock on a dedicated session.
// Returns ErrRunInProgress when another run holds it.
func (s *PostgresStore) AcquireRunLock(ctx context.Context) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("failed to open lock session: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowxContext(ctx,
		`SELECT pg_try_advisory_lock($1)`, runLockKey).Scan(&acquired); err != nil {
		conn.Close()
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return ErrRunInProgress
	}

	s.lockConn = conn
	return nil
}

// ReleaseRunLock releases the advisory lock and its session.
func (s *PostgresStore) ReleaseRunLock(ctx context.Context) error {
	if s.lockConn == nil {
		return nil
	}
	defer func() {
		s.lockConn.Close()
		s.lockConn = nil
	}()

	if _, err := s.lockConn.ExecContext(ctx,
		`SELECT pg_advisory_unlock($1)`, runLockKey); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Ping verifies database connectivity, for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}
