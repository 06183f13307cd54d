// Package store owns the durable record of every account the system has
// ever surfaced. The store is the source of truth for "is this new": once a
// handle exists here it is never exported again, regardless of later scores.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrRunInProgress is returned when another run holds the run lock.
var ErrRunInProgress = errors.New("discovery run already in progress")

// Record is the persisted representation of a discovered account.
// FirstSeenAt is written once on insert and never changed afterwards.
type Record struct {
	Handle        string `db:"handle"` // lowercased, primary key
	DisplayHandle string `db:"display_handle"`
	Name          string `db:"name"`
	Bio           string `db:"bio"`

	FollowersCount int `db:"followers_count"`
	AgeWeeks       int `db:"age_weeks"`

	Score          int `db:"last_score"`
	FollowerPoints int `db:"follower_points"`
	AgePoints      int `db:"age_points"`
	KeywordPoints  int `db:"keyword_points"`
	LinkPoints     int `db:"link_points"`
	CrossRefPoints int `db:"cross_ref_points"`

	PowerUsers []string `db:"-"`
	Keywords   []string `db:"-"`

	Verified  bool `db:"verified"`
	Protected bool `db:"protected"`

	FirstSeenAt   time.Time `db:"first_seen_at"`
	LastUpdatedAt time.Time `db:"last_updated_at"`
}

// RunSummary is the per-run bookkeeping row, mirroring what the run report
// logs at completion.
type RunSummary struct {
	RunID      string    `db:"run_id"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	State      string    `db:"state"`

	PowerUsersProcessed int `db:"power_users_processed"`
	PowerUsersSkipped   int `db:"power_users_skipped"`
	FollowEvents        int `db:"follow_events"`
	UniqueAccounts      int `db:"unique_accounts"`
	Unreachable         int `db:"unreachable"`
	Prefiltered         int `db:"prefiltered"`
	Duplicates          int `db:"duplicates"`
	Persisted           int `db:"persisted"`
	Exported            int `db:"exported"`
	Errors              int `db:"errors"`
}

// DiscoveryStore is the narrow persistence contract the pipeline depends
// on. Implementations must keep FirstSeenAt immutable across upserts.
type DiscoveryStore interface {
	Exists(ctx context.Context, handle string) (bool, error)
	IsNew(ctx context.Context, handle string) (bool, error)
	Upsert(ctx context.Context, rec Record) error
	RecordRun(ctx context.Context, run RunSummary) error

	// AcquireRunLock prevents overlapping runs; ErrRunInProgress when a
	// concurrent run holds the lock.
	AcquireRunLock(ctx context.Context) error
	ReleaseRunLock(ctx context.Context) error
}
