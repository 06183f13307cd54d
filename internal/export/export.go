// Package export hands newly qualified discoveries to external sinks.
// Exports run after persistence and are at-least-once: a failed export is
// reported but never rolls back the store.
package export

import (
	"context"
	"strings"
	"time"
)

// Row is one exported discovery.
type Row struct {
	Handle         string
	Name           string
	Score          int
	ScoreBreakdown string
	FollowersCount int
	Bio            string
	PowerUsers     []string
	Keywords       []string
	AgeWeeks       int
	DiscoveredAt   time.Time
}

// TwitterLink returns the account URL for spreadsheet consumers.
func (r Row) TwitterLink() string {
	return "https://twitter.com/" + r.Handle
}

// AtHandle returns the handle with a leading @.
func (r Row) AtHandle() string {
	if strings.HasPrefix(r.Handle, "@") {
		return r.Handle
	}
	return "@" + r.Handle
}

// TrimmedBio caps the bio at 200 characters with newlines flattened, the
// shape spreadsheet cells expect.
func (r Row) TrimmedBio() string {
	bio := strings.NewReplacer("\n", " ", "\r", " ").Replace(r.Bio)
	if len(bio) > 200 {
		return bio[:200]
	}
	return bio
}

// Exporter delivers a batch of discovery rows to one sink.
type Exporter interface {
	Name() string
	Export(ctx context.Context, rows []Row) error
}
