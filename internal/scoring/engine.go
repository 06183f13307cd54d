// Package scoring computes the composite discovery score for an account
// from its raw signals and the power users that cross-referenced it.
package scoring

import (
	"fmt"

	"github.com/sorsalabs/cryptoscout/internal/config"
	"github.com/sorsalabs/cryptoscout/internal/signals"
)

// PowerUserRef identifies one power user following a discovered account,
// with the signal weight that power user carries.
type PowerUserRef struct {
	Handle string
	Weight int
}

// Result is the composite score with its full additive breakdown. Every
// contribution is non-negative; absence of a signal contributes zero.
type Result struct {
	Total int

	FollowerPoints int
	AgePoints      int
	KeywordPoints  int
	LinkPoints     int
	CrossRefPoints int
}

// Summary renders the breakdown the way the run log reports it.
func (r Result) Summary() string {
	return fmt.Sprintf("F:%d + C:%d + K:%d + L:%d + P:%d = %d",
		r.FollowerPoints, r.AgePoints, r.KeywordPoints, r.LinkPoints, r.CrossRefPoints, r.Total)
}

// Engine scores accounts with a fixed weighting policy. Score is a pure
// function: identical inputs always produce the identical result.
type Engine struct {
	cfg config.Scoring
}

func NewEngine(cfg config.Scoring) *Engine {
	return &Engine{cfg: cfg}
}

// Score combines raw signals and cross references into a composite score.
//
// Follower and age contributions use inverse-scaled bucket tables: fewer
// followers and newer accounts score higher, tapering to zero past the last
// bucket. Keyword and link bonuses are flat and additive. The cross-reference
// contribution sums the referring power users' weights, capped so marginal
// confirmations stop adding value past the configured ceiling.
func (e *Engine) Score(raw signals.RawSignals, refs []PowerUserRef) Result {
	res := Result{
		FollowerPoints: bucketPoints(e.cfg.FollowerBuckets, raw.FollowersCount),
		AgePoints:      bucketPoints(e.cfg.AgeWeekBuckets, raw.AgeWeeks),
		KeywordPoints:  len(raw.Keywords) * e.cfg.KeywordPoints,
	}

	if raw.HasDiscordLink {
		res.LinkPoints += e.cfg.DiscordPoints
	}
	if raw.HasTelegramLink {
		res.LinkPoints += e.cfg.TelegramPoints
	}
	if raw.HasWebsiteLink {
		res.LinkPoints += e.cfg.WebsitePoints
	}

	for _, ref := range refs {
		w := ref.Weight
		if w <= 0 {
			w = e.cfg.DefaultPowerUserWeight
		}
		res.CrossRefPoints += w
	}
	if e.cfg.CrossRefCap > 0 && res.CrossRefPoints > e.cfg.CrossRefCap {
		res.CrossRefPoints = e.cfg.CrossRefCap
	}

	res.Total = res.FollowerPoints + res.AgePoints + res.KeywordPoints +
		res.LinkPoints + res.CrossRefPoints
	return res
}

// bucketPoints returns the points of the first bucket whose bound covers
// the value, or zero past the last bucket. Tables are ordered by ascending
// bound with descending points, so larger values never score higher.
func bucketPoints(buckets []config.Bucket, value int) int {
	for _, b := range buckets {
		if value <= b.Max {
			return b.Points
		}
	}
	return 0
}
