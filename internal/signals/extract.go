// Package signals turns raw account profiles into the scoring inputs:
// follower counts, account age, bio keyword matches and community links.
package signals

import (
	"regexp"
	"strings"
	"time"

	"github.com/sorsalabs/cryptoscout/internal/graph"
)

// RawSignals are the heuristic inputs the score engine consumes, extracted
// from a single profile. Pure data; no network state.
type RawSignals struct {
	Handle         string
	Name           string
	Bio            string
	FollowersCount int
	AgeWeeks       int
	AgeDays        int

	Keywords []string // distinct matched keywords, in configured order

	HasDiscordLink  bool
	HasTelegramLink bool
	HasWebsiteLink  bool

	Verified  bool
	Protected bool
}

// Extractor converts profiles into RawSignals using a fixed keyword set.
type Extractor struct {
	keywords []string
	now      func() time.Time
}

// NewExtractor builds an extractor over the configured crypto keyword set.
// The clock is injectable for tests.
func NewExtractor(keywords []string, now func() time.Time) *Extractor {
	if now == nil {
		now = time.Now
	}
	return &Extractor{keywords: keywords, now: now}
}

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Extract is a pure transformation of a profile into raw signals.
func (e *Extractor) Extract(p *graph.Profile) RawSignals {
	bioLower := strings.ToLower(p.Bio)

	sig := RawSignals{
		Handle:         p.Handle,
		Name:           p.Name,
		Bio:            p.Bio,
		FollowersCount: p.FollowersCount,
		Verified:       p.Verified,
		Protected:      p.Protected,
	}

	sig.AgeDays, sig.AgeWeeks = e.accountAge(p.CreatedAt)
	sig.Keywords = e.matchKeywords(bioLower)

	sig.HasDiscordLink = containsAny(bioLower, "discord", "discord.gg", "discord.com")
	sig.HasTelegramLink = containsAny(bioLower, "telegram", "t.me", "tg://")

	// A bare website only counts when no community link is present.
	if !sig.HasDiscordLink && !sig.HasTelegramLink && urlPattern.MatchString(p.Bio) {
		sig.HasWebsiteLink = true
	}

	return sig
}

// accountAge returns the account age in days and whole weeks. Unparseable
// creation dates come through as the zero time and report as very old, so
// they never pick up a recency bonus.
func (e *Extractor) accountAge(createdAt time.Time) (days, weeks int) {
	if createdAt.IsZero() {
		return 9999 * 7, 9999
	}
	d := int(e.now().Sub(createdAt).Hours() / 24)
	if d < 0 {
		d = 0
	}
	return d, d / 7
}

func (e *Extractor) matchKeywords(bioLower string) []string {
	if bioLower == "" {
		return nil
	}
	var found []string
	seen := make(map[string]struct{})
	for _, kw := range e.keywords {
		kwLower := strings.ToLower(kw)
		if _, dup := seen[kwLower]; dup {
			continue
		}
		if strings.Contains(bioLower, kwLower) {
			found = append(found, kw)
			seen[kwLower] = struct{}{}
		}
	}
	return found
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
