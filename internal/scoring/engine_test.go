package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorsalabs/cryptoscout/internal/config"
	"github.com/sorsalabs/cryptoscout/internal/signals"
)

func testEngine() *Engine {
	return NewEngine(config.Default().Scoring)
}

func TestScore_EarlyStageAccount(t *testing.T) {
	engine := testEngine()

	// Two power users both newly follow a 50-follower account created ~10
	// days ago, with a crypto bio and a Telegram link.
	raw := signals.RawSignals{
		Handle:          "earlyproj",
		FollowersCount:  50,
		AgeWeeks:        1,
		Keywords:        []string{"defi", "protocol", "building"},
		HasTelegramLink: true,
	}
	refs := []PowerUserRef{
		{Handle: "alice", Weight: 100},
		{Handle: "bob", Weight: 80},
	}

	result := engine.Score(raw, refs)

	assert.Equal(t, 200, result.FollowerPoints, "50 followers should hit the lowest bucket")
	assert.Equal(t, 200, result.AgePoints, "1 week old should hit the newest bucket")
	assert.Equal(t, 150, result.KeywordPoints, "three keywords at 50 points each")
	assert.Equal(t, 10, result.LinkPoints, "telegram link bonus")
	assert.Equal(t, 180, result.CrossRefPoints, "sum of both power user weights")
	assert.Equal(t, 740, result.Total)
	assert.GreaterOrEqual(t, result.Total, 200, "early-stage account must clear the export threshold")
}

func TestScore_Deterministic(t *testing.T) {
	engine := testEngine()

	raw := signals.RawSignals{
		FollowersCount: 1500,
		AgeWeeks:       20,
		Keywords:       []string{"nft"},
		HasDiscordLink: true,
	}
	refs := []PowerUserRef{{Handle: "alice", Weight: 90}}

	first := engine.Score(raw, refs)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, engine.Score(raw, refs))
	}
}

func TestScore_NoSignalsContributeZero(t *testing.T) {
	engine := testEngine()

	// Old account, huge following, empty bio: only the cross-ref weight.
	raw := signals.RawSignals{
		FollowersCount: 500000,
		AgeWeeks:       400,
	}
	result := engine.Score(raw, []PowerUserRef{{Handle: "alice", Weight: 70}})

	assert.Equal(t, 0, result.FollowerPoints)
	assert.Equal(t, 0, result.AgePoints)
	assert.Equal(t, 0, result.KeywordPoints)
	assert.Equal(t, 0, result.LinkPoints)
	assert.Equal(t, 70, result.Total)
	assert.GreaterOrEqual(t, result.Total, 0, "score is never negative")
}

func TestScore_CrossRefMonotonic(t *testing.T) {
	engine := testEngine()
	raw := signals.RawSignals{FollowersCount: 300, AgeWeeks: 5}

	refs := []PowerUserRef{}
	prev := -1
	for _, handle := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		refs = append(refs, PowerUserRef{Handle: handle, Weight: 80})
		total := engine.Score(raw, refs).Total
		assert.GreaterOrEqual(t, total, prev, "adding a cross reference must never lower the score")
		prev = total
	}
}

func TestScore_CrossRefCapped(t *testing.T) {
	cfg := config.Default().Scoring
	cfg.CrossRefCap = 200
	engine := NewEngine(cfg)

	raw := signals.RawSignals{FollowersCount: 300, AgeWeeks: 5}

	var refs []PowerUserRef
	for _, handle := range []string{"a", "b", "c", "d", "e"} {
		refs = append(refs, PowerUserRef{Handle: handle, Weight: 100})
	}

	result := engine.Score(raw, refs)
	assert.Equal(t, 200, result.CrossRefPoints, "cross-ref contribution stops at the cap")
}

func TestScore_FollowerMonotonicity(t *testing.T) {
	engine := testEngine()
	refs := []PowerUserRef{{Handle: "alice", Weight: 70}}

	prev := int(^uint(0) >> 1)
	for _, followers := range []int{0, 150, 350, 900, 2500, 4800, 7500, 9999, 20000} {
		raw := signals.RawSignals{FollowersCount: followers, AgeWeeks: 5}
		points := engine.Score(raw, refs).FollowerPoints
		assert.LessOrEqual(t, points, prev,
			"more followers must never raise the follower contribution (at %d)", followers)
		prev = points
	}
}

func TestScore_AgeMonotonicity(t *testing.T) {
	engine := testEngine()
	refs := []PowerUserRef{{Handle: "alice", Weight: 70}}

	prev := int(^uint(0) >> 1)
	for _, weeks := range []int{0, 1, 3, 7, 13, 22, 35, 50, 52, 53, 200} {
		raw := signals.RawSignals{FollowersCount: 300, AgeWeeks: weeks}
		points := engine.Score(raw, refs).AgePoints
		assert.LessOrEqual(t, points, prev,
			"an older account must never outscore a newer one (at %d weeks)", weeks)
		prev = points
	}
}

func TestScore_DefaultWeightForUnknownPowerUser(t *testing.T) {
	engine := testEngine()
	raw := signals.RawSignals{FollowersCount: 300, AgeWeeks: 5}

	result := engine.Score(raw, []PowerUserRef{{Handle: "mystery", Weight: 0}})
	assert.Equal(t, 70, result.CrossRefPoints, "zero weight falls back to the default")
}

func TestScore_LinkBonusesAdditive(t *testing.T) {
	engine := testEngine()
	raw := signals.RawSignals{
		FollowersCount:  300,
		AgeWeeks:        5,
		HasDiscordLink:  true,
		HasTelegramLink: true,
	}

	result := engine.Score(raw, nil)
	require.Equal(t, 90, result.LinkPoints, "discord (80) and telegram (10) stack")
}

func TestBucketPoints_BoundaryInclusive(t *testing.T) {
	buckets := []config.Bucket{{Max: 200, Points: 200}, {Max: 400, Points: 150}}

	assert.Equal(t, 200, bucketPoints(buckets, 200), "bucket bound is inclusive")
	assert.Equal(t, 150, bucketPoints(buckets, 201))
	assert.Equal(t, 0, bucketPoints(buckets, 401), "past the last bucket scores zero")
}
