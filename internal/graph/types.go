package graph

import (
	"regexp"
	"strings"
	"time"
)

// FollowEvent records that a power user newly followed an account within
// the lookback window. Ephemeral: produced per fetch, consumed during
// aggregation, never persisted.
type FollowEvent struct {
	PowerUser  string
	Handle     string
	ObservedAt time.Time
}

// Profile is the public profile of a discovered account as returned by the
// graph API.
type Profile struct {
	Handle         string
	Name           string
	Bio            string
	FollowersCount int
	CreatedAt      time.Time
	Verified       bool
	Protected      bool
}

// accountPayload mirrors the upstream API's account representation.
type accountPayload struct {
	ID             string `json:"id"`
	ScreenName     string `json:"screenName"`
	ScreenNameAlt  string `json:"screeName"` // upstream typo, still served by older API nodes
	Name           string `json:"name"`
	Description    string `json:"description"`
	FollowersCount int    `json:"followersCount"`
	RegisterDate   string `json:"registerDate"`
	FollowedAt     string `json:"followedAt"`
	Verified       bool   `json:"verified"`
	Protected      bool   `json:"protected"`
}

var handleSanitizer = regexp.MustCompile(`[^\w.]`)

// ExtractHandle resolves a stable handle from an account payload, falling
// back through screen name, sanitized display name, then synthetic user ID.
// Returns "" when no usable identity exists.
func ExtractHandle(a accountPayload) string {
	if s := strings.TrimSpace(a.ScreenName); s != "" {
		return s
	}
	if s := strings.TrimSpace(a.ScreenNameAlt); s != "" {
		return s
	}
	if name := strings.TrimSpace(a.Name); name != "" {
		handle := handleSanitizer.ReplaceAllString(name, "")
		if len(handle) > 2 {
			return handle
		}
	}
	if a.ID != "" {
		return "user_" + a.ID
	}
	return ""
}

func (a accountPayload) toProfile() *Profile {
	return &Profile{
		Handle:         ExtractHandle(a),
		Name:           a.Name,
		Bio:            a.Description,
		FollowersCount: a.FollowersCount,
		CreatedAt:      parseRegisterDate(a.RegisterDate),
		Verified:       a.Verified,
		Protected:      a.Protected,
	}
}

// parseRegisterDate tolerates both RFC3339 and Z-suffixed ISO timestamps.
// The zero time stands in for unparseable dates; scoring treats it as an
// old account.
func parseRegisterDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}
