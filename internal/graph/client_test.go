package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorsalabs/cryptoscout/internal/config"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(config.API{
		BaseURL:        baseURL,
		Key:            "test-key",
		RPS:            1000,
		Burst:          1000,
		MaxRetries:     2,
		RequestTimeout: 2 * time.Second,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		PageSize:       2,
	})
	require.NoError(t, err)
	return client
}

func TestListNewFollows_Pagination(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/new-following", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("ApiKey"))
		require.Equal(t, "npc_fund", r.URL.Query().Get("user_handle"))
		require.Equal(t, "7", r.URL.Query().Get("days"))

		atomic.AddInt32(&requests, 1)
		switch r.URL.Query().Get("cursor") {
		case "":
			json.NewEncoder(w).Encode(followPage{
				Accounts: []accountPayload{
					{ScreenName: "proj_one", FollowedAt: "2025-06-01T00:00:00Z"},
					{ScreenName: "proj_two"},
				},
				NextCursor: "page2",
			})
		case "page2":
			json.NewEncoder(w).Encode(followPage{
				Accounts: []accountPayload{{ScreenName: "proj_three"}},
			})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	events, err := client.ListNewFollows(context.Background(), "npc_fund", 7)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&requests), "should walk both pages")
	require.Len(t, events, 3)
	assert.Equal(t, "proj_one", events[0].Handle)
	assert.Equal(t, "npc_fund", events[0].PowerUser)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), events[0].ObservedAt)
	assert.Equal(t, "proj_three", events[2].Handle)
}

func TestListNewFollows_SkipsAccountsWithoutIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(followPage{
			Accounts: []accountPayload{
				{},                     // nothing usable
				{Name: "x"},            // sanitized name too short
				{ScreenName: "keeper"}, // fine
				{ID: "12345"},          // synthetic fallback
			},
		})
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	events, err := client.ListNewFollows(context.Background(), "npc_fund", 7)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "keeper", events[0].Handle)
	assert.Equal(t, "user_12345", events[1].Handle)
}

func TestListNewFollows_UnknownPowerUserIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	events, err := client.ListNewFollows(context.Background(), "ghost", 7)
	require.NoError(t, err, "a power user missing upstream is not an error")
	assert.Empty(t, events)
}

func TestListNewFollows_WindowMustBePositive(t *testing.T) {
	client := testClient(t, "http://unused.invalid")
	_, err := client.ListNewFollows(context.Background(), "npc_fund", 0)
	require.Error(t, err)
}

func TestListNewFollows_UnauthorizedIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	_, err := client.ListNewFollows(context.Background(), "npc_fund", 7)
	require.Error(t, err)
	assert.True(t, IsFatal(err), "401 must abort the run, got %v", err)
	assert.False(t, IsTransient(err))
}

func TestListNewFollows_RateLimitRetriesThenSucceeds(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(followPage{
			Accounts: []accountPayload{{ScreenName: "survivor"}},
		})
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	events, err := client.ListNewFollows(context.Background(), "npc_fund", 7)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&requests), int32(2), "429 should be retried")
}

func TestListNewFollows_PersistentServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	_, err := client.ListNewFollows(context.Background(), "npc_fund", 7)
	require.Error(t, err)
	assert.True(t, IsTransient(err), "exhausted retries on 5xx should be transient, got %v", err)
}

func TestGetProfile_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/profile/earlyproj", r.URL.Path)
		json.NewEncoder(w).Encode(accountPayload{
			ID:             "42",
			ScreenName:     "earlyproj",
			Name:           "Early Project",
			Description:    "defi protocol, t.me/earlyproj",
			FollowersCount: 120,
			RegisterDate:   "2025-05-20T00:00:00Z",
			Verified:       false,
		})
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	profile, err := client.GetProfile(context.Background(), "earlyproj")
	require.NoError(t, err)
	assert.Equal(t, "earlyproj", profile.Handle)
	assert.Equal(t, 120, profile.FollowersCount)
	assert.Equal(t, 2025, profile.CreatedAt.Year())
}

func TestGetProfile_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	_, err := client.GetProfile(context.Background(), "deleted_acct")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProfileNotFound))
	assert.False(t, IsTransient(err), "unreachable is an expected condition, not a transient failure")
}

func TestExtractHandle_Fallbacks(t *testing.T) {
	tests := []struct {
		name    string
		payload accountPayload
		want    string
	}{
		{"screen name wins", accountPayload{ScreenName: "alpha", Name: "Alpha Labs", ID: "1"}, "alpha"},
		{"legacy field", accountPayload{ScreenNameAlt: "beta"}, "beta"},
		{"sanitized display name", accountPayload{Name: "Gamma Protocol!"}, "GammaProtocol"},
		{"short name falls through to id", accountPayload{Name: "G!", ID: "77"}, "user_77"},
		{"id only", accountPayload{ID: "99"}, "user_99"},
		{"nothing", accountPayload{}, ""},
		{"whitespace screen name ignored", accountPayload{ScreenName: "  ", ID: "5"}, "user_5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractHandle(tt.payload))
		})
	}
}

func TestParseRegisterDate_Formats(t *testing.T) {
	assert.Equal(t, 2025, parseRegisterDate("2025-05-20T10:30:00Z").Year())
	assert.Equal(t, 2025, parseRegisterDate("2025-05-20T10:30:00").Year())
	assert.Equal(t, 2025, parseRegisterDate("2025-05-20").Year())
	assert.True(t, parseRegisterDate("not a date").IsZero())
	assert.True(t, parseRegisterDate("").IsZero())
}
