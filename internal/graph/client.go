package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sorsalabs/cryptoscout/internal/config"
	"github.com/sorsalabs/cryptoscout/internal/net/httpclient"
	"github.com/sorsalabs/cryptoscout/internal/net/ratelimit"
)

// Client fetches follow-graph data from the SORSA API. All requests pass
// through a token-bucket rate limiter, a retrying HTTP pool and a circuit
// breaker; failures are classified into the pipeline's error taxonomy.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int

	pool    *httpclient.ClientPool
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
	host    string
}

// NewClient creates a graph API client from configuration.
func NewClient(cfg config.API) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid graph API base URL: %w", err)
	}

	pool := httpclient.NewClientPool(httpclient.ClientConfig{
		MaxConcurrency: 4,
		RequestTimeout: cfg.RequestTimeout,
		JitterRange:    [2]int{50, 150},
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBase,
		BackoffMax:     cfg.BackoffMax,
		UserAgent:      "CryptoScout/1.0",
	})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sorsa-graph",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Graph API circuit breaker state change")
		},
	})

	pageSize := cfg.PageSize
	if pageSize < 1 {
		pageSize = 100
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.Key,
		pageSize: pageSize,
		pool:     pool,
		limiter:  ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
		breaker:  breaker,
		host:     u.Host,
	}, nil
}

type followPage struct {
	Accounts   []accountPayload `json:"accounts"`
	NextCursor string           `json:"nextCursor"`
}

// ListNewFollows returns every account the power user newly followed within
// the lookback window, walking cursor pagination one page at a time. A 404
// means the power user is unknown upstream and yields an empty result.
func (c *Client) ListNewFollows(ctx context.Context, powerUser string, windowDays int) ([]FollowEvent, error) {
	if windowDays <= 0 {
		return nil, fmt.Errorf("window days must be positive, got %d", windowDays)
	}

	var events []FollowEvent
	cursor := ""

	for {
		q := url.Values{}
		q.Set("user_handle", powerUser)
		q.Set("days", strconv.Itoa(windowDays))
		q.Set("limit", strconv.Itoa(c.pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var page followPage
		if err := c.getJSON(ctx, "/new-following", q, &page); err != nil {
			if errors.Is(err, ErrProfileNotFound) {
				log.Warn().Str("power_user", powerUser).Msg("Power user not found upstream")
				return nil, nil
			}
			return nil, wrapFetchErr("list_follows", powerUser, err)
		}

		for _, acct := range page.Accounts {
			handle := ExtractHandle(acct)
			if handle == "" {
				continue
			}
			events = append(events, FollowEvent{
				PowerUser:  powerUser,
				Handle:     handle,
				ObservedAt: parseRegisterDate(acct.FollowedAt),
			})
		}

		if page.NextCursor == "" {
			return events, nil
		}
		cursor = page.NextCursor
	}
}

// GetProfile fetches a single account profile. Deleted and suspended
// accounts surface as ErrProfileNotFound.
func (c *Client) GetProfile(ctx context.Context, handle string) (*Profile, error) {
	var acct accountPayload
	err := c.getJSON(ctx, "/profile/"+url.PathEscape(handle), nil, &acct)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, wrapFetchErr("get_profile", handle, err)
	}
	if acct.ID == "" && acct.ScreenName == "" && acct.Name == "" {
		return nil, ErrProfileNotFound
	}
	return acct.toProfile(), nil
}

// getJSON performs one rate-limited, breaker-guarded GET and decodes the
// response. Status codes are classified here: 404/410 -> ErrProfileNotFound,
// 400/401/403 -> FatalError, everything else retryable -> plain error the
// callers wrap as transient.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx, c.host); err != nil {
		return err
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("ApiKey", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.pool.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
			return nil, nil
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			io.Copy(io.Discard, resp.Body)
			return nil, ErrProfileNotFound
		case resp.StatusCode == http.StatusBadRequest ||
			resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusForbidden:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, &FatalError{
				Op:     "graph_api",
				Status: resp.StatusCode,
				Err:    fmt.Errorf("upstream rejected request: %s", string(body)),
			}
		default:
			io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("unexpected HTTP %d from graph API", resp.StatusCode)
		}
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("graph API circuit open: %w", err)
	}
	return err
}

// wrapFetchErr applies the error taxonomy: fatal classes and profile
// sentinels pass through untouched, everything else becomes transient.
func wrapFetchErr(op, handle string, err error) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) || errors.Is(err, ErrProfileNotFound) {
		return err
	}
	return &TransientError{Op: op, Handle: handle, Err: err}
}
