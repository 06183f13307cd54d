package httpclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

type ClientConfig struct {
	MaxConcurrency int
	RequestTimeout time.Duration
	JitterRange    [2]int // Min/max jitter in milliseconds
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	UserAgent      string
}

// ClientPool is a shared HTTP client with bounded concurrency, request
// jitter and exponential backoff on retryable failures.
type ClientPool struct {
	config    ClientConfig
	semaphore chan struct{}
	client    *http.Client

	totalRequests   atomic.Int64
	retriedRequests atomic.Int64
	failedRequests  atomic.Int64
}

type Stats struct {
	TotalRequests   int64
	RetriedRequests int64
	FailedRequests  int64
}

func NewClientPool(config ClientConfig) *ClientPool {
	if config.MaxConcurrency < 1 {
		config.MaxConcurrency = 1
	}
	return &ClientPool{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

// Do executes the request, retrying retryable failures with exponential
// backoff. The caller owns the response body on success.
func (cp *ClientPool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	cp.totalRequests.Add(1)

	select {
	case cp.semaphore <- struct{}{}:
		defer func() { <-cp.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if cp.config.UserAgent != "" {
		req.Header.Set("User-Agent", cp.config.UserAgent)
	}

	if err := cp.applyJitter(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= cp.config.MaxRetries; attempt++ {
		if attempt > 0 {
			cp.retriedRequests.Add(1)

			backoff := cp.calculateBackoff(attempt)
			log.Debug().
				Dur("backoff", backoff).
				Int("attempt", attempt).
				Str("url", req.URL.String()).
				Msg("Retrying HTTP request")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := cp.client.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			if isRetryableError(err) {
				continue
			}
			break
		}

		if isRetryableStatus(resp.StatusCode) && attempt < cp.config.MaxRetries {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			continue
		}

		return resp, nil
	}

	cp.failedRequests.Add(1)
	return nil, lastErr
}

func (cp *ClientPool) applyJitter(ctx context.Context) error {
	if cp.config.JitterRange[0] >= cp.config.JitterRange[1] {
		return nil // No jitter configured
	}

	min := cp.config.JitterRange[0]
	max := cp.config.JitterRange[1]
	jitter := time.Duration(rand.Intn(max-min)+min) * time.Millisecond

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cp *ClientPool) calculateBackoff(attempt int) time.Duration {
	backoff := cp.config.BackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > cp.config.BackoffMax {
			return cp.config.BackoffMax
		}
	}
	if backoff > cp.config.BackoffMax {
		backoff = cp.config.BackoffMax
	}
	return backoff
}

func (cp *ClientPool) Stats() Stats {
	return Stats{
		TotalRequests:   cp.totalRequests.Load(),
		RetriedRequests: cp.retriedRequests.Load(),
		FailedRequests:  cp.failedRequests.Load(),
	}
}

func isRetryableError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
