// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package odk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/ripplenami/odksync/internal/config"
	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/metrics"
	"github.com/ripplenami/odksync/internal/models"
)

// maxErrorBodySize limits the response body read for error reporting.
const maxErrorBodySize = 64 * 1024 // 64KB

// odataTimestampLayout is the OData $filter timestamp format.
const odataTimestampLayout = "2006-01-02T15:04:05.000000Z"

// API is the ODK Central surface consumed by the sync manager. Implemented
// by Client for production and by the circuit breaker wrapper; mocked in
// tests.
type API interface {
	Ping(ctx context.Context) error
	FetchSubmissions(ctx context.Context, since *time.Time) ([]models.Submission, error)
	FetchPersonDetails(ctx context.Context) ([]models.PersonDetail, error)
	DownloadAttachment(ctx context.Context, submissionID, filename string) ([]byte, string, error)
}

// Client talks to ODK Central. OData feeds use basic auth; attachment
// downloads use a cached session Bearer token. All outgoing requests pass
// through a shared rate limiter.
//
// Resilience:
//   - Rate limiting via golang.org/x/time/rate (requests per second + burst)
//   - HTTP 429 and transient 5xx retried with exponential backoff
//     (1s, 2s, 4s, 8s, 16s), honoring Retry-After
//   - Context cancellation respected during backoff waits
//
// Thread safety: safe for concurrent use.
type Client struct {
	cfg            config.ODKConfig
	client         *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration

	mu    sync.Mutex
	token string
}

// NewClient creates an ODK Central client from configuration.
func NewClient(cfg config.ODKConfig) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		maxRetries:     5,
		retryBaseDelay: time.Second,
	}
}

// readBodyForError reads the response body for error reporting (max 64KB).
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// retryable reports whether a status code warrants a backoff-and-retry.
func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// doWithRetry performs prepare()'d requests with rate limiting and
// exponential backoff on 429/5xx. The caller owns the returned body.
func (c *Client) doWithRetry(ctx context.Context, prepare func() (*http.Request, error)) (*http.Response, error) {
	var lastStatus int

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := prepare()
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if !retryable(resp.StatusCode) {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				delay = seconds
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request still failing with status %d after %d retries", lastStatus, c.maxRetries)
}

// fetchFeed fetches one OData feed page into a typed slice. A non-nil since
// adds the incremental submission-date filter.
func fetchFeed[T any](ctx context.Context, c *Client, endpoint, feedURL string, since *time.Time) ([]T, error) {
	start := time.Now()

	params := url.Values{}
	params.Set("$format", "json")
	params.Set("$count", "true")
	if since != nil {
		params.Set("$filter", fmt.Sprintf("__system/submissionDate gt %s", since.UTC().Format(odataTimestampLayout)))
	}
	reqURL := feedURL + "?" + params.Encode()

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.cfg.Email, c.cfg.Password)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	metrics.RecordODKRequest(endpoint, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{URL: feedURL}
	}
	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return nil, &FetchError{
			URL:    feedURL,
			Status: resp.StatusCode,
			Body:   string(body),
		}
	}

	var envelope struct {
		Value []T    `json:"value"`
		Count *int64 `json:"@odata.count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode OData response from %s: %w", feedURL, err)
	}

	return envelope.Value, nil
}

// FetchSubmissions retrieves main form submissions, incrementally when a
// watermark is provided.
func (c *Client) FetchSubmissions(ctx context.Context, since *time.Time) ([]models.Submission, error) {
	subs, err := fetchFeed[models.Submission](ctx, c, "submissions", c.cfg.SubmissionsURL(), since)
	if err != nil {
		return nil, err
	}

	NormalizeSubmissions(subs)
	logging.Debug().Int("count", len(subs)).Msg("Fetched main submissions")
	return subs, nil
}

// FetchPersonDetails retrieves the person_details repeat group. The child
// feed does not support submission-date filtering, so it is always fetched
// in full and filtered locally by the caller. A 404 means the form has no
// person_details repeat group and yields an empty set.
func (c *Client) FetchPersonDetails(ctx context.Context) ([]models.PersonDetail, error) {
	details, err := fetchFeed[models.PersonDetail](ctx, c, "person_details", c.cfg.PersonDetailsURL(), nil)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			logging.Warn().Msg("Person details feed not found, form has no repeat group")
			return nil, nil
		}
		return nil, err
	}

	NormalizePersonDetails(details)
	logging.Debug().Int("count", len(details)).Msg("Fetched person details")
	return details, nil
}

// Ping verifies connectivity and credentials against the submissions feed.
func (c *Client) Ping(ctx context.Context) error {
	params := url.Values{}
	params.Set("$format", "json")
	params.Set("$top", "1")
	reqURL := c.cfg.SubmissionsURL() + "?" + params.Encode()

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.cfg.Email, c.cfg.Password)
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("failed to ping ODK Central: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ODK Central ping failed with status %d", resp.StatusCode)
	}
	return nil
}
