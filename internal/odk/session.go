// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

package odk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/metrics"
)

// maxAttachmentSize bounds a single attachment download. ODK form images
// are phone photos, well under this.
const maxAttachmentSize = 64 * 1024 * 1024 // 64MB

// sessionToken returns a cached Bearer token for the attachment API,
// creating a session when none is cached.
func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	start := time.Now()
	token, err := c.createSession(ctx)
	metrics.RecordODKRequest("session", time.Since(start), err)
	if err != nil {
		return "", err
	}

	c.token = token
	logging.Debug().Msg("Created ODK Central session")
	return token, nil
}

// invalidateSession drops the cached token so the next call re-authenticates.
func (c *Client) invalidateSession() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// createSession performs POST /v1/sessions and returns the Bearer token.
func (c *Client) createSession(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode session request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SessionURL(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create ODK session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return "", fmt.Errorf("ODK session creation failed with status %d: %s", resp.StatusCode, string(body))
	}

	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("failed to decode session response: %w", err)
	}
	if session.Token == "" {
		return "", fmt.Errorf("ODK session response carried no token")
	}

	return session.Token, nil
}

// DownloadAttachment fetches one submission attachment via the direct API
// using session auth. Returns the bytes and the reported content type. A 401
// invalidates the cached session and retries once with a fresh token.
func (c *Client) DownloadAttachment(ctx context.Context, submissionID, filename string) ([]byte, string, error) {
	start := time.Now()
	data, contentType, err := c.downloadAttachment(ctx, submissionID, filename, true)
	metrics.RecordODKRequest("attachment", time.Since(start), err)
	return data, contentType, err
}

func (c *Client) downloadAttachment(ctx context.Context, submissionID, filename string, retryAuth bool) ([]byte, string, error) {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return nil, "", err
	}

	reqURL := c.cfg.AttachmentURL(submissionID, url.PathEscape(filename))

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to download attachment %s/%s: %w", submissionID, filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && retryAuth {
		// Session expired server-side. Re-authenticate once.
		c.invalidateSession()
		return c.downloadAttachment(ctx, submissionID, filename, false)
	}

	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return nil, "", &FetchError{URL: reqURL, Status: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read attachment %s/%s: %w", submissionID, filename, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	if len(data) < 100 {
		logging.Warn().
			Str("submission_id", submissionID).
			Str("filename", filename).
			Int("bytes", len(data)).
			Msg("Downloaded attachment is suspiciously small")
	}

	return data, contentType, nil
}
