// Package remote implements the HTTP sources that submissions are pulled
// from: a PostgREST style bookings table, a form-builder questionnaire API
// and a plain file downloader for attachments.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperengineering/petsync"
)

const userAgent = "petsync/1.0"

// caller performs one HTTP exchange and classifies failures as SyncError.
type caller struct {
	httpClient *http.Client
	logger     *slog.Logger
	headers    func(*http.Request)
}

func newCaller(timeout time.Duration, logger *slog.Logger, headers func(*http.Request)) caller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return caller{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		headers:    headers,
	}
}

func newSyncError(op string, statusCode int, body []byte) *petsync.SyncError {
	msg := ""
	if len(body) > 0 && statusCode >= 400 {
		msg = petsync.TruncateForLog(string(body), 200)
	}
	return &petsync.SyncError{
		Operation:  op,
		StatusCode: statusCode,
		Err:        fmt.Errorf("HTTP %d: %s", statusCode, msg),
	}
}

// do sends the request and returns the body of a 2xx response.
func (c caller) do(ctx context.Context, op, method, url string, payload any) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, &petsync.SyncError{Operation: op, Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, &petsync.SyncError{Operation: op, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.headers != nil {
		c.headers(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &petsync.SyncError{Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	c.logger.Debug("remote call",
		slog.String("op", op),
		slog.String("method", method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
		slog.String("body", petsync.TruncateForLog(string(data), 500)),
	)
	if err != nil {
		return nil, resp.StatusCode, &petsync.SyncError{Operation: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, resp.StatusCode, newSyncError(op, resp.StatusCode, data)
	}
	return data, resp.StatusCode, nil
}
