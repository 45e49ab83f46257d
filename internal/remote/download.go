package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperengineering/petsync"
	"github.com/hyperengineering/petsync/internal/store"
)

// HTTPDownloader fetches attachments into the local filesystem.
type HTTPDownloader struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDownloader creates a downloader with the given per-request timeout.
func NewDownloader(timeout time.Duration, logger *slog.Logger) *HTTPDownloader {
	c := newCaller(timeout, logger, nil)
	return &HTTPDownloader{httpClient: c.httpClient, logger: c.logger}
}

// WithHTTPClient sets a custom http.Client.
func (d *HTTPDownloader) WithHTTPClient(hc *http.Client) *HTTPDownloader {
	d.httpClient = hc
	return d
}

// Download streams url into dest. The parent directory of dest must exist;
// a non-2xx response is an error and leaves nothing behind.
func (d *HTTPDownloader) Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &petsync.SyncError{Operation: "download", Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &petsync.SyncError{Operation: "download", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newSyncError("download", resp.StatusCode, nil)
	}
	if err := store.WriteStream(dest, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", dest, err)
	}
	d.logger.Debug("attachment downloaded", slog.String("dest", dest))
	return nil
}

// Options builds client options for every source enabled in cfg.
func Options(cfg petsync.Config, logger *slog.Logger) []petsync.Option {
	var opts []petsync.Option
	if cfg.Booking.Enabled() {
		opts = append(opts, petsync.WithBookingSource(NewBookingClient(cfg.Booking, cfg.HTTPTimeout, logger)))
	}
	if cfg.Questionnaire.Enabled() {
		opts = append(opts, petsync.WithQuestionnaireSource(NewQuestionnaireClient(cfg.Questionnaire, cfg.HTTPTimeout, logger)))
	}
	if cfg.Booking.Enabled() || cfg.Questionnaire.Enabled() {
		opts = append(opts, petsync.WithDownloader(NewDownloader(cfg.HTTPTimeout, logger)))
	}
	return opts
}
