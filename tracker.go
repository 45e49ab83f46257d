package petsync

import (
	"context"
	"errors"
	"log/slog"
)

// FetchResult is one pull from a remote source.
type FetchResult struct {
	Submissions []Submission
	// Degraded is set when the source could not filter on its processed
	// flag and returned everything; deduplication then happens locally.
	Degraded bool
}

// SubmissionSource pulls submissions awaiting import from one remote source.
type SubmissionSource interface {
	Source() Source
	Fetch(ctx context.Context) (FetchResult, error)
}

// BookingSource is a source that can also flag a submission processed remotely.
type BookingSource interface {
	SubmissionSource
	MarkProcessed(ctx context.Context, submissionID string) error
}

// Downloader fetches a remote file into dest. The parent of dest must exist.
type Downloader interface {
	Download(ctx context.Context, url, dest string) error
}

// SubmissionTracker records which submissions have already been imported.
type SubmissionTracker interface {
	Name() string
	IsProcessed(ctx context.Context, sub Submission) (bool, error)
	MarkProcessed(ctx context.Context, sub Submission) error
}

// RemoteFlagTracker uses the remote processed flag. A submission that is
// unflagged remotely but whose primary marker already exists locally is
// treated as processed and the flag is set again, which covers both a
// crash between commit and marking and a source without the flag column.
type RemoteFlagTracker struct {
	source BookingSource
	store  *Store
	logger *slog.Logger
}

// NewRemoteFlagTracker creates a tracker backed by source's processed flag.
func NewRemoteFlagTracker(source BookingSource, store *Store, logger *slog.Logger) *RemoteFlagTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteFlagTracker{source: source, store: store, logger: logger}
}

// Name implements SubmissionTracker.
func (t *RemoteFlagTracker) Name() string { return "remote-flag" }

// IsProcessed implements SubmissionTracker.
func (t *RemoteFlagTracker) IsProcessed(ctx context.Context, sub Submission) (bool, error) {
	if sub.RemoteProcessed {
		return true, nil
	}
	_, err := t.store.Repos().Events.FindByMarker(ctx, 0, sub.PrimaryMarker())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := t.MarkProcessed(ctx, sub); err != nil {
		t.logger.Warn("re-mark already imported submission failed",
			slog.String("submission_id", sub.ID),
			slog.String("error", err.Error()),
		)
	}
	return true, nil
}

// MarkProcessed implements SubmissionTracker.
func (t *RemoteFlagTracker) MarkProcessed(ctx context.Context, sub Submission) error {
	return t.source.MarkProcessed(ctx, sub.ID)
}

// LocalSeenTracker keeps a local set of imported submission ids, for
// sources that cannot store a flag.
type LocalSeenTracker struct {
	source Source
	store  *Store
}

// NewLocalSeenTracker creates a tracker over the store's processed set.
func NewLocalSeenTracker(source Source, store *Store) *LocalSeenTracker {
	return &LocalSeenTracker{source: source, store: store}
}

// Name implements SubmissionTracker.
func (t *LocalSeenTracker) Name() string { return "local-seen" }

// IsProcessed implements SubmissionTracker.
func (t *LocalSeenTracker) IsProcessed(ctx context.Context, sub Submission) (bool, error) {
	return t.store.Repos().Processed.IsProcessed(ctx, string(t.source), sub.ID)
}

// MarkProcessed implements SubmissionTracker.
func (t *LocalSeenTracker) MarkProcessed(ctx context.Context, sub Submission) error {
	return t.store.Repos().Processed.MarkProcessed(ctx, string(t.source), sub.ID)
}
