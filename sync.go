package petsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// SyncReport summarises one sync run against one source.
type SyncReport struct {
	RunID      string             `json:"run_id"`
	Source     Source             `json:"source"`
	StartedAt  time.Time          `json:"started_at"`
	Duration   time.Duration      `json:"duration"`
	Total      int                `json:"total"`
	Successful int                `json:"successful"`
	Failed     int                `json:"failed"`
	Skipped    int                `json:"skipped"`
	Degraded   bool               `json:"degraded,omitempty"`
	Results    []SubmissionResult `json:"results"`
}

// importFunc imports one submission.
type importFunc func(ctx context.Context, sub Submission) SubmissionResult

// Syncer runs fetch-import-mark for one source. Submissions are processed
// one at a time in fetch order; each fully commits or fails before the next
// starts. There is no mid-run cancellation.
type Syncer struct {
	source  SubmissionSource
	tracker SubmissionTracker
	run     importFunc
	store   *Store
	logger  *slog.Logger
}

// NewSyncer creates a syncer. run is usually Importer.ImportBooking or
// Importer.ImportQuestionnaire.
func NewSyncer(source SubmissionSource, tracker SubmissionTracker, run func(context.Context, Submission) SubmissionResult, s *Store, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{source: source, tracker: tracker, run: run, store: s, logger: logger}
}

// Run performs one sync. A failed fetch returns an error; failures of
// individual submissions are reported in the result list.
func (s *Syncer) Run(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{
		RunID:     ulid.Make().String(),
		Source:    s.source.Source(),
		StartedAt: s.store.Now(),
		Results:   []SubmissionResult{},
	}
	log := s.logger.With(slog.String("source", string(report.Source)), slog.String("run_id", report.RunID))

	fetched, err := s.source.Fetch(ctx)
	if err != nil {
		log.Error("fetch submissions failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("fetch %s submissions: %w", report.Source, err)
	}
	report.Degraded = fetched.Degraded
	if fetched.Degraded {
		log.Warn("processed flag unavailable; deduplicating locally")
	}

	// A background context keeps a caller's cancellation from splitting a
	// submission between its commit and its processed mark.
	runCtx := context.WithoutCancel(ctx)
	for _, sub := range fetched.Submissions {
		report.Total++
		res := s.process(runCtx, sub, log)
		switch {
		case res.Skipped:
			report.Skipped++
		case res.Success:
			report.Successful++
		default:
			report.Failed++
		}
		report.Results = append(report.Results, res)
	}

	report.Duration = time.Since(report.StartedAt)
	if err := s.store.RecordSync(runCtx, string(report.Source), report.RunID, s.store.Now()); err != nil {
		log.Warn("record last sync failed", slog.String("error", err.Error()))
	}
	log.Info("sync complete",
		slog.Int("total", report.Total),
		slog.Int("successful", report.Successful),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (s *Syncer) process(ctx context.Context, sub Submission, log *slog.Logger) SubmissionResult {
	done, err := s.tracker.IsProcessed(ctx, sub)
	if err != nil {
		res := SubmissionResult{Source: s.source.Source(), SubmissionID: sub.ID, Reference: sub.Reference}
		res.fail(fmt.Errorf("check processed: %w", err))
		return res
	}
	if done {
		return SubmissionResult{
			Source:       s.source.Source(),
			SubmissionID: sub.ID,
			Reference:    sub.Reference,
			Success:      true,
			Skipped:      true,
		}
	}

	res := s.run(ctx, sub)
	if !res.Success {
		return res
	}
	if err := s.tracker.MarkProcessed(ctx, sub); err != nil {
		me := &MarkerError{Tracker: s.tracker.Name(), SubmissionID: sub.ID, Err: err}
		res.warn(me)
		log.Warn("mark processed failed", slog.String("submission_id", sub.ID), slog.String("error", err.Error()))
	}
	return res
}
