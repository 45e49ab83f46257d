package petsync_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/petsync"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *petsync.Store {
	t.Helper()
	s, err := petsync.OpenStore(filepath.Join(t.TempDir(), "records.db"),
		petsync.WithStoreLogger(quietLogger()),
		petsync.WithClock(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestImporter(t *testing.T, s *petsync.Store, d petsync.Downloader, cfg petsync.Config) *petsync.Importer {
	t.Helper()
	engine := petsync.NewEngine(petsync.StoreWriter(s), quietLogger(), petsync.DefaultRules()...)
	cfg.LocalPath = s.Path()
	if cfg.ClientRecordsRoot == "" {
		cfg.ClientRecordsRoot = t.TempDir()
	}
	return petsync.NewImporter(s, engine, d, cfg.WithDefaults(), quietLogger())
}

func bookingSub(id, ref string) petsync.Submission {
	service := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	return petsync.Submission{
		Source:    petsync.SourceBooking,
		ID:        id,
		Reference: ref,
		CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Client: petsync.ContactFields{
			FirstName: "jane",
			LastName:  "smith",
			Email:     "Jane.Smith@example.com",
			Mobile:    "0412 345 678",
			Address:   "1 Main St, Springfield, VIC, 3000",
		},
		Pet:         petsync.PetFields{Name: "Rex", Species: "Dog", Breed: "Kelpie"},
		ServiceType: "Behaviour consultation",
		ServiceDate: &service,
	}
}

func questionnaireSub(id string) petsync.Submission {
	return petsync.Submission{
		Source:    petsync.SourceQuestionnaire,
		ID:        id,
		FormID:    "240",
		CreatedAt: time.Date(2026, 3, 5, 18, 0, 0, 0, time.UTC),
		Client: petsync.ContactFields{
			FirstName: "Jane",
			LastName:  "Smith",
			Email:     "jane.smith@example.com",
			Mobile:    "0412345678",
		},
		Pet: petsync.PetFields{Name: "rex", Species: "Dog", Breed: "Labrador", Sex: "Male - Neutered", Age: "3 years", Weight: "24kg"},
		Answers: []petsync.Answer{
			{Key: "concern", Question: "Main concern", Answer: "Barking at visitors"},
		},
	}
}

// fakeBookings is an in-memory booking source.
type fakeBookings struct {
	mu       sync.Mutex
	subs     []petsync.Submission
	degraded bool
	fetchErr error
	markErr  error
	marked   []string
}

func (f *fakeBookings) Source() petsync.Source { return petsync.SourceBooking }

func (f *fakeBookings) Fetch(ctx context.Context) (petsync.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return petsync.FetchResult{}, f.fetchErr
	}
	out := make([]petsync.Submission, len(f.subs))
	copy(out, f.subs)
	return petsync.FetchResult{Submissions: out, Degraded: f.degraded}, nil
}

func (f *fakeBookings) MarkProcessed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, id)
	for i := range f.subs {
		if f.subs[i].ID == id && !f.degraded {
			f.subs[i].RemoteProcessed = true
		}
	}
	return nil
}

// fakeForms is an in-memory questionnaire source.
type fakeForms struct {
	subs []petsync.Submission
}

func (f *fakeForms) Source() petsync.Source { return petsync.SourceQuestionnaire }

func (f *fakeForms) Fetch(ctx context.Context) (petsync.FetchResult, error) {
	return petsync.FetchResult{Submissions: f.subs}, nil
}

// failingWriter rejects every automation write.
type failingWriter struct{}

func (failingWriter) CreateTask(ctx context.Context, t *petsync.Task) error {
	return errors.New("task table locked")
}

func (failingWriter) CreateEvent(ctx context.Context, e *petsync.Event) error {
	return errors.New("event table locked")
}
