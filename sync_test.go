package petsync_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyperengineering/petsync"
)

func TestSyncer_ImportsAndMarks(t *testing.T) {
	s := openTestStore(t)
	im := newTestImporter(t, s, nil, petsync.Config{})
	src := &fakeBookings{subs: []petsync.Submission{bookingSub("21", "PBS-0021"), bookingSub("22", "PBS-0022")}}
	tracker := petsync.NewRemoteFlagTracker(src, s, quietLogger())
	ctx := context.Background()

	report, err := petsync.NewSyncer(src, tracker, im.ImportBooking, s, quietLogger()).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Total != 2 || report.Successful != 2 || report.Failed != 0 || report.Skipped != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(src.marked) != 2 {
		t.Errorf("marked = %v, want both", src.marked)
	}
	if report.RunID == "" {
		t.Error("RunID empty")
	}

	again, err := petsync.NewSyncer(src, tracker, im.ImportBooking, s, quietLogger()).Run(ctx)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if again.Skipped != 2 || again.Successful != 0 {
		t.Errorf("second report = %+v, want 2 skipped", again)
	}

	stats, _ := s.Stats(ctx)
	if _, ok := stats.LastSync["booking"]; !ok {
		t.Errorf("LastSync = %v, want booking entry", stats.LastSync)
	}
}

// TestSyncer_DegradedDeduplicatesLocally covers a source that cannot
// filter or store its processed flag.
func TestSyncer_DegradedDeduplicatesLocally(t *testing.T) {
	s := openTestStore(t)
	im := newTestImporter(t, s, nil, petsync.Config{})
	src := &fakeBookings{subs: []petsync.Submission{bookingSub("31", "PBS-0031")}, degraded: true}
	tracker := petsync.NewRemoteFlagTracker(src, s, quietLogger())
	ctx := context.Background()

	first, err := petsync.NewSyncer(src, tracker, im.ImportBooking, s, quietLogger()).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Degraded || first.Successful != 1 {
		t.Errorf("first = %+v", first)
	}
	second, err := petsync.NewSyncer(src, tracker, im.ImportBooking, s, quietLogger()).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.Skipped != 1 {
		t.Errorf("second = %+v, want skipped via local marker", second)
	}
	if len(src.marked) != 2 {
		t.Errorf("marked = %v, want re-mark on the skip", src.marked)
	}
	if stats, _ := s.Stats(ctx); stats.Clients != 1 || stats.Events != 2 {
		t.Errorf("stats = %+v, want no duplicates", stats)
	}
}

func TestSyncer_MarkFailureIsWarning(t *testing.T) {
	s := openTestStore(t)
	im := newTestImporter(t, s, nil, petsync.Config{})
	src := &fakeBookings{subs: []petsync.Submission{bookingSub("41", "PBS-0041")}, markErr: errors.New("403 forbidden")}
	tracker := petsync.NewRemoteFlagTracker(src, s, quietLogger())

	report, err := petsync.NewSyncer(src, tracker, im.ImportBooking, s, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Successful != 1 {
		t.Fatalf("report = %+v, want success despite mark failure", report)
	}
	res := report.Results[0]
	if len(res.Warnings) == 0 || !strings.Contains(res.Warnings[len(res.Warnings)-1], "via remote-flag") {
		t.Errorf("Warnings = %v, want marker warning", res.Warnings)
	}
}

func TestSyncer_FailedSubmissionsDoNotStopRun(t *testing.T) {
	s := openTestStore(t)
	im := newTestImporter(t, s, nil, petsync.Config{})
	bad := bookingSub("51", "PBS-0051")
	bad.Pet.Name = ""
	unreadable := petsync.Submission{Source: petsync.SourceBooking, ID: "53", Malformed: "json: cannot unmarshal number into customer_phone"}
	src := &fakeBookings{subs: []petsync.Submission{bad, bookingSub("52", "PBS-0052"), unreadable}}
	tracker := petsync.NewRemoteFlagTracker(src, s, quietLogger())

	report, err := petsync.NewSyncer(src, tracker, im.ImportBooking, s, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 2 || report.Successful != 1 {
		t.Errorf("report = %+v", report)
	}
	for _, i := range []int{0, 2} {
		if report.Results[i].ErrorKind != petsync.KindParse {
			t.Errorf("result %d kind = %q, want parse", i, report.Results[i].ErrorKind)
		}
	}
	if len(src.marked) != 1 || src.marked[0] != "52" {
		t.Errorf("marked = %v, want only the success", src.marked)
	}
}

func TestSyncer_FetchError(t *testing.T) {
	s := openTestStore(t)
	im := newTestImporter(t, s, nil, petsync.Config{})
	src := &fakeBookings{fetchErr: &petsync.SyncError{Operation: "fetch bookings", StatusCode: 503, Err: errors.New("unavailable")}}
	tracker := petsync.NewRemoteFlagTracker(src, s, quietLogger())

	_, err := petsync.NewSyncer(src, tracker, im.ImportBooking, s, quietLogger()).Run(context.Background())
	var se *petsync.SyncError
	if !errors.As(err, &se) || se.StatusCode != 503 {
		t.Errorf("err = %v, want wrapped SyncError", err)
	}
}

func TestSyncer_CanceledContextStillCompletes(t *testing.T) {
	s := openTestStore(t)
	im := newTestImporter(t, s, nil, petsync.Config{})
	src := &fakeBookings{subs: []petsync.Submission{bookingSub("61", "PBS-0061")}}
	tracker := petsync.NewRemoteFlagTracker(src, s, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := petsync.NewSyncer(src, tracker, im.ImportBooking, s, quietLogger()).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Successful != 1 || len(src.marked) != 1 {
		t.Errorf("report = %+v marked = %v", report, src.marked)
	}
}
