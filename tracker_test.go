package petsync_test

import (
	"context"
	"testing"

	"github.com/hyperengineering/petsync"
)

func TestLocalSeenTracker(t *testing.T) {
	s := openTestStore(t)
	tracker := petsync.NewLocalSeenTracker(petsync.SourceQuestionnaire, s)
	ctx := context.Background()
	sub := questionnaireSub("7001")

	if tracker.Name() != "local-seen" {
		t.Errorf("Name() = %q", tracker.Name())
	}
	if done, err := tracker.IsProcessed(ctx, sub); err != nil || done {
		t.Fatalf("IsProcessed before mark = %v, %v", done, err)
	}
	if err := tracker.MarkProcessed(ctx, sub); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	if done, _ := tracker.IsProcessed(ctx, sub); !done {
		t.Error("IsProcessed after mark = false")
	}
}

func TestRemoteFlagTracker(t *testing.T) {
	s := openTestStore(t)
	src := &fakeBookings{}
	tracker := petsync.NewRemoteFlagTracker(src, s, quietLogger())
	ctx := context.Background()

	flagged := bookingSub("81", "PBS-0081")
	flagged.RemoteProcessed = true
	if done, err := tracker.IsProcessed(ctx, flagged); err != nil || !done {
		t.Errorf("flagged IsProcessed = %v, %v; want true", done, err)
	}

	fresh := bookingSub("82", "PBS-0082")
	if done, _ := tracker.IsProcessed(ctx, fresh); done {
		t.Error("fresh IsProcessed = true")
	}

	c := createClient(t, s, petsync.Client{FirstName: "Jane", Email: "jane@example.com"})
	e := &petsync.Event{ClientID: c.ID, Type: petsync.EventBooking, Notes: fresh.PrimaryMarker()}
	if err := s.Repos().Events.Create(ctx, e); err != nil {
		t.Fatal(err)
	}
	if done, _ := tracker.IsProcessed(ctx, fresh); !done {
		t.Error("IsProcessed with local marker = false")
	}
	if len(src.marked) != 1 || src.marked[0] != "82" {
		t.Errorf("marked = %v, want re-mark of 82", src.marked)
	}
}
