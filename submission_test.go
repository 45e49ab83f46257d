package petsync_test

import (
	"errors"
	"testing"
	"time"

	"github.com/hyperengineering/petsync"
)

func TestParseSource(t *testing.T) {
	for in, want := range map[string]petsync.Source{
		"booking":         petsync.SourceBooking,
		"Bookings":        petsync.SourceBooking,
		" questionnaire ": petsync.SourceQuestionnaire,
		"QUESTIONNAIRES":  petsync.SourceQuestionnaire,
	} {
		got, err := petsync.ParseSource(in)
		if err != nil || got != want {
			t.Errorf("ParseSource(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := petsync.ParseSource("invoices"); !errors.Is(err, petsync.ErrNoSource) {
		t.Errorf("ParseSource(invoices) = %v, want ErrNoSource", err)
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct{ in, first, last string }{
		{"", "", ""},
		{"Cher", "Cher", ""},
		{"  Mary  Jo   Smith ", "Mary", "Jo Smith"},
	}
	for _, tt := range tests {
		first, last := petsync.SplitName(tt.in)
		if first != tt.first || last != tt.last {
			t.Errorf("SplitName(%q) = %q, %q; want %q, %q", tt.in, first, last, tt.first, tt.last)
		}
	}
}

func TestSubmission_Validate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*petsync.Submission)
		field string
	}{
		{"valid", func(*petsync.Submission) {}, ""},
		{"no id", func(s *petsync.Submission) { s.ID = " " }, "id"},
		{"no name", func(s *petsync.Submission) { s.Client.FirstName, s.Client.LastName = "", "" }, "client.name"},
		{"no contact", func(s *petsync.Submission) { s.Client.Email, s.Client.Mobile = "", "n/a" }, "client.email"},
		{"no pet", func(s *petsync.Submission) { s.Pet.Name = "" }, "pet.name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := bookingSub("1", "PBS-1")
			tt.edit(&sub)
			err := sub.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			var pe *petsync.ParseError
			if !errors.As(err, &pe) || pe.Field != tt.field {
				t.Errorf("Validate() = %v, want ParseError on %s", err, tt.field)
			}
		})
	}
}

func TestSubmission_KeyAndMarker(t *testing.T) {
	b := petsync.Submission{Source: petsync.SourceBooking, ID: "42", Reference: "PBS-9"}
	if b.Key() != "PBS-9" || b.PrimaryMarker() != "[Booking Reference: PBS-9]" {
		t.Errorf("booking key/marker = %q %q", b.Key(), b.PrimaryMarker())
	}
	q := petsync.Submission{Source: petsync.SourceQuestionnaire, ID: "591"}
	if q.Key() != "591" || q.PrimaryMarker() != "[Submission ID: 591]" {
		t.Errorf("questionnaire key/marker = %q %q", q.Key(), q.PrimaryMarker())
	}
}

func TestContactFields_ResolvedAddress(t *testing.T) {
	structured := petsync.ContactFields{Address: "ignored, x", Street: "1 Main St", Postcode: "3000"}
	if got := structured.ResolvedAddress(); got.Street != "1 Main St" || got.City != "" {
		t.Errorf("structured = %+v", got)
	}
	free := petsync.ContactFields{Address: "1 Main St, Springfield, VIC, 3000"}
	if got := free.ResolvedAddress(); got.State != "VIC" {
		t.Errorf("free-form = %+v", got)
	}
}

func TestDateOfBirthFromAge(t *testing.T) {
	now := time.Date(2026, 3, 15, 17, 45, 0, 0, time.UTC)
	tests := []struct {
		age  string
		want time.Time
		ok   bool
	}{
		{"3 years", time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"2 years 6 months", time.Date(2023, 9, 15, 0, 0, 0, 0, time.UTC), true},
		{"18 months", time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC), true},
		{"10 weeks", time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC), true},
		{"1.5", time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC), true},
		{"about 4 yrs", time.Date(2022, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"puppy", time.Time{}, false},
		{"0", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := petsync.DateOfBirthFromAge(tt.age, now)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("DateOfBirthFromAge(%q) = %v, %v; want %v, %v", tt.age, got, ok, tt.want, tt.ok)
		}
	}
}
