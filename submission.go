package petsync

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Source names a remote submission source.
type Source string

const (
	SourceBooking       Source = "booking"
	SourceQuestionnaire Source = "questionnaire"
)

// ParseSource accepts a source name in singular or plural form.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "booking", "bookings":
		return SourceBooking, nil
	case "questionnaire", "questionnaires":
		return SourceQuestionnaire, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNoSource, s)
}

// ContactFields are the client fields carried by a submission.
type ContactFields struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Mobile    string `json:"mobile"`
	// Address is the free-form address as typed, split by ParseAddress
	// unless structured parts are present.
	Address  string `json:"address,omitempty"`
	Street   string `json:"street,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

// ResolvedAddress returns the structured parts when any are set, otherwise
// the parsed free-form address.
func (c ContactFields) ResolvedAddress() Address {
	structured := Address{Street: c.Street, City: c.City, State: c.State, Postcode: c.Postcode}
	if !structured.IsZero() {
		return structured
	}
	return ParseAddress(c.Address)
}

// FullName joins the name parts.
func (c ContactFields) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// SplitName splits a full name into first name and the remainder.
func SplitName(full string) (first, last string) {
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// PetFields are the pet fields carried by a submission.
type PetFields struct {
	Name    string `json:"name"`
	Species string `json:"species,omitempty"`
	Breed   string `json:"breed,omitempty"`
	Sex     string `json:"sex,omitempty"`
	Age     string `json:"age,omitempty"`
	Weight  string `json:"weight,omitempty"`
}

// Answer is one question/answer pair from the raw submission.
type Answer struct {
	Key      string `json:"key"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Attachment is a remote file referenced by a submission.
type Attachment struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
}

// Submission is the canonical parsed form of one remote submission.
type Submission struct {
	Source      Source        `json:"source"`
	ID          string        `json:"submission_id"`
	Reference   string        `json:"reference,omitempty"`
	FormID      string        `json:"form_id,omitempty"`
	CreatedAt   time.Time     `json:"submitted_at"`
	Client      ContactFields `json:"client"`
	Pet         PetFields     `json:"pet"`
	ServiceType string        `json:"service_type,omitempty"`
	ServiceDate *time.Time    `json:"service_date,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	Answers     []Answer      `json:"answers,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	// RemoteProcessed is the remote processed flag as fetched. Not persisted.
	RemoteProcessed bool `json:"-"`
	// Malformed holds the decode error for a row the source could not read.
	Malformed string `json:"-"`
}

// Validate checks the fields required before any write.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return &ParseError{Field: "id", Message: "submission id is required"}
	}
	if s.Malformed != "" {
		return &ParseError{Field: "payload", Message: s.Malformed}
	}
	if s.Client.FullName() == "" {
		return &ParseError{Field: "client.name", Message: "contact name is required"}
	}
	if strings.TrimSpace(s.Client.Email) == "" && NormalizePhone(s.Client.Mobile) == "" {
		return &ParseError{Field: "client.email", Message: "email or phone is required"}
	}
	if strings.TrimSpace(s.Pet.Name) == "" {
		return &ParseError{Field: "pet.name", Message: "pet name is required"}
	}
	return nil
}

// Key is the external identity used in markers: the booking reference when
// present, otherwise the submission id.
func (s Submission) Key() string {
	if s.Reference != "" {
		return s.Reference
	}
	return s.ID
}

// PrimaryMarker is the marker written into the primary event for s.
func (s Submission) PrimaryMarker() string {
	if s.Source == SourceBooking && s.Reference != "" {
		return Marker(LabelBookingReference, s.Reference)
	}
	return Marker(LabelSubmissionID, s.ID)
}

var agePart = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(years?|yrs?|y|months?|mths?|mo|weeks?|wks?|w)?\b`)

// DateOfBirthFromAge back-computes a date of birth from a free-text age
// such as "3 years", "2 years 6 months", "18 months", "10 weeks" or "1.5".
// A bare number is read as years. ok is false when nothing parses.
func DateOfBirthFromAge(age string, now time.Time) (time.Time, bool) {
	matches := agePart.FindAllStringSubmatch(strings.ToLower(age), -1)
	if len(matches) == 0 {
		return time.Time{}, false
	}

	var years, months, days int
	for _, m := range matches {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		whole, frac := math.Modf(n)
		switch unit := m[2]; {
		case strings.HasPrefix(unit, "m"):
			months += int(whole)
			days += int(math.Round(frac * 30))
		case strings.HasPrefix(unit, "w"):
			days += int(math.Round(n * 7))
		default:
			years += int(whole)
			months += int(math.Round(frac * 12))
		}
	}
	if years == 0 && months == 0 && days == 0 {
		return time.Time{}, false
	}

	y, mo, d := now.Date()
	dob := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC).AddDate(-years, -months, -days)
	return dob, true
}
