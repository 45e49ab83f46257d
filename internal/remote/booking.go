package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hyperengineering/petsync"
)

// BookingClient reads confirmed bookings from a PostgREST endpoint and
// flags them processed through a boolean column.
type BookingClient struct {
	baseURL         string
	table           string
	processedColumn string
	call            caller
	now             func() time.Time
}

// NewBookingClient creates a booking source from cfg.
func NewBookingClient(cfg petsync.BookingConfig, timeout time.Duration, logger *slog.Logger) *BookingClient {
	table := cfg.Table
	if table == "" {
		table = "bookings"
	}
	col := cfg.ProcessedColumn
	if col == "" {
		col = "synced_to_local"
	}
	apiKey := cfg.APIKey
	return &BookingClient{
		baseURL:         strings.TrimSuffix(cfg.URL, "/"),
		table:           table,
		processedColumn: col,
		call: newCaller(timeout, logger, func(req *http.Request) {
			req.Header.Set("apikey", apiKey)
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}),
		now: time.Now,
	}
}

// WithHTTPClient sets a custom http.Client.
func (c *BookingClient) WithHTTPClient(hc *http.Client) *BookingClient {
	c.call.httpClient = hc
	return c
}

// Source implements petsync.SubmissionSource.
func (c *BookingClient) Source() petsync.Source { return petsync.SourceBooking }

func (c *BookingClient) listURL(filtered bool) string {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("status", "eq.confirmed")
	q.Set("order", "created_at.asc")
	if filtered {
		q.Set(c.processedColumn, "not.is.true")
	}
	return c.baseURL + "/rest/v1/" + url.PathEscape(c.table) + "?" + q.Encode()
}

// Fetch returns confirmed bookings not yet flagged processed. When the flag
// column does not exist remotely it fetches every confirmed booking and
// reports the result as degraded.
func (c *BookingClient) Fetch(ctx context.Context) (petsync.FetchResult, error) {
	body, status, err := c.call.do(ctx, "fetch_bookings", http.MethodGet, c.listURL(true), nil)
	degraded := false
	if err != nil {
		if status != http.StatusBadRequest || !c.missingColumn(body) {
			return petsync.FetchResult{}, err
		}
		c.call.logger.Warn("processed flag column missing, deduplicating locally",
			slog.String("column", c.processedColumn))
		degraded = true
		body, _, err = c.call.do(ctx, "fetch_bookings", http.MethodGet, c.listURL(false), nil)
		if err != nil {
			return petsync.FetchResult{}, err
		}
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return petsync.FetchResult{}, &petsync.SyncError{Operation: "fetch_bookings", Err: err}
	}

	res := petsync.FetchResult{Degraded: degraded}
	for _, raw := range rows {
		var row bookingRow
		if err := json.Unmarshal(raw, &row); err != nil {
			sub := malformedBooking(raw, err)
			c.call.logger.Warn("booking row unreadable",
				slog.String("submission_id", sub.ID),
				slog.String("error", err.Error()))
			res.Submissions = append(res.Submissions, sub)
			continue
		}
		sub := row.submission()
		sub.RemoteProcessed = processedFlag(raw, c.processedColumn)
		res.Submissions = append(res.Submissions, sub)
	}
	return res, nil
}

// missingColumn reports whether a 400 body names the processed column or
// carries the undefined-column error code.
func (c *BookingClient) missingColumn(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "42703") || strings.Contains(s, c.processedColumn)
}

// MarkProcessed flags one booking processed.
func (c *BookingClient) MarkProcessed(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("mark processed: empty booking id")
	}
	u := c.baseURL + "/rest/v1/" + url.PathEscape(c.table) + "?id=eq." + url.QueryEscape(id)
	patch := map[string]any{
		c.processedColumn: true,
		"synced_at":       c.now().UTC().Format(time.RFC3339),
	}
	call := c.call
	inner := call.headers
	call.headers = func(req *http.Request) {
		inner(req)
		req.Header.Set("Prefer", "return=minimal")
	}
	if _, _, err := call.do(ctx, "mark_booking", http.MethodPatch, u, patch); err != nil {
		return fmt.Errorf("mark booking %s: %w", id, err)
	}
	return nil
}

func processedFlag(raw json.RawMessage, column string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	var v bool
	if err := json.Unmarshal(fields[column], &v); err != nil {
		return false
	}
	return v
}

// malformedBooking keeps what identity can be read from a row that failed
// to decode, so the run reports it as one failed submission.
func malformedBooking(raw json.RawMessage, err error) petsync.Submission {
	sub := petsync.Submission{Source: petsync.SourceBooking, Malformed: err.Error()}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return sub
	}
	var id json.Number
	if json.Unmarshal(fields["id"], &id) == nil {
		sub.ID = id.String()
	}
	var ref string
	if json.Unmarshal(fields["booking_reference"], &ref) == nil {
		sub.Reference = strings.TrimSpace(ref)
	}
	return sub
}

type bookingRow struct {
	ID               json.Number `json:"id"`
	Reference        string      `json:"booking_reference"`
	CreatedAt        string      `json:"created_at"`
	CustomerName     string      `json:"customer_name"`
	CustomerEmail    string      `json:"customer_email"`
	CustomerPhone    string      `json:"customer_phone"`
	CustomerAddress  string      `json:"customer_address"`
	PetName          string      `json:"pet_name"`
	PetSpecies       string      `json:"pet_species"`
	PetBreed         string      `json:"pet_breed"`
	PetAge           string      `json:"pet_age"`
	ServiceType      string      `json:"service_type"`
	BookingDate      string      `json:"booking_date"`
	BookingTime      string      `json:"booking_time"`
	Notes            string      `json:"notes"`
	ReferralFileURL  string      `json:"referral_file_url"`
	ReferralFileName string      `json:"referral_file_name"`
}

func (r bookingRow) submission() petsync.Submission {
	first, last := petsync.SplitName(r.CustomerName)
	sub := petsync.Submission{
		Source:    petsync.SourceBooking,
		ID:        r.ID.String(),
		Reference: strings.TrimSpace(r.Reference),
		CreatedAt: parseTimestamp(r.CreatedAt),
		Client: petsync.ContactFields{
			FirstName: first,
			LastName:  last,
			Email:     strings.TrimSpace(r.CustomerEmail),
			Mobile:    strings.TrimSpace(r.CustomerPhone),
			Address:   strings.TrimSpace(r.CustomerAddress),
		},
		Pet: petsync.PetFields{
			Name:    strings.TrimSpace(r.PetName),
			Species: strings.TrimSpace(r.PetSpecies),
			Breed:   strings.TrimSpace(r.PetBreed),
			Age:     strings.TrimSpace(r.PetAge),
		},
		ServiceType: r.ServiceType,
		Notes:       strings.TrimSpace(r.Notes),
	}
	if d, ok := serviceDate(r.BookingDate, r.BookingTime); ok {
		sub.ServiceDate = &d
	}
	if r.ReferralFileURL != "" {
		name := r.ReferralFileName
		if name == "" {
			name = "referral" + fileExt(r.ReferralFileURL)
		}
		sub.Attachments = append(sub.Attachments, petsync.Attachment{URL: r.ReferralFileURL, FileName: name})
	}
	return sub
}

// serviceDate combines a date and an optional wall-clock time in local time.
func serviceDate(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, false
	}
	clock = strings.TrimSpace(clock)
	if clock != "" {
		for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
			if t, err := time.ParseInLocation(layout, date+" "+clock, time.Local); err == nil {
				return t, true
			}
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", date, time.Local); err == nil {
		return t, true
	}
	return time.Time{}, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func fileExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}
