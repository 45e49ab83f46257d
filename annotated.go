package petsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
)

// Marker labels embedded in event notes.
const (
	LabelBookingReference = "Booking Reference"
	LabelSubmissionID     = "Submission ID"
)

const (
	logOpen  = "<!--petsync:log:"
	logClose = "-->"
)

// ErrMalformedAnnotation is returned when an embedded log block cannot be parsed.
var ErrMalformedAnnotation = errors.New("malformed annotation block")

// LogEntry is one line of the append-only log embedded in event notes.
type LogEntry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// AnnotatedText is a human-readable notes body plus a machine-readable log
// stored after it in an HTML comment.
type AnnotatedText struct {
	Body string
	Log  []LogEntry
}

// Append returns a copy of a with e added to the end of the log.
func (a AnnotatedText) Append(e LogEntry) AnnotatedText {
	log := make([]LogEntry, len(a.Log), len(a.Log)+1)
	copy(log, a.Log)
	return AnnotatedText{Body: a.Body, Log: append(log, e)}
}

// String serializes a. ParseAnnotated(a.String()) returns a again.
func (a AnnotatedText) String() string {
	if len(a.Log) == 0 {
		return a.Body
	}
	data, _ := json.Marshal(a.Log)
	return a.Body + "\n" + logOpen + string(data) + logClose
}

// ParseAnnotated splits text into body and embedded log. Text without a log
// block is returned as a body with no entries.
func ParseAnnotated(text string) (AnnotatedText, error) {
	idx := strings.LastIndex(text, logOpen)
	if idx < 0 {
		return AnnotatedText{Body: text}, nil
	}
	rest := text[idx+len(logOpen):]
	if !strings.HasSuffix(rest, logClose) {
		return AnnotatedText{}, fmt.Errorf("%w: unterminated log block", ErrMalformedAnnotation)
	}

	var log []LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSuffix(rest, logClose)), &log); err != nil {
		return AnnotatedText{}, fmt.Errorf("%w: %v", ErrMalformedAnnotation, err)
	}
	body := strings.TrimSuffix(text[:idx], "\n")
	return AnnotatedText{Body: body, Log: log}, nil
}

// Marker renders a findable label/value pair, e.g. "[Booking Reference: ABC123]".
// The brackets keep one reference from matching another that it prefixes.
func Marker(label, value string) string {
	return "[" + label + ": " + value + "]"
}

var markerPattern = regexp.MustCompile(`\[(` + regexp.QuoteMeta(LabelBookingReference) + `|` +
	regexp.QuoteMeta(LabelSubmissionID) + `): ([^\]\s]+)\]`)

// Markers extracts known markers from text, keeping the first value seen
// for each label.
func Markers(text string) map[string]string {
	out := map[string]string{}
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		if _, ok := out[m[1]]; !ok {
			out[m[1]] = m[2]
		}
	}
	return out
}

// SummaryRow is one line of a rendered summary table.
type SummaryRow struct {
	Label string
	Value string
}

// SummaryTable renders rows as an HTML table, skipping rows with no value.
func SummaryTable(rows []SummaryRow) string {
	var b strings.Builder
	b.WriteString("<table>")
	for _, r := range rows {
		if strings.TrimSpace(r.Value) == "" {
			continue
		}
		fmt.Fprintf(&b, "<tr><th>%s</th><td>%s</td></tr>", html.EscapeString(r.Label), html.EscapeString(r.Value))
	}
	b.WriteString("</table>")
	return b.String()
}
