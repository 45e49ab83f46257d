package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/petsync"
)

// QuestionnaireClient reads form submissions from a form-builder REST API.
// It keeps no processed state; the local seen set deduplicates.
type QuestionnaireClient struct {
	baseURL  string
	apiKey   string
	forms    []petsync.FormConfig
	fields   petsync.FieldMap
	pageSize int
	call     caller
}

// NewQuestionnaireClient creates a questionnaire source from cfg.
func NewQuestionnaireClient(cfg petsync.QuestionnaireConfig, timeout time.Duration, logger *slog.Logger) *QuestionnaireClient {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	fields := cfg.Fields
	if fields == (petsync.FieldMap{}) {
		fields = petsync.DefaultFieldMap()
	}
	return &QuestionnaireClient{
		baseURL:  strings.TrimSuffix(cfg.URL, "/"),
		apiKey:   cfg.APIKey,
		forms:    cfg.Forms,
		fields:   fields,
		pageSize: pageSize,
		call:     newCaller(timeout, logger, nil),
	}
}

// WithHTTPClient sets a custom http.Client.
func (c *QuestionnaireClient) WithHTTPClient(hc *http.Client) *QuestionnaireClient {
	c.call.httpClient = hc
	return c
}

// Source implements petsync.SubmissionSource.
func (c *QuestionnaireClient) Source() petsync.Source { return petsync.SourceQuestionnaire }

// Fetch returns the active submissions of every configured form, oldest first.
func (c *QuestionnaireClient) Fetch(ctx context.Context) (petsync.FetchResult, error) {
	var res petsync.FetchResult
	for _, form := range c.forms {
		subs, err := c.fetchForm(ctx, form.ID)
		if err != nil {
			return petsync.FetchResult{}, fmt.Errorf("form %s: %w", form.ID, err)
		}
		res.Submissions = append(res.Submissions, subs...)
	}
	sort.SliceStable(res.Submissions, func(i, j int) bool {
		return res.Submissions[i].CreatedAt.Before(res.Submissions[j].CreatedAt)
	})
	return res, nil
}

func (c *QuestionnaireClient) fetchForm(ctx context.Context, formID string) ([]petsync.Submission, error) {
	var out []petsync.Submission
	for offset := 0; ; offset += c.pageSize {
		q := url.Values{}
		q.Set("apiKey", c.apiKey)
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("orderby", "created_at")
		u := c.baseURL + "/form/" + url.PathEscape(formID) + "/submissions?" + q.Encode()

		body, _, err := c.call.do(ctx, "fetch_submissions", http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		var page submissionsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &petsync.SyncError{Operation: "fetch_submissions", Err: err}
		}
		for _, raw := range page.Content {
			if raw.Status != "" && raw.Status != "ACTIVE" {
				continue
			}
			out = append(out, c.submission(formID, raw))
		}
		if len(page.Content) < c.pageSize {
			return out, nil
		}
	}
}

type submissionsResponse struct {
	ResponseCode int             `json:"responseCode"`
	Content      []rawSubmission `json:"content"`
}

type rawSubmission struct {
	ID        string               `json:"id"`
	FormID    string               `json:"form_id"`
	CreatedAt string               `json:"created_at"`
	Status    string               `json:"status"`
	Answers   map[string]rawAnswer `json:"answers"`
}

type rawAnswer struct {
	Name         string          `json:"name"`
	Text         string          `json:"text"`
	Type         string          `json:"type"`
	Order        string          `json:"order"`
	Answer       json.RawMessage `json:"answer"`
	PrettyFormat string          `json:"prettyFormat"`
}

// text renders an answer as a single display string.
func (a rawAnswer) text() string {
	if a.PrettyFormat != "" {
		return strings.TrimSpace(a.PrettyFormat)
	}
	if len(a.Answer) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.Answer, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(a.Answer, &list); err == nil {
		return strings.Join(list, ", ")
	}
	var parts map[string]string
	if err := json.Unmarshal(a.Answer, &parts); err == nil {
		keys := make([]string, 0, len(parts))
		for k := range parts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make([]string, 0, len(keys))
		for _, k := range keys {
			if v := strings.TrimSpace(parts[k]); v != "" {
				vals = append(vals, v)
			}
		}
		return strings.Join(vals, " ")
	}
	return strings.TrimSpace(string(a.Answer))
}

func (a rawAnswer) parts() map[string]string {
	var parts map[string]string
	if err := json.Unmarshal(a.Answer, &parts); err != nil {
		return nil
	}
	return parts
}

func (a rawAnswer) order() int {
	n, _ := strconv.Atoi(a.Order)
	return n
}

func (c *QuestionnaireClient) submission(formID string, raw rawSubmission) petsync.Submission {
	byName := make(map[string]rawAnswer, len(raw.Answers))
	keys := make([]string, 0, len(raw.Answers))
	for k, a := range raw.Answers {
		byName[a.Name] = a
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, oj := raw.Answers[keys[i]].order(), raw.Answers[keys[j]].order()
		if oi != oj {
			return oi < oj
		}
		return keys[i] < keys[j]
	})

	get := func(name string) string {
		if name == "" {
			return ""
		}
		return byName[name].text()
	}

	sub := petsync.Submission{
		Source:    petsync.SourceQuestionnaire,
		ID:        raw.ID,
		FormID:    formID,
		CreatedAt: parseTimestamp(raw.CreatedAt),
		Pet: petsync.PetFields{
			Name:    get(c.fields.PetName),
			Species: get(c.fields.PetSpecies),
			Breed:   get(c.fields.PetBreed),
			Sex:     get(c.fields.PetSex),
			Age:     get(c.fields.PetAge),
			Weight:  get(c.fields.PetWeight),
		},
	}

	name := byName[c.fields.Name]
	if p := name.parts(); p != nil {
		sub.Client.FirstName = strings.TrimSpace(p["first"])
		sub.Client.LastName = strings.TrimSpace(p["last"])
	} else {
		sub.Client.FirstName, sub.Client.LastName = petsync.SplitName(name.text())
	}
	sub.Client.Email = get(c.fields.Email)
	sub.Client.Mobile = get(c.fields.Mobile)

	addr := byName[c.fields.Address]
	if p := addr.parts(); p != nil {
		sub.Client.Street = strings.TrimSpace(strings.Join(nonEmpty(p["addr_line1"], p["addr_line2"]), ", "))
		sub.Client.City = strings.TrimSpace(p["city"])
		sub.Client.State = strings.TrimSpace(p["state"])
		sub.Client.Postcode = strings.TrimSpace(p["postal"])
	} else {
		sub.Client.Address = addr.text()
	}

	for _, k := range keys {
		a := raw.Answers[k]
		if a.Type == "control_head" || a.Type == "control_button" || a.Type == "control_text" {
			continue
		}
		if a.Type == "control_fileupload" {
			sub.Attachments = append(sub.Attachments, uploads(a)...)
			continue
		}
		text := a.text()
		if text == "" {
			continue
		}
		sub.Answers = append(sub.Answers, petsync.Answer{Key: a.Name, Question: a.Text, Answer: text})
	}
	return sub
}

func uploads(a rawAnswer) []petsync.Attachment {
	var urls []string
	if err := json.Unmarshal(a.Answer, &urls); err != nil {
		var one string
		if err := json.Unmarshal(a.Answer, &one); err != nil || one == "" {
			return nil
		}
		urls = []string{one}
	}
	out := make([]petsync.Attachment, 0, len(urls))
	for _, u := range urls {
		name := u
		if parsed, err := url.Parse(u); err == nil {
			name = path.Base(parsed.Path)
		}
		out = append(out, petsync.Attachment{URL: u, FileName: name})
	}
	return out
}

func nonEmpty(vals ...string) []string {
	out := vals[:0]
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}
