package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/petsync"
)

const formJSON = `{"responseCode": 200, "content": [
  {"id": "5901", "form_id": "dogform", "created_at": "2026-03-05 10:00:00", "status": "ACTIVE",
   "answers": {
     "3": {"name": "clientName", "text": "Your name", "type": "control_fullname", "order": "1",
           "answer": {"first": "Jane", "last": "Smith"}, "prettyFormat": "Jane Smith"},
     "4": {"name": "email", "text": "Email", "type": "control_email", "order": "2", "answer": "jane@example.com"},
     "5": {"name": "address", "text": "Address", "type": "control_address", "order": "3",
           "answer": {"addr_line1": "1 Main St", "addr_line2": "", "city": "Springfield", "state": "VIC", "postal": "3000"}},
     "6": {"name": "petName", "text": "Dog's name", "type": "control_textbox", "order": "4", "answer": "Rex"},
     "7": {"name": "sex", "text": "Sex", "type": "control_dropdown", "order": "5", "answer": "Male - Neutered"},
     "8": {"name": "age", "text": "Age", "type": "control_textbox", "order": "6", "answer": "3 years"},
     "9": {"name": "upload", "text": "Vet records", "type": "control_fileupload", "order": "7",
           "answer": ["https://files.example.com/u/records.pdf"]},
     "10": {"name": "heading", "text": "About you", "type": "control_head", "order": "0"}
   }},
  {"id": "5902", "form_id": "dogform", "created_at": "2026-03-04 10:00:00", "status": "DELETED", "answers": {}}
]}`

func TestQuestionnaireClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/form/dogform/submissions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("apiKey") != "form-key" {
			t.Errorf("apiKey = %q", r.URL.Query().Get("apiKey"))
		}
		_, _ = w.Write([]byte(formJSON))
	}))
	defer server.Close()

	cfg := petsync.QuestionnaireConfig{
		URL:    server.URL,
		APIKey: "form-key",
		Forms:  []petsync.FormConfig{{ID: "dogform", Species: "Dog"}},
	}
	res, err := NewQuestionnaireClient(cfg, time.Second, nil).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(res.Submissions) != 1 {
		t.Fatalf("len(Submissions) = %d, want 1 (deleted skipped)", len(res.Submissions))
	}

	sub := res.Submissions[0]
	if sub.Source != petsync.SourceQuestionnaire || sub.ID != "5901" || sub.FormID != "dogform" {
		t.Errorf("identity = %s/%s/%s", sub.Source, sub.ID, sub.FormID)
	}
	if sub.Client.FirstName != "Jane" || sub.Client.LastName != "Smith" {
		t.Errorf("name = %q %q", sub.Client.FirstName, sub.Client.LastName)
	}
	if sub.Client.Street != "1 Main St" || sub.Client.City != "Springfield" || sub.Client.Postcode != "3000" {
		t.Errorf("address = %+v", sub.Client)
	}
	if sub.Pet.Name != "Rex" || sub.Pet.Sex != "Male - Neutered" || sub.Pet.Age != "3 years" {
		t.Errorf("pet = %+v", sub.Pet)
	}
	if len(sub.Attachments) != 1 || sub.Attachments[0].FileName != "records.pdf" {
		t.Errorf("Attachments = %+v", sub.Attachments)
	}
	if len(sub.Answers) != 6 {
		t.Errorf("len(Answers) = %d, want 6", len(sub.Answers))
	}
	if sub.Answers[0].Key != "clientName" {
		t.Errorf("first answer = %q, want clientName (ordered)", sub.Answers[0].Key)
	}
	if err := sub.Validate(); err != nil {
		t.Errorf("parsed submission invalid: %v", err)
	}
}

// TestQuestionnaireClient_Paging verifies pages are requested until a short page.
func TestQuestionnaireClient_Paging(t *testing.T) {
	var offsets []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		off := r.URL.Query().Get("offset")
		offsets = append(offsets, off)
		if off == "0" {
			_, _ = fmt.Fprint(w, `{"content": [
				{"id": "1", "created_at": "2026-01-01 00:00:00", "answers": {}},
				{"id": "2", "created_at": "2026-01-02 00:00:00", "answers": {}}]}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"content": [{"id": "3", "created_at": "2026-01-03 00:00:00", "answers": {}}]}`)
	}))
	defer server.Close()

	cfg := petsync.QuestionnaireConfig{
		URL: server.URL, APIKey: "k", PageSize: 2,
		Forms: []petsync.FormConfig{{ID: "f", Species: "Cat"}},
	}
	res, err := NewQuestionnaireClient(cfg, time.Second, nil).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(res.Submissions) != 3 {
		t.Errorf("len(Submissions) = %d, want 3", len(res.Submissions))
	}
	if len(offsets) != 2 || offsets[1] != "2" {
		t.Errorf("offsets = %v, want [0 2]", offsets)
	}
}

func TestDownloader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer server.Close()

	dir := t.TempDir()
	d := NewDownloader(time.Second, nil)

	dest := filepath.Join(dir, "referral.pdf")
	if err := d.Download(context.Background(), server.URL+"/ok", dest); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "%PDF-1.4" {
		t.Errorf("downloaded = %q, %v", data, err)
	}

	missing := filepath.Join(dir, "missing.pdf")
	if err := d.Download(context.Background(), server.URL+"/missing", missing); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("failed download left a file behind")
	}

	noParent := filepath.Join(dir, "nope", "x.pdf")
	if err := d.Download(context.Background(), server.URL+"/ok", noParent); err == nil {
		t.Error("expected error when parent directory is missing")
	}
}

func TestOptions(t *testing.T) {
	cfg := petsync.DefaultConfig()
	if got := Options(cfg, nil); len(got) != 0 {
		t.Errorf("Options with no sources = %d, want 0", len(got))
	}
	cfg.Booking = petsync.BookingConfig{URL: "https://db.example.com", APIKey: "k"}
	if got := Options(cfg, nil); len(got) != 2 {
		t.Errorf("Options with bookings = %d, want 2", len(got))
	}
}
