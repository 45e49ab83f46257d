package mcp_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/petsync"
	petsyncmcp "github.com/hyperengineering/petsync/mcp"
)

type bookings struct {
	subs   []petsync.Submission
	marked map[string]bool
}

func (b *bookings) Source() petsync.Source { return petsync.SourceBooking }

func (b *bookings) Fetch(ctx context.Context) (petsync.FetchResult, error) {
	var out []petsync.Submission
	for _, s := range b.subs {
		s.RemoteProcessed = b.marked[s.ID]
		out = append(out, s)
	}
	return petsync.FetchResult{Submissions: out}, nil
}

func (b *bookings) MarkProcessed(ctx context.Context, id string) error {
	b.marked[id] = true
	return nil
}

type forms struct{ subs []petsync.Submission }

func (f forms) Source() petsync.Source { return petsync.SourceQuestionnaire }

func (f forms) Fetch(ctx context.Context) (petsync.FetchResult, error) {
	return petsync.FetchResult{Submissions: f.subs}, nil
}

func newServer(t *testing.T) (*petsyncmcp.Server, *petsync.Service) {
	t.Helper()
	dir := t.TempDir()
	when := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	b := &bookings{
		marked: map[string]bool{},
		subs: []petsync.Submission{{
			ID:          "1",
			Reference:   "PBS-0001",
			CreatedAt:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
			Client:      petsync.ContactFields{FirstName: "Jane", LastName: "Smith", Email: "jane@example.com", Mobile: "0412 345 678"},
			Pet:         petsync.PetFields{Name: "Rex", Species: "Dog"},
			ServiceType: "Behaviour consultation",
			ServiceDate: &when,
		}},
	}
	f := forms{subs: []petsync.Submission{{
		ID:        "5912345678",
		FormID:    "240",
		CreatedAt: time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC),
		Client:    petsync.ContactFields{FirstName: "Jane", LastName: "Smith", Email: "jane@example.com", Address: "1 Main St, Springfield, VIC, 3000"},
		Pet:       petsync.PetFields{Name: "Rex", Breed: "Labrador"},
	}}}

	client, err := petsync.New(petsync.Config{
		LocalPath:         filepath.Join(dir, "records.db"),
		ClientRecordsRoot: filepath.Join(dir, "Client_Records"),
		Import:            petsync.ImportConfig{AutoProvisionFolders: true},
	},
		petsync.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		petsync.WithBookingSource(b),
		petsync.WithQuestionnaireSource(f),
	)
	if err != nil {
		t.Fatalf("petsync.New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return petsyncmcp.NewServer(client), client
}

func call(t *testing.T, s *petsyncmcp.Server, name string, args map[string]any) *petsyncmcp.ToolResult {
	t.Helper()
	res, err := s.CallTool(context.Background(), name, args)
	if err != nil {
		t.Fatalf("CallTool(%s) returned error: %v", name, err)
	}
	return res
}

func TestServer_ToolsList(t *testing.T) {
	s, _ := newServer(t)

	want := []string{"petsync_sync", "petsync_submissions", "petsync_reconcile", "petsync_apply", "petsync_stats"}
	got := map[string]bool{}
	for _, tool := range s.ListTools() {
		got[tool.Name] = true
	}
	if len(got) != len(want) {
		t.Errorf("ListTools() returned %d tools, want %d", len(got), len(want))
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestTool_Unknown(t *testing.T) {
	s, _ := newServer(t)
	res := call(t, s, "petsync_nope", nil)
	if !res.IsError || !strings.Contains(res.Content, "unknown tool") {
		t.Errorf("result = %+v, want unknown tool error", res)
	}
}

func TestTool_Sync(t *testing.T) {
	s, _ := newServer(t)

	res := call(t, s, "petsync_sync", map[string]any{"source": "everything"})
	if !res.IsError {
		t.Error("invalid source should be a tool error")
	}

	res = call(t, s, "petsync_sync", map[string]any{})
	if res.IsError {
		t.Fatalf("sync failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "booking sync") || !strings.Contains(res.Content, "questionnaire sync") {
		t.Errorf("content missing a source report:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "1 imported") {
		t.Errorf("content = %q, want imported counts", res.Content)
	}

	res = call(t, s, "petsync_sync", map[string]any{"source": "bookings"})
	if res.IsError || !strings.Contains(res.Content, "1 skipped") {
		t.Errorf("rerun = %+v, want skipped booking", res)
	}
}

func TestTool_ReconcileAndApply(t *testing.T) {
	s, client := newServer(t)
	ctx := context.Background()
	if res := call(t, s, "petsync_sync", nil); res.IsError {
		t.Fatalf("sync failed: %s", res.Content)
	}

	clients, err := client.Store().Repos().Clients.List(ctx, 10)
	if err != nil || len(clients) != 1 {
		t.Fatalf("List() = %v, %v", clients, err)
	}
	id := float64(clients[0].ID)

	moved := clients[0]
	moved.StreetAddress, moved.City, moved.State = "9 Old Rd", "Oldtown", "NSW"
	if err := client.Store().Repos().Clients.Update(ctx, &moved); err != nil {
		t.Fatal(err)
	}

	res := call(t, s, "petsync_submissions", map[string]any{"client_id": id})
	if res.IsError || !strings.Contains(res.Content, "1 stored submission") {
		t.Fatalf("submissions = %+v", res)
	}
	items, err := client.Submissions(ctx, clients[0].ID)
	if err != nil || len(items) != 1 {
		t.Fatalf("Submissions() = %v, %v", items, err)
	}
	name := items[0].Name

	if res := call(t, s, "petsync_reconcile", map[string]any{"client_id": id}); !res.IsError {
		t.Error("reconcile without path should be a tool error")
	}
	res = call(t, s, "petsync_reconcile", map[string]any{"client_id": id, "path": name})
	if res.IsError {
		t.Fatalf("reconcile failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "streetAddress [different]") {
		t.Errorf("reconcile content missing changed address:\n%s", res.Content)
	}

	if res := call(t, s, "petsync_apply", map[string]any{"client_id": id, "path": name}); !res.IsError {
		t.Error("apply without fields should be a tool error")
	}
	res = call(t, s, "petsync_apply", map[string]any{
		"client_id":     id,
		"path":          name,
		"client_fields": []any{"streetAddress", "city"},
	})
	if res.IsError {
		t.Fatalf("apply failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "streetAddress, city") {
		t.Errorf("apply content = %q", res.Content)
	}

	got, err := client.Store().Repos().Clients.Get(ctx, clients[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StreetAddress != "1 Main St" || got.City != "Springfield" {
		t.Errorf("address = %q, %q", got.StreetAddress, got.City)
	}
	if got.State != "NSW" {
		t.Errorf("State = %q, unselected field should be untouched", got.State)
	}
}

func TestTool_Stats(t *testing.T) {
	s, _ := newServer(t)
	res := call(t, s, "petsync_stats", nil)
	if res.IsError || !strings.Contains(res.Content, "Clients: 0") {
		t.Errorf("stats = %+v", res)
	}
}

func TestServer_HandleMessage_ToolsList(t *testing.T) {
	s, _ := newServer(t)
	ctx := context.Background()

	s.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0.0"}}}`))
	resp := s.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`))
	if resp == nil {
		t.Fatal("HandleMessage() returned nil")
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var body struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(body.Result.Tools) != 5 {
		t.Errorf("tools/list returned %d tools, want 5", len(body.Result.Tools))
	}
}
