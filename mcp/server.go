package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hyperengineering/petsync"
)

// Server wraps the MCP server with petsync tools.
type Server struct {
	client    *petsync.Service
	mcpServer *server.MCPServer
}

// ToolResult represents the result of a tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolInfo represents a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates a new MCP server with petsync tools registered.
func NewServer(client *petsync.Service) *Server {
	s := &Server{client: client}

	s.mcpServer = server.NewMCPServer(
		"petsync",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()

	return s
}

// Run serves MCP over stdin and stdout.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// HandleMessage processes a raw JSON-RPC message and returns a response.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "petsync_sync", Description: "Import new booking or questionnaire submissions into the local records"},
		{Name: "petsync_submissions", Description: "List the submission files stored in a client's folder"},
		{Name: "petsync_reconcile", Description: "Compare a stored submission against the client's current records"},
		{Name: "petsync_apply", Description: "Write selected fields from a stored submission to the client or pet"},
		{Name: "petsync_stats", Description: "Show record counts and last sync times"},
	}
}

// CallTool executes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case "petsync_sync":
		return s.handleSync(ctx, args)
	case "petsync_submissions":
		return s.handleSubmissions(ctx, args)
	case "petsync_reconcile":
		return s.handleReconcile(ctx, args)
	case "petsync_apply":
		return s.handleApply(ctx, args)
	case "petsync_stats":
		return s.handleStats(ctx, args)
	default:
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("petsync_sync",
		mcp.WithDescription("Import new submissions from the remote booking form, the questionnaire forms, or both. Each submission is imported at most once; the result lists per-submission outcomes."),
		mcp.WithString("source",
			mcp.Description("Source to sync: bookings, questionnaires or all (default: all)"),
		),
	), s.wrap(s.handleSync))

	s.mcpServer.AddTool(mcp.NewTool("petsync_submissions",
		mcp.WithDescription("List the submission files stored in a client's folder, newest first. File names can be passed to petsync_reconcile."),
		mcp.WithNumber("client_id",
			mcp.Description("Local client id"),
			mcp.Required(),
		),
	), s.wrap(s.handleSubmissions))

	s.mcpServer.AddTool(mcp.NewTool("petsync_reconcile",
		mcp.WithDescription("Compare a stored submission against the client's and pet's current records. Each field is reported as match, new, missing or different."),
		mcp.WithNumber("client_id",
			mcp.Description("Local client id"),
			mcp.Required(),
		),
		mcp.WithString("path",
			mcp.Description("Submission file name in the client folder, or an absolute path inside it"),
			mcp.Required(),
		),
	), s.wrap(s.handleReconcile))

	s.mcpServer.AddTool(mcp.NewTool("petsync_apply",
		mcp.WithDescription("Write exactly the selected fields from a stored submission to the client and pet. Unselected fields are left untouched."),
		mcp.WithNumber("client_id",
			mcp.Description("Local client id"),
			mcp.Required(),
		),
		mcp.WithString("path",
			mcp.Description("Submission file name in the client folder, or an absolute path inside it"),
			mcp.Required(),
		),
		mcp.WithArray("client_fields",
			mcp.Description("Client fields to apply: firstName, lastName, email, mobile, streetAddress, city, state, postcode"),
			mcp.WithStringItems(),
		),
		mcp.WithArray("pet_fields",
			mcp.Description("Pet fields to apply: name, species, breed, sex"),
			mcp.WithStringItems(),
		),
		mcp.WithNumber("pet_id",
			mcp.Description("Local pet id (default: matched by name; created when absent)"),
		),
	), s.wrap(s.handleApply))

	s.mcpServer.AddTool(mcp.NewTool("petsync_stats",
		mcp.WithDescription("Show record counts, open tasks, schema version and last sync times."),
	), s.wrap(s.handleStats))
}

func (s *Server) wrap(h func(context.Context, map[string]any) (*ToolResult, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := h(ctx, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return toMCPResult(result), nil
	}
}

func toMCPResult(r *ToolResult) *mcp.CallToolResult {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: r.Content,
			},
		},
	}
	if r.IsError {
		result.IsError = true
	}
	return result
}

func (s *Server) handleSync(ctx context.Context, args map[string]any) (*ToolResult, error) {
	name, _ := args["source"].(string)
	if name == "" || name == "all" {
		reports, err := s.client.SyncAll(ctx)
		if err != nil && len(reports) == 0 {
			return &ToolResult{Content: fmt.Sprintf("sync failed: %v", err), IsError: true}, nil
		}
		var b strings.Builder
		for _, r := range reports {
			b.WriteString(formatReport(r))
		}
		if err != nil {
			fmt.Fprintf(&b, "\nSome sources failed: %v\n", err)
		}
		return &ToolResult{Content: b.String()}, nil
	}

	source, err := petsync.ParseSource(name)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}
	report, err := s.client.Sync(ctx, source)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("sync failed: %v", err), IsError: true}, nil
	}
	return &ToolResult{Content: formatReport(report)}, nil
}

func (s *Server) handleSubmissions(ctx context.Context, args map[string]any) (*ToolResult, error) {
	id, ok := toID(args["client_id"])
	if !ok {
		return &ToolResult{Content: "client_id is required", IsError: true}, nil
	}
	items, err := s.client.Submissions(ctx, id)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("list submissions failed: %v", err), IsError: true}, nil
	}
	if len(items) == 0 {
		return &ToolResult{Content: "No stored submissions for this client."}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d stored submission(s):\n", len(items))
	for _, it := range items {
		fmt.Fprintf(&b, "- %s (%s %s)\n", it.Name, it.Source, it.Key)
	}
	return &ToolResult{Content: b.String()}, nil
}

func (s *Server) handleReconcile(ctx context.Context, args map[string]any) (*ToolResult, error) {
	id, ok := toID(args["client_id"])
	if !ok {
		return &ToolResult{Content: "client_id is required", IsError: true}, nil
	}
	path, _ := args["path"].(string)
	if path == "" {
		return &ToolResult{Content: "path is required", IsError: true}, nil
	}
	res, err := s.client.Reconcile(ctx, id, path)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("reconcile failed: %v", err), IsError: true}, nil
	}
	return &ToolResult{Content: formatReconcile(res)}, nil
}

func (s *Server) handleApply(ctx context.Context, args map[string]any) (*ToolResult, error) {
	id, ok := toID(args["client_id"])
	if !ok {
		return &ToolResult{Content: "client_id is required", IsError: true}, nil
	}
	path, _ := args["path"].(string)
	if path == "" {
		return &ToolResult{Content: "path is required", IsError: true}, nil
	}
	req := petsync.ApplyRequest{
		ClientID: id,
		Path:     path,
		Client:   toStringSlice(args["client_fields"]),
		Pet:      toStringSlice(args["pet_fields"]),
	}
	if len(req.Client) == 0 && len(req.Pet) == 0 {
		return &ToolResult{Content: "at least one of client_fields or pet_fields must be provided", IsError: true}, nil
	}
	if petID, ok := toID(args["pet_id"]); ok {
		req.PetID = &petID
	}

	res, err := s.client.Apply(ctx, req)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("apply failed: %v", err), IsError: true}, nil
	}

	var b strings.Builder
	if len(req.Client) > 0 {
		fmt.Fprintf(&b, "Updated client %d: %s\n", res.Client.ID, strings.Join(req.Client, ", "))
	}
	if res.Pet != nil {
		verb := "Updated"
		if res.PetCreated {
			verb = "Created"
		}
		fmt.Fprintf(&b, "%s pet %d (%s): %s\n", verb, res.Pet.ID, res.Pet.Name, strings.Join(req.Pet, ", "))
	}
	return &ToolResult{Content: b.String()}, nil
}

func (s *Server) handleStats(ctx context.Context, _ map[string]any) (*ToolResult, error) {
	st, err := s.client.Stats(ctx)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("stats failed: %v", err), IsError: true}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Clients: %d\nPets: %d\nEvents: %d\nTasks: %d (%d open)\nProcessed submissions: %d\nSchema version: %s\n",
		st.Clients, st.Pets, st.Events, st.Tasks, st.OpenTasks, st.Processed, st.SchemaVersion)
	sources := make([]string, 0, len(st.LastSync))
	for src := range st.LastSync {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		fmt.Fprintf(&b, "Last %s sync: %s\n", src, st.LastSync[src])
	}
	return &ToolResult{Content: b.String()}, nil
}

func formatReport(r *petsync.SyncReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s sync %s: %d total, %d imported, %d failed, %d skipped\n",
		r.Source, r.RunID, r.Total, r.Successful, r.Failed, r.Skipped)
	if r.Degraded {
		b.WriteString("  (remote processed flag unavailable; deduplicated locally)\n")
	}
	for _, res := range r.Results {
		switch {
		case res.Skipped:
			continue
		case res.Success:
			fmt.Fprintf(&b, "  ok   %s client=%d", res.SubmissionID, res.ClientID)
			if res.EventID != 0 {
				fmt.Fprintf(&b, " event=%d", res.EventID)
			}
			b.WriteString("\n")
		default:
			fmt.Fprintf(&b, "  fail %s [%s] %s\n", res.SubmissionID, res.ErrorKind, res.Error)
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "       warning: %s\n", w)
		}
	}
	return b.String()
}

func formatReconcile(r *petsync.ReconcileResult) string {
	var b strings.Builder
	if !r.HasChanges() {
		b.WriteString("No changes: the stored submission matches the current records.\n")
	}
	writeSection := func(title string, rows []petsync.FieldComparison) {
		if len(rows) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s:\n", title)
		for _, c := range rows {
			note := ""
			if c.Informational {
				note = " (reference only)"
			}
			fmt.Fprintf(&b, "- %s [%s]%s: current=%q incoming=%q\n", c.Field, c.Status, note, c.CurrentValue, c.IncomingValue)
		}
	}
	writeSection("Client", r.ClientComparisons)
	if r.PetID == nil && len(r.PetComparisons) > 0 {
		b.WriteString("\nNo matching pet; applying pet fields will create one.\n")
	}
	writeSection("Pet", r.PetComparisons)
	return b.String()
}

func toID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n > 0 && n == float64(int64(n)) {
			return int64(n), true
		}
	case int:
		if n > 0 {
			return int64(n), true
		}
	case int64:
		if n > 0 {
			return n, true
		}
	}
	return 0, false
}

func toStringSlice(v any) []string {
	if v == nil {
		return nil
	}

	switch arr := v.(type) {
	case []string:
		return arr
	case []any:
		result := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}
