package petsync_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/petsync"
)

const sampleRules = `
rules:
  - name: questionnaire-review
    trigger: event.created
    when:
      event_type: QuestionnaireReceived
    actions:
      - create_task:
          description: Review returned questionnaire
          kind: questionnaire-review
          priority: 2
          offset: 1 day after
      - create_event:
          event_type: Note
          notes: Questionnaire queued for review
          link_parent: true
  - name: paused
    trigger: client.created
    enabled: false
    actions:
      - create_task:
          description: Welcome call
`

func TestParseRules(t *testing.T) {
	rules, err := petsync.ParseRules([]byte(sampleRules), "rules.yaml")
	if err != nil {
		t.Fatalf("ParseRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
	r := rules[0]
	if r.Trigger != petsync.TriggerEventCreated || !r.Enabled || r.Origin != "rules.yaml" || len(r.Actions) != 2 {
		t.Errorf("rule 0 = %+v", r)
	}
	if rules[1].Enabled {
		t.Error("rule 1 enabled, want disabled")
	}

	w := &memWriter{}
	engine := petsync.NewEngine(w, quietLogger(), rules...)
	engine.OnEntityCreated(context.Background(), &petsync.Event{ID: 4, ClientID: 2, Type: petsync.EventQuestionnaireReceived, Date: testNow})
	if len(w.tasks) != 1 || !w.tasks[0].DueDate.Equal(testNow.Add(24*time.Hour)) || w.tasks[0].Priority != 2 {
		t.Errorf("tasks = %+v", w.tasks)
	}
	if len(w.events) != 1 || *w.events[0].ParentEventID != 4 {
		t.Errorf("events = %+v", w.events)
	}
}

func TestParseRules_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "rules: [", "parse rules"},
		{"no name", "rules:\n  - trigger: client.created\n    actions:\n      - create_task: {description: x}\n", "name is required"},
		{"bad trigger", "rules:\n  - name: a\n    trigger: invoice.paid\n    actions:\n      - create_task: {description: x}\n", "unknown trigger"},
		{"no actions", "rules:\n  - name: a\n    trigger: client.created\n", "at least one action"},
		{"bad offset", "rules:\n  - name: a\n    trigger: client.created\n    actions:\n      - create_task: {description: x, offset: whenever}\n", "invalid offset"},
		{"both kinds", "rules:\n  - name: a\n    trigger: client.created\n    actions:\n      - create_task: {description: x}\n        create_event: {event_type: Note}\n", "not both"},
		{"event condition on client trigger", "rules:\n  - name: a\n    trigger: client.created\n    when: {event_type: Booking}\n    actions:\n      - create_task: {description: x}\n", "needs an event trigger"},
		{"duplicate", "rules:\n  - name: a\n    trigger: client.created\n    actions:\n      - create_task: {description: x}\n  - name: a\n    trigger: pet.created\n    actions:\n      - create_task: {description: y}\n", "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := petsync.ParseRules([]byte(tt.yaml), "test")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseRules() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadRules_MissingFile(t *testing.T) {
	rules, err := petsync.LoadRules(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil || rules != nil {
		t.Errorf("LoadRules(missing) = %v, %v; want nil, nil", rules, err)
	}
}

func TestWatchRules_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- petsync.WatchRules(ctx, path, func() error {
			reloaded <- struct{}{}
			return nil
		}, quietLogger())
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(sampleRules), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("reload not called after write")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("WatchRules returned %v", err)
	}
}
