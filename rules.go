package petsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ruleFile is the YAML layout of a rules file.
//
//	rules:
//	  - name: questionnaire-review
//	    trigger: event.created
//	    when:
//	      event_type: QuestionnaireReceived
//	    actions:
//	      - create_task:
//	          description: Review returned questionnaire
//	          kind: questionnaire-review
//	          priority: 2
//	          offset: 1 day after
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Name    string       `yaml:"name"`
	Trigger string       `yaml:"trigger"`
	Enabled *bool        `yaml:"enabled"`
	When    whenSpec     `yaml:"when"`
	Actions []actionSpec `yaml:"actions"`
}

type whenSpec struct {
	EventType string `yaml:"event_type"`
}

type actionSpec struct {
	CreateTask  *taskSpec  `yaml:"create_task"`
	CreateEvent *eventSpec `yaml:"create_event"`
}

type taskSpec struct {
	Description string `yaml:"description"`
	Kind        string `yaml:"kind"`
	Priority    int    `yaml:"priority"`
	Offset      string `yaml:"offset"`
}

type eventSpec struct {
	EventType  string `yaml:"event_type"`
	Notes      string `yaml:"notes"`
	Offset     string `yaml:"offset"`
	LinkParent bool   `yaml:"link_parent"`
}

// ParseRules decodes declarative rules from YAML. origin is recorded on
// each rule.
func ParseRules(data []byte, origin string) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := make([]Rule, 0, len(f.Rules))
	seen := map[string]bool{}
	for i, spec := range f.Rules {
		r, err := spec.build(origin)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i+1, spec.Name, err)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("rule %d: duplicate name %q", i+1, r.Name)
		}
		seen[r.Name] = true
		rules = append(rules, r)
	}
	return rules, nil
}

func (s ruleSpec) build(origin string) (Rule, error) {
	if strings.TrimSpace(s.Name) == "" {
		return Rule{}, errors.New("name is required")
	}
	trigger := Trigger(s.Trigger)
	if !trigger.IsValid() {
		return Rule{}, fmt.Errorf("unknown trigger %q", s.Trigger)
	}
	if len(s.Actions) == 0 {
		return Rule{}, errors.New("at least one action is required")
	}

	r := Rule{
		Name:    s.Name,
		Trigger: trigger,
		Enabled: s.Enabled == nil || *s.Enabled,
		Origin:  origin,
	}
	if s.When.EventType != "" {
		if trigger != TriggerEventCreated && trigger != TriggerEventUpdated {
			return Rule{}, fmt.Errorf("when.event_type needs an event trigger, got %q", s.Trigger)
		}
		r.Condition = EventTypeIs(EventType(s.When.EventType))
	}

	for i, a := range s.Actions {
		switch {
		case a.CreateTask != nil && a.CreateEvent != nil:
			return Rule{}, fmt.Errorf("action %d: set create_task or create_event, not both", i+1)
		case a.CreateTask != nil:
			t := a.CreateTask
			if t.Description == "" {
				return Rule{}, fmt.Errorf("action %d: description is required", i+1)
			}
			act := CreateTaskAction{Description: t.Description, Kind: t.Kind, Priority: t.Priority}
			if t.Offset != "" {
				off, err := ParseOffset(t.Offset)
				if err != nil {
					return Rule{}, fmt.Errorf("action %d: %w", i+1, err)
				}
				act.Offset = &off
			}
			r.Actions = append(r.Actions, act)
		case a.CreateEvent != nil:
			e := a.CreateEvent
			if e.EventType == "" {
				return Rule{}, fmt.Errorf("action %d: event_type is required", i+1)
			}
			off, err := ParseOffset(e.Offset)
			if err != nil {
				return Rule{}, fmt.Errorf("action %d: %w", i+1, err)
			}
			r.Actions = append(r.Actions, CreateEventAction{
				Type:       EventType(e.EventType),
				Notes:      e.Notes,
				Offset:     off,
				LinkParent: e.LinkParent,
			})
		default:
			return Rule{}, fmt.Errorf("action %d: empty action", i+1)
		}
	}
	return r, nil
}

// LoadRules reads a rules file. A missing file yields no rules.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data, path)
}

// WatchRules calls reload whenever the rules file at path changes. It
// blocks until ctx is done. A failed reload is logged and the watch goes on.
func WatchRules(ctx context.Context, path string, reload func() error, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if err := reload(); err != nil {
				logger.Error("reload rules failed", slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			logger.Info("rules reloaded", slog.String("path", path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("rules watcher error", slog.String("error", err.Error()))
		}
	}
}
