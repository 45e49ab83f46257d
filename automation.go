package petsync

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Trigger names an entity write that automation can react to.
type Trigger string

const (
	TriggerClientCreated Trigger = "client.created"
	TriggerClientUpdated Trigger = "client.updated"
	TriggerPetCreated    Trigger = "pet.created"
	TriggerPetUpdated    Trigger = "pet.updated"
	TriggerEventCreated  Trigger = "event.created"
	TriggerEventUpdated  Trigger = "event.updated"
	TriggerTaskCreated   Trigger = "task.created"
)

// ValidTriggers returns every trigger rules may bind to.
func ValidTriggers() []Trigger {
	return []Trigger{
		TriggerClientCreated, TriggerClientUpdated,
		TriggerPetCreated, TriggerPetUpdated,
		TriggerEventCreated, TriggerEventUpdated,
		TriggerTaskCreated,
	}
}

// IsValid reports whether t is a known trigger.
func (t Trigger) IsValid() bool {
	for _, v := range ValidTriggers() {
		if t == v {
			return true
		}
	}
	return false
}

// TriggerContext carries what actions need from the triggering entity.
type TriggerContext struct {
	Trigger   Trigger
	ClientID  int64
	PetID     int64
	EventID   int64
	EventType EventType
	// Date is the triggering event's date, or the write time for other entities.
	Date   time.Time
	Entity any
}

// Condition decides whether a rule applies.
type Condition func(TriggerContext) bool

// EventTypeIs matches triggers raised by events of type t.
func EventTypeIs(t EventType) Condition {
	return func(tc TriggerContext) bool { return tc.EventType == t }
}

// ActionWriter is the write surface automation actions use.
type ActionWriter interface {
	CreateTask(ctx context.Context, t *Task) error
	CreateEvent(ctx context.Context, e *Event) error
}

// storeWriter writes actions straight to the store, outside any import transaction.
type storeWriter struct{ s *Store }

func (w storeWriter) CreateTask(ctx context.Context, t *Task) error {
	return w.s.Repos().Tasks.Create(ctx, t)
}

func (w storeWriter) CreateEvent(ctx context.Context, e *Event) error {
	return w.s.Repos().Events.Create(ctx, e)
}

// StoreWriter returns an ActionWriter backed by s.
func StoreWriter(s *Store) ActionWriter { return storeWriter{s: s} }

// ActionOutcome identifies what an action created.
type ActionOutcome struct {
	TaskID  int64
	EventID int64
}

// Action is one step of a rule.
type Action interface {
	Describe() string
	Execute(ctx context.Context, w ActionWriter, rule string, tc TriggerContext) (ActionOutcome, error)
}

// Offset shifts a base date, e.g. "2 days before".
type Offset struct {
	Name     string
	Duration time.Duration
}

// Apply returns base shifted by the offset.
func (o Offset) Apply(base time.Time) time.Time { return base.Add(o.Duration) }

// Automated action kinds and their due-date offsets.
const (
	ActionQuestionnaireCheck = "questionnaire-check"
	ActionConsultReport      = "consult-report"
	ActionProtocolSend       = "protocol-send"
	ActionFollowUp           = "follow-up"
)

var dueOffsets = map[string]Offset{
	ActionQuestionnaireCheck: {Name: "2 days before", Duration: -48 * time.Hour},
	ActionConsultReport:      {Name: "1 day after", Duration: 24 * time.Hour},
	ActionProtocolSend:       {Name: "3 days after", Duration: 72 * time.Hour},
	ActionFollowUp:           {Name: "14 days after", Duration: 14 * 24 * time.Hour},
}

// OffsetFor returns the due-date offset of an automated action kind.
// Unknown kinds are due on the base date.
func OffsetFor(kind string) Offset {
	if o, ok := dueOffsets[kind]; ok {
		return o
	}
	return Offset{Name: "on the day"}
}

var offsetPattern = regexp.MustCompile(`^(\d+)\s+(hours?|days?|weeks?)\s+(before|after)$`)

// ParseOffset reads offsets written as "2 days before", "1 day after",
// "6 hours before" or "on the day".
func ParseOffset(s string) (Offset, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "on the day" {
		return Offset{Name: "on the day"}, nil
	}
	m := offsetPattern.FindStringSubmatch(s)
	if m == nil {
		return Offset{}, fmt.Errorf("invalid offset %q", s)
	}
	n, _ := strconv.Atoi(m[1])
	unit := time.Hour
	switch {
	case strings.HasPrefix(m[2], "day"):
		unit = 24 * time.Hour
	case strings.HasPrefix(m[2], "week"):
		unit = 7 * 24 * time.Hour
	}
	d := time.Duration(n) * unit
	if m[3] == "before" {
		d = -d
	}
	return Offset{Name: s, Duration: d}, nil
}

// CreateTaskAction schedules a task relative to the trigger date.
type CreateTaskAction struct {
	Description string
	// Kind selects the due-date offset and is stored as the task's automated action.
	Kind     string
	Priority int
	// Offset overrides the kind's offset when set.
	Offset *Offset
}

// Describe implements Action.
func (a CreateTaskAction) Describe() string { return "create task: " + a.Description }

// Execute implements Action.
func (a CreateTaskAction) Execute(ctx context.Context, w ActionWriter, rule string, tc TriggerContext) (ActionOutcome, error) {
	off := OffsetFor(a.Kind)
	if a.Offset != nil {
		off = *a.Offset
	}
	t := &Task{
		Description:     a.Description,
		DueDate:         off.Apply(tc.Date),
		Priority:        a.Priority,
		AutomatedAction: a.Kind,
		TriggeredBy:     rule,
	}
	if tc.ClientID != 0 {
		id := tc.ClientID
		t.ClientID = &id
	}
	if tc.EventID != 0 {
		id := tc.EventID
		t.EventID = &id
	}
	if err := w.CreateTask(ctx, t); err != nil {
		return ActionOutcome{}, err
	}
	return ActionOutcome{TaskID: t.ID}, nil
}

// CreateEventAction writes a derived event. Client and date come from the
// trigger unless set explicitly.
type CreateEventAction struct {
	Type     EventType
	Notes    string
	ClientID int64
	Date     *time.Time
	Offset   Offset
	// LinkParent sets the new event's parent to the triggering event.
	LinkParent bool
}

// Describe implements Action.
func (a CreateEventAction) Describe() string { return "create event: " + string(a.Type) }

// Execute implements Action.
func (a CreateEventAction) Execute(ctx context.Context, w ActionWriter, rule string, tc TriggerContext) (ActionOutcome, error) {
	clientID := a.ClientID
	if clientID == 0 {
		clientID = tc.ClientID
	}
	if clientID == 0 {
		return ActionOutcome{}, fmt.Errorf("create event: no client in context")
	}
	date := tc.Date
	if a.Date != nil {
		date = *a.Date
	}
	e := &Event{
		ClientID: clientID,
		Type:     a.Type,
		Date:     a.Offset.Apply(date),
		Notes:    a.Notes,
	}
	if a.LinkParent && tc.EventID != 0 {
		id := tc.EventID
		e.ParentEventID = &id
	}
	if err := w.CreateEvent(ctx, e); err != nil {
		return ActionOutcome{}, err
	}
	return ActionOutcome{EventID: e.ID}, nil
}

// Rule binds a condition and ordered actions to a trigger.
type Rule struct {
	Name      string
	Trigger   Trigger
	Enabled   bool
	Condition Condition
	Actions   []Action
	// Origin records where the rule was defined, e.g. "builtin" or a file path.
	Origin string
}

// RuleSummary is the printable form of a Rule.
type RuleSummary struct {
	Name    string   `json:"name"`
	Trigger Trigger  `json:"trigger"`
	Enabled bool     `json:"enabled"`
	Origin  string   `json:"origin,omitempty"`
	Actions []string `json:"actions"`
}

// Summary describes r without its condition.
func (r Rule) Summary() RuleSummary {
	s := RuleSummary{Name: r.Name, Trigger: r.Trigger, Enabled: r.Enabled, Origin: r.Origin}
	for _, a := range r.Actions {
		s.Actions = append(s.Actions, a.Describe())
	}
	return s
}

// RuleResult reports one evaluated rule.
type RuleResult struct {
	Rule       string   `json:"rule"`
	Matched    bool     `json:"matched"`
	ActionsRun int      `json:"actions_run"`
	TaskIDs    []int64  `json:"task_ids,omitempty"`
	EventIDs   []int64  `json:"event_ids,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// Engine evaluates rules after entity writes. It holds no persisted state.
// Actions write through the ActionWriter and never raise further triggers.
type Engine struct {
	mu     sync.RWMutex
	rules  []Rule
	writer ActionWriter
	logger *slog.Logger
}

// NewEngine creates an engine writing through w.
func NewEngine(w ActionWriter, logger *slog.Logger, rules ...Rule) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{writer: w, logger: logger, rules: append([]Rule(nil), rules...)}
}

// Register appends a rule. Rules run in registration order.
func (e *Engine) Register(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
}

// Replace swaps the whole rule set.
func (e *Engine) Replace(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]Rule(nil), rules...)
}

// Rules returns a copy of the registered rules.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Execute runs every enabled rule registered for trigger, in order. A
// failing action is recorded on its rule's result and the remaining
// actions and rules still run.
func (e *Engine) Execute(ctx context.Context, trigger Trigger, tc TriggerContext) []RuleResult {
	tc.Trigger = trigger
	var results []RuleResult
	for _, r := range e.Rules() {
		if !r.Enabled || r.Trigger != trigger {
			continue
		}
		res := RuleResult{Rule: r.Name}
		if r.Condition != nil && !r.Condition(tc) {
			results = append(results, res)
			continue
		}
		res.Matched = true
		for _, a := range r.Actions {
			out, err := a.Execute(ctx, e.writer, r.Name, tc)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.Describe(), err))
				e.logger.Warn("automation action failed",
					slog.String("rule", r.Name),
					slog.String("action", a.Describe()),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.ActionsRun++
			if out.TaskID != 0 {
				res.TaskIDs = append(res.TaskIDs, out.TaskID)
			}
			if out.EventID != 0 {
				res.EventIDs = append(res.EventIDs, out.EventID)
			}
		}
		results = append(results, res)
	}
	return results
}

// OnEntityCreated raises the created trigger for a *Client, *Pet, *Event or *Task.
func (e *Engine) OnEntityCreated(ctx context.Context, entity any) []RuleResult {
	trigger, tc, ok := triggerFor(entity, true)
	if !ok {
		return nil
	}
	return e.Execute(ctx, trigger, tc)
}

// OnEntityUpdated raises the updated trigger for a *Client, *Pet or *Event.
func (e *Engine) OnEntityUpdated(ctx context.Context, entity any) []RuleResult {
	trigger, tc, ok := triggerFor(entity, false)
	if !ok {
		return nil
	}
	return e.Execute(ctx, trigger, tc)
}

func triggerFor(entity any, created bool) (Trigger, TriggerContext, bool) {
	pick := func(c, u Trigger) Trigger {
		if created {
			return c
		}
		return u
	}
	switch v := entity.(type) {
	case *Client:
		return pick(TriggerClientCreated, TriggerClientUpdated),
			TriggerContext{ClientID: v.ID, Date: v.UpdatedAt, Entity: v}, true
	case *Pet:
		return pick(TriggerPetCreated, TriggerPetUpdated),
			TriggerContext{ClientID: v.ClientID, PetID: v.ID, Date: v.UpdatedAt, Entity: v}, true
	case *Event:
		return pick(TriggerEventCreated, TriggerEventUpdated),
			TriggerContext{ClientID: v.ClientID, EventID: v.ID, EventType: v.Type, Date: v.Date, Entity: v}, true
	case *Task:
		if !created {
			return "", TriggerContext{}, false
		}
		tc := TriggerContext{Date: v.DueDate, Entity: v}
		if v.ClientID != nil {
			tc.ClientID = *v.ClientID
		}
		if v.EventID != nil {
			tc.EventID = *v.EventID
		}
		return TriggerTaskCreated, tc, true
	}
	return "", TriggerContext{}, false
}

// DefaultRules returns the built-in automation rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "booking-questionnaire-check",
			Trigger:   TriggerEventCreated,
			Enabled:   true,
			Condition: EventTypeIs(EventBooking),
			Actions: []Action{
				CreateTaskAction{
					Description: "Check questionnaire has been returned before the consultation",
					Kind:        ActionQuestionnaireCheck,
					Priority:    1,
				},
			},
			Origin: "builtin",
		},
		{
			Name:      "consultation-follow-up",
			Trigger:   TriggerEventCreated,
			Enabled:   true,
			Condition: EventTypeIs(EventConsultation),
			Actions: []Action{
				CreateTaskAction{
					Description: "Write and send the post-consultation report",
					Kind:        ActionConsultReport,
					Priority:    2,
				},
				CreateEventAction{
					Type:       EventFollowUp,
					Notes:      "<p>Follow-up check-in after consultation.</p>",
					Offset:     OffsetFor(ActionFollowUp),
					LinkParent: true,
				},
			},
			Origin: "builtin",
		},
	}
}
