package petsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repos groups the entity repositories bound to one Querier.
type Repos struct {
	Clients   *ClientRepo
	Pets      *PetRepo
	Events    *EventRepo
	Tasks     *TaskRepo
	Processed *ProcessedRepo
}

func newRepos(q Querier, check func() error, now func() time.Time) Repos {
	g := guardedQuerier{q: q, check: check}
	return Repos{
		Clients:   &ClientRepo{q: g, now: now},
		Pets:      &PetRepo{q: g, now: now},
		Events:    &EventRepo{q: g, now: now},
		Tasks:     &TaskRepo{q: g, now: now},
		Processed: &ProcessedRepo{q: g, now: now},
	}
}

// ClientRepo persists clients.
type ClientRepo struct {
	q   querier
	now func() time.Time
}

const clientColumns = `id, first_name, last_name, email, mobile, street_address, city, state, postcode,
	notes, payment_customer_id, folder_path, created_at, updated_at`

// FindByEmailOrMobile resolves a client by case-insensitive email first and
// by normalized mobile digits second. Returns ErrNotFound when neither matches.
func (r *ClientRepo) FindByEmailOrMobile(ctx context.Context, email, mobile string) (*Client, error) {
	if email = strings.TrimSpace(email); email != "" {
		c, err := scanClient(r.q.QueryRowContext(ctx,
			`SELECT `+clientColumns+` FROM clients WHERE email = ? COLLATE NOCASE ORDER BY id LIMIT 1`, email))
		if err == nil || !errors.Is(err, ErrNotFound) {
			return c, err
		}
	}
	if digits := NormalizePhone(mobile); digits != "" {
		return scanClient(r.q.QueryRowContext(ctx,
			`SELECT `+clientColumns+` FROM clients WHERE mobile_digits = ? ORDER BY id LIMIT 1`, digits))
	}
	return nil, ErrNotFound
}

// Get returns the client with the given id.
func (r *ClientRepo) Get(ctx context.Context, id int64) (*Client, error) {
	return scanClient(r.q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
}

// List returns clients ordered by last then first name.
func (r *ClientRepo) List(ctx context.Context, limit int) ([]Client, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY last_name COLLATE NOCASE, first_name COLLATE NOCASE, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("clients: list: %w", err)
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Create inserts c and sets its ID and timestamps.
func (r *ClientRepo) Create(ctx context.Context, c *Client) error {
	if err := c.Validate(); err != nil {
		return err
	}
	now := r.now()
	c.CreatedAt, c.UpdatedAt = now, now

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO clients (first_name, last_name, email, mobile, mobile_digits, street_address, city, state, postcode,
			notes, payment_customer_id, folder_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.FirstName, c.LastName, strings.TrimSpace(c.Email), c.Mobile, NormalizePhone(c.Mobile),
		c.StreetAddress, c.City, c.State, c.Postcode, c.Notes,
		nullString(c.PaymentCustomerID), nullString(c.FolderPath),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("clients: insert: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// Update writes every column of c and refreshes UpdatedAt.
func (r *ClientRepo) Update(ctx context.Context, c *Client) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.UpdatedAt = r.now()

	res, err := r.q.ExecContext(ctx, `
		UPDATE clients SET first_name = ?, last_name = ?, email = ?, mobile = ?, mobile_digits = ?,
			street_address = ?, city = ?, state = ?, postcode = ?, notes = ?,
			payment_customer_id = ?, folder_path = ?, updated_at = ?
		WHERE id = ?
	`,
		c.FirstName, c.LastName, strings.TrimSpace(c.Email), c.Mobile, NormalizePhone(c.Mobile),
		c.StreetAddress, c.City, c.State, c.Postcode, c.Notes,
		nullString(c.PaymentCustomerID), nullString(c.FolderPath),
		formatTime(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("clients: update: %w", err)
	}
	return requireAffected(res)
}

// SetFolder records the storage folder of a client.
func (r *ClientRepo) SetFolder(ctx context.Context, id int64, path string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE clients SET folder_path = ?, updated_at = ? WHERE id = ?`,
		nullString(path), formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("clients: set folder: %w", err)
	}
	return requireAffected(res)
}

func scanClient(sc scanner) (*Client, error) {
	var (
		c                  Client
		customer, folder   sql.NullString
		createdAt, updated string
	)
	err := sc.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Mobile, &c.StreetAddress, &c.City,
		&c.State, &c.Postcode, &c.Notes, &customer, &folder, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.PaymentCustomerID = customer.String
	c.FolderPath = folder.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// PetRepo persists pets.
type PetRepo struct {
	q   querier
	now func() time.Time
}

const petColumns = `id, client_id, name, species, breed, sex, date_of_birth, notes, created_at, updated_at`

const dateLayout = "2006-01-02"

// FindByNameAndClient returns the first pet of clientID whose name matches
// case-insensitively. Two same-named pets for one client are not told apart.
func (r *PetRepo) FindByNameAndClient(ctx context.Context, clientID int64, name string) (*Pet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNotFound
	}
	return scanPet(r.q.QueryRowContext(ctx,
		`SELECT `+petColumns+` FROM pets WHERE client_id = ? AND name = ? COLLATE NOCASE ORDER BY id LIMIT 1`,
		clientID, name))
}

// Get returns the pet with the given id.
func (r *PetRepo) Get(ctx context.Context, id int64) (*Pet, error) {
	return scanPet(r.q.QueryRowContext(ctx, `SELECT `+petColumns+` FROM pets WHERE id = ?`, id))
}

// ListByClient returns a client's pets in creation order.
func (r *PetRepo) ListByClient(ctx context.Context, clientID int64) ([]Pet, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+petColumns+` FROM pets WHERE client_id = ? ORDER BY id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("pets: list: %w", err)
	}
	defer rows.Close()

	var out []Pet
	for rows.Next() {
		p, err := scanPet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Create inserts p and sets its ID and timestamps.
func (r *PetRepo) Create(ctx context.Context, p *Pet) error {
	if err := p.Validate(); err != nil {
		return err
	}
	now := r.now()
	p.CreatedAt, p.UpdatedAt = now, now

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO pets (client_id, name, species, breed, sex, date_of_birth, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ClientID, strings.TrimSpace(p.Name), p.Species, p.Breed, string(p.Sex), nullDate(p.DateOfBirth), p.Notes,
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("pets: insert: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// Update writes every column of p and refreshes UpdatedAt.
func (r *PetRepo) Update(ctx context.Context, p *Pet) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = r.now()

	res, err := r.q.ExecContext(ctx, `
		UPDATE pets SET name = ?, species = ?, breed = ?, sex = ?, date_of_birth = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`, strings.TrimSpace(p.Name), p.Species, p.Breed, string(p.Sex), nullDate(p.DateOfBirth), p.Notes,
		formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("pets: update: %w", err)
	}
	return requireAffected(res)
}

func nullDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func scanPet(sc scanner) (*Pet, error) {
	var (
		p                  Pet
		sex                string
		dob                sql.NullString
		createdAt, updated string
	)
	err := sc.Scan(&p.ID, &p.ClientID, &p.Name, &p.Species, &p.Breed, &sex, &dob, &p.Notes, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Sex = Sex(sex)
	if dob.Valid {
		if t, err := time.Parse(dateLayout, dob.String); err == nil {
			p.DateOfBirth = &t
		}
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// EventRepo persists events.
type EventRepo struct {
	q   querier
	now func() time.Time
}

const eventColumns = `id, client_id, event_type, date, notes, parent_event_id, created_at, updated_at`

// Create inserts e. A zero Date defaults to now.
func (r *EventRepo) Create(ctx context.Context, e *Event) error {
	if e.Type == "" {
		return &ValidationError{Field: "event_type", Message: "cannot be blank"}
	}
	now := r.now()
	if e.Date.IsZero() {
		e.Date = now
	}
	e.CreatedAt, e.UpdatedAt = now, now

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO events (client_id, event_type, date, notes, parent_event_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ClientID, string(e.Type), formatTime(e.Date), e.Notes, e.ParentEventID, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("events: insert: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// Update writes type, date, notes and parent of e.
func (r *EventRepo) Update(ctx context.Context, e *Event) error {
	e.UpdatedAt = r.now()
	res, err := r.q.ExecContext(ctx, `
		UPDATE events SET event_type = ?, date = ?, notes = ?, parent_event_id = ?, updated_at = ?
		WHERE id = ?
	`, string(e.Type), formatTime(e.Date), e.Notes, e.ParentEventID, formatTime(e.UpdatedAt), e.ID)
	if err != nil {
		return fmt.Errorf("events: update: %w", err)
	}
	return requireAffected(res)
}

// Get returns the event with the given id.
func (r *EventRepo) Get(ctx context.Context, id int64) (*Event, error) {
	return scanEvent(r.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
}

// ListByClient returns a client's events oldest first.
func (r *EventRepo) ListByClient(ctx context.Context, clientID int64) ([]Event, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE client_id = ? ORDER BY date, id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("events: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// FindByMarker returns the earliest event whose notes contain marker
// verbatim. A clientID of 0 searches every client.
func (r *EventRepo) FindByMarker(ctx context.Context, clientID int64, marker string) (*Event, error) {
	if marker == "" {
		return nil, ErrNotFound
	}
	if clientID == 0 {
		return scanEvent(r.q.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM events WHERE instr(notes, ?) > 0 ORDER BY id LIMIT 1`, marker))
	}
	return scanEvent(r.q.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE client_id = ? AND instr(notes, ?) > 0 ORDER BY id LIMIT 1`,
		clientID, marker))
}

// AppendLog adds one entry to the embedded log of an event's notes.
func (r *EventRepo) AppendLog(ctx context.Context, id int64, entry LogEntry) error {
	e, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	at, err := ParseAnnotated(e.Notes)
	if err != nil {
		return err
	}
	if entry.At.IsZero() {
		entry.At = r.now()
	}
	e.Notes = at.Append(entry).String()
	return r.Update(ctx, e)
}

func scanEvent(sc scanner) (*Event, error) {
	var (
		e                  Event
		eventType, date    string
		parent             sql.NullInt64
		createdAt, updated string
	)
	err := sc.Scan(&e.ID, &e.ClientID, &eventType, &date, &e.Notes, &parent, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Type = EventType(eventType)
	e.Date = parseTime(date)
	if parent.Valid {
		id := parent.Int64
		e.ParentEventID = &id
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updated)
	return &e, nil
}

// TaskRepo persists tasks.
type TaskRepo struct {
	q   querier
	now func() time.Time
}

const taskColumns = `id, client_id, event_id, description, due_date, status, priority, automated_action,
	triggered_by, completed_on, created_at, updated_at`

// Create inserts t. Status defaults to Pending and priority to 3.
func (r *TaskRepo) Create(ctx context.Context, t *Task) error {
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.Priority == 0 {
		t.Priority = 3
	}
	if err := t.Validate(); err != nil {
		return err
	}
	now := r.now()
	t.CreatedAt, t.UpdatedAt = now, now

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO tasks (client_id, event_id, description, due_date, status, priority, automated_action,
			triggered_by, completed_on, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ClientID, t.EventID, t.Description, formatTime(t.DueDate), string(t.Status), t.Priority,
		t.AutomatedAction, t.TriggeredBy, nullTime(t.CompletedOn), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("tasks: insert: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

// Get returns the task with the given id.
func (r *TaskRepo) Get(ctx context.Context, id int64) (*Task, error) {
	return scanTask(r.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
}

// ListByEvent returns the tasks linked to an event.
func (r *TaskRepo) ListByEvent(ctx context.Context, eventID int64) ([]Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE event_id = ? ORDER BY id`, eventID)
}

// ListOpen returns tasks that are not Done or Canceled, soonest due first.
func (r *TaskRepo) ListOpen(ctx context.Context) ([]Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE status IN ('Pending', 'InProgress', 'Blocked') ORDER BY due_date, priority, id`)
}

func (r *TaskRepo) list(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tasks: list: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// SetStatus moves a task to next if the transition is allowed.
// Moving to Done stamps CompletedOn.
func (r *TaskRepo) SetStatus(ctx context.Context, id int64, next TaskStatus) (*Task, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, t.Status, next)
	}

	now := r.now()
	t.Status = next
	t.UpdatedAt = now
	if next == TaskDone {
		t.CompletedOn = &now
	}

	_, err = r.q.ExecContext(ctx, `UPDATE tasks SET status = ?, completed_on = ?, updated_at = ? WHERE id = ?`,
		string(t.Status), nullTime(t.CompletedOn), formatTime(now), id)
	if err != nil {
		return nil, fmt.Errorf("tasks: set status: %w", err)
	}
	return t, nil
}

func scanTask(sc scanner) (*Task, error) {
	var (
		t                  Task
		clientID, eventID  sql.NullInt64
		due, status        string
		completed          sql.NullString
		createdAt, updated string
	)
	err := sc.Scan(&t.ID, &clientID, &eventID, &t.Description, &due, &status, &t.Priority, &t.AutomatedAction,
		&t.TriggeredBy, &completed, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if clientID.Valid {
		id := clientID.Int64
		t.ClientID = &id
	}
	if eventID.Valid {
		id := eventID.Int64
		t.EventID = &id
	}
	t.DueDate = parseTime(due)
	t.Status = TaskStatus(status)
	if completed.Valid {
		c := parseTime(completed.String)
		t.CompletedOn = &c
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

// ProcessedRepo is the local set of already-imported submission ids.
type ProcessedRepo struct {
	q   querier
	now func() time.Time
}

// IsProcessed reports whether id from source was already imported.
func (r *ProcessedRepo) IsProcessed(ctx context.Context, source, id string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_submissions WHERE source = ? AND submission_id = ?`, source, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("processed: lookup: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records id from source. Marking twice is a no-op.
func (r *ProcessedRepo) MarkProcessed(ctx context.Context, source, id string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_submissions (source, submission_id, processed_at) VALUES (?, ?, ?)
	`, source, id, formatTime(r.now()))
	if err != nil {
		return fmt.Errorf("processed: mark: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
