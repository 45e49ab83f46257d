package petsync

import (
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Client is a pet owner known to the practice.
type Client struct {
	ID                int64     `json:"id"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	Email             string    `json:"email"`
	Mobile            string    `json:"mobile"`
	StreetAddress     string    `json:"street_address"`
	City              string    `json:"city"`
	State             string    `json:"state"`
	Postcode          string    `json:"postcode"`
	Notes             string    `json:"notes,omitempty"`
	PaymentCustomerID string    `json:"payment_customer_id,omitempty"`
	FolderPath        string    `json:"folder_path,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// FullName joins the name parts with a single space.
func (c Client) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Validate checks the client has a name and some way to reach them.
func (c Client) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.FirstName, validation.Required.When(c.LastName == "").Error("first or last name is required")),
		validation.Field(&c.Email, validation.Required.When(c.Mobile == "").Error("email or mobile is required"), validation.Length(0, 254)),
	)
	return asValidationError(err)
}

// Sex is the stored sex/neuter vocabulary for a pet.
type Sex string

const (
	SexMale     Sex = "Male"
	SexFemale   Sex = "Female"
	SexNeutered Sex = "Neutered"
	SexSpayed   Sex = "Spayed"
)

// ValidSexes returns the accepted stored sex values.
func ValidSexes() []Sex {
	return []Sex{SexMale, SexFemale, SexNeutered, SexSpayed}
}

var speciesPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z \-]*$`)

// Pet belongs to exactly one client.
type Pet struct {
	ID          int64      `json:"id"`
	ClientID    int64      `json:"client_id"`
	Name        string     `json:"name"`
	Species     string     `json:"species"`
	Breed       string     `json:"breed,omitempty"`
	Sex         Sex        `json:"sex,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks name, species and sex before the pet is written.
func (p Pet) Validate() error {
	sexes := make([]any, 0, 4)
	for _, s := range ValidSexes() {
		sexes = append(sexes, s)
	}
	err := validation.ValidateStruct(&p,
		validation.Field(&p.ClientID, validation.Required),
		validation.Field(&p.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.Species, validation.Required, validation.Length(1, 40), validation.Match(speciesPattern)),
		validation.Field(&p.Sex, validation.In(sexes...)),
	)
	return asValidationError(err)
}

// EventType tags what an event records.
type EventType string

const (
	EventBooking               EventType = "Booking"
	EventQuestionnaireReceived EventType = "QuestionnaireReceived"
	EventNote                  EventType = "Note"
	EventConsultation          EventType = "Consultation"
	EventFollowUp              EventType = "FollowUp"
	EventTrainingSession       EventType = "TrainingSession"
)

// Event is a dated entry in a client's history.
type Event struct {
	ID            int64     `json:"id"`
	ClientID      int64     `json:"client_id"`
	Type          EventType `json:"event_type"`
	Date          time.Time `json:"date"`
	Notes         string    `json:"notes,omitempty"`
	ParentEventID *int64    `json:"parent_event_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "Pending"
	TaskInProgress TaskStatus = "InProgress"
	TaskBlocked    TaskStatus = "Blocked"
	TaskDone       TaskStatus = "Done"
	TaskCanceled   TaskStatus = "Canceled"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskCanceled},
	TaskInProgress: {TaskDone, TaskBlocked, TaskCanceled},
	TaskBlocked:    {TaskInProgress, TaskCanceled},
}

// CanTransition reports whether a task may move from s to next.
// Done and Canceled are terminal.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task is a unit of follow-up work, usually scheduled by automation.
type Task struct {
	ID              int64      `json:"id"`
	ClientID        *int64     `json:"client_id,omitempty"`
	EventID         *int64     `json:"event_id,omitempty"`
	Description     string     `json:"description"`
	DueDate         time.Time  `json:"due_date"`
	Status          TaskStatus `json:"status"`
	Priority        int        `json:"priority"`
	AutomatedAction string     `json:"automated_action,omitempty"`
	TriggeredBy     string     `json:"triggered_by,omitempty"`
	CompletedOn     *time.Time `json:"completed_on,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Validate checks description, priority range and status.
func (t Task) Validate() error {
	err := validation.ValidateStruct(&t,
		validation.Field(&t.Description, validation.Required),
		validation.Field(&t.Priority, validation.Min(1), validation.Max(5)),
		validation.Field(&t.Status, validation.In(TaskPending, TaskInProgress, TaskBlocked, TaskDone, TaskCanceled)),
	)
	return asValidationError(err)
}

// StoreStats summarises the local record store.
type StoreStats struct {
	Clients       int               `json:"clients"`
	Pets          int               `json:"pets"`
	Events        int               `json:"events"`
	Tasks         int               `json:"tasks"`
	OpenTasks     int               `json:"open_tasks"`
	Processed     int               `json:"processed_submissions"`
	SchemaVersion string            `json:"schema_version"`
	LastSync      map[string]string `json:"last_sync,omitempty"`
}
