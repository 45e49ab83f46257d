package petsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hyperengineering/petsync/internal/store"
)

// SubmissionResult reports the import of one submission.
type SubmissionResult struct {
	Source        Source   `json:"source"`
	SubmissionID  string   `json:"submission_id"`
	Reference     string   `json:"reference,omitempty"`
	Success       bool     `json:"success"`
	Skipped       bool     `json:"skipped,omitempty"`
	Error         string   `json:"error,omitempty"`
	ErrorKind     string   `json:"error_kind,omitempty"`
	ClientID      int64    `json:"client_id,omitempty"`
	PetID         int64    `json:"pet_id,omitempty"`
	EventID       int64    `json:"event_id,omitempty"`
	ClientCreated bool     `json:"client_created,omitempty"`
	PetCreated    bool     `json:"pet_created,omitempty"`
	EventCreated  bool     `json:"event_created,omitempty"`
	PayloadPath   string   `json:"payload_path,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

func (r *SubmissionResult) fail(err error) {
	r.Success = false
	r.Error = err.Error()
	r.ErrorKind = ErrorKind(err)
}

func (r *SubmissionResult) warn(err error) {
	r.Warnings = append(r.Warnings, err.Error())
}

// Importer turns submissions into local records. Each submission is
// written in one transaction; automation, downloads and payload files run
// after commit and only add warnings when they fail.
type Importer struct {
	store       *Store
	engine      *Engine
	downloader  Downloader
	cfg         ImportConfig
	forms       QuestionnaireConfig
	recordsRoot string
	logger      *slog.Logger
}

// NewImporter creates an importer. engine and downloader may be nil.
func NewImporter(s *Store, engine *Engine, downloader Downloader, cfg Config, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:       s,
		engine:      engine,
		downloader:  downloader,
		cfg:         cfg.Import,
		forms:       cfg.Questionnaire,
		recordsRoot: cfg.ClientRecordsRoot,
		logger:      logger,
	}
}

// outcome collects what the transactional part of an import wrote.
type outcome struct {
	client        *Client
	pet           *Pet
	primary       *Event
	note          *Event
	clientCreated bool
	petCreated    bool
	eventCreated  bool
}

func (o *outcome) apply(r *SubmissionResult) {
	r.ClientID = o.client.ID
	r.PetID = o.pet.ID
	r.EventID = o.primary.ID
	r.ClientCreated = o.clientCreated
	r.PetCreated = o.petCreated
	r.EventCreated = o.eventCreated
}

// ImportBooking imports one booking submission. Running it again for the
// same submission resolves the same client, pet and primary event.
func (im *Importer) ImportBooking(ctx context.Context, sub Submission) SubmissionResult {
	sub.Source = SourceBooking
	res := SubmissionResult{Source: sub.Source, SubmissionID: sub.ID, Reference: sub.Reference}
	log := im.logger.With(slog.String("source", string(sub.Source)), slog.String("submission_id", sub.ID))

	if err := sub.Validate(); err != nil {
		res.fail(err)
		log.Warn("booking rejected", slog.String("error", err.Error()))
		return res
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = im.store.Now()
	}

	var out outcome
	err := im.store.WithTx(ctx, func(r Repos) error {
		var err error
		if out.client, out.clientCreated, err = im.resolveClient(ctx, r, sub, true); err != nil {
			return err
		}
		if out.pet, out.petCreated, err = im.resolvePet(ctx, r, out.client.ID, sub, ""); err != nil {
			return err
		}
		return im.writeEvents(ctx, r, sub, EventBooking, &out)
	})
	if err != nil {
		res.fail(err)
		log.Error("booking import failed", slog.String("error", err.Error()))
		return res
	}

	res.Success = true
	out.apply(&res)
	im.afterCommit(ctx, sub, &out, &res)
	log.Info("booking imported",
		slog.Int64("client_id", res.ClientID),
		slog.Bool("client_created", res.ClientCreated),
		slog.Bool("event_created", res.EventCreated),
	)
	return res
}

// ImportQuestionnaire imports one questionnaire submission. The client must
// already exist and have a storage folder, unless folders are provisioned
// automatically.
func (im *Importer) ImportQuestionnaire(ctx context.Context, sub Submission) SubmissionResult {
	sub.Source = SourceQuestionnaire
	res := SubmissionResult{Source: sub.Source, SubmissionID: sub.ID, Reference: sub.Reference}
	log := im.logger.With(slog.String("source", string(sub.Source)), slog.String("submission_id", sub.ID))

	if err := sub.Validate(); err != nil {
		res.fail(err)
		log.Warn("questionnaire rejected", slog.String("error", err.Error()))
		return res
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = im.store.Now()
	}

	existing, err := im.store.Repos().Clients.FindByEmailOrMobile(ctx, sub.Client.Email, sub.Client.Mobile)
	if errors.Is(err, ErrNotFound) {
		err = &MatchError{Reason: "client not found"}
	}
	if err != nil {
		res.fail(err)
		log.Warn("questionnaire not matched", slog.String("error", err.Error()))
		return res
	}

	folder := existing.FolderPath
	if folder == "" {
		if !im.cfg.AutoProvisionFolders {
			res.fail(&MatchError{Reason: "questionnaire needs a client folder", Err: ErrNoFolder})
			res.ClientID = existing.ID
			log.Warn("questionnaire not matched", slog.String("error", res.Error))
			return res
		}
		folder, err = im.provisionFolder(existing)
		if err != nil {
			res.fail(&MatchError{Reason: "provision client folder", Err: err})
			return res
		}
	}

	var out outcome
	err = im.store.WithTx(ctx, func(r Repos) error {
		client, err := r.Clients.Get(ctx, existing.ID)
		if err != nil {
			return &TransactionError{Step: "load client", Err: err}
		}
		changed := mergeContact(client, sub.Client, false)
		if client.FolderPath != folder {
			client.FolderPath = folder
			changed = true
		}
		if changed {
			if err := r.Clients.Update(ctx, client); err != nil {
				return &TransactionError{Step: "update client", Err: err}
			}
		}
		out.client = client

		if out.pet, out.petCreated, err = im.resolvePet(ctx, r, client.ID, sub, im.forms.FormSpecies(sub.FormID)); err != nil {
			return err
		}
		return im.writeEvents(ctx, r, sub, EventQuestionnaireReceived, &out)
	})
	if err != nil {
		res.fail(err)
		log.Error("questionnaire import failed", slog.String("error", err.Error()))
		return res
	}

	res.Success = true
	out.apply(&res)
	im.afterCommit(ctx, sub, &out, &res)
	log.Info("questionnaire imported", slog.Int64("client_id", res.ClientID), slog.Int64("pet_id", res.PetID))
	return res
}

func (im *Importer) provisionFolder(c *Client) (string, error) {
	root, err := store.EnsureDir(im.recordsRoot)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, store.ClientFolderName(c.LastName, c.FirstName, c.ID))
	if err := store.CreateFolder(path); err != nil && !errors.Is(err, store.ErrFolderExists) {
		return "", err
	}
	return path, nil
}

// resolveClient finds the client by email then mobile, merging blank
// fields, or creates it. authoritativeEmail refreshes the stored email
// from the submission.
func (im *Importer) resolveClient(ctx context.Context, r Repos, sub Submission, authoritativeEmail bool) (*Client, bool, error) {
	c, err := r.Clients.FindByEmailOrMobile(ctx, sub.Client.Email, sub.Client.Mobile)
	switch {
	case err == nil:
		if mergeContact(c, sub.Client, authoritativeEmail) {
			if err := r.Clients.Update(ctx, c); err != nil {
				return nil, false, &TransactionError{Step: "update client", Err: err}
			}
		}
		return c, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, &TransactionError{Step: "find client", Err: err}
	}

	addr := sub.Client.ResolvedAddress()
	c = &Client{
		FirstName:     tidyName(sub.Client.FirstName),
		LastName:      tidyName(sub.Client.LastName),
		Email:         strings.TrimSpace(sub.Client.Email),
		Mobile:        strings.TrimSpace(sub.Client.Mobile),
		StreetAddress: addr.Street,
		City:          addr.City,
		State:         addr.State,
		Postcode:      addr.Postcode,
		Notes:         fmt.Sprintf("Created from %s %s on %s.", sub.Source, sub.Key(), sub.CreatedAt.Format("2 Jan 2006")),
	}
	if err := r.Clients.Create(ctx, c); err != nil {
		return nil, false, &TransactionError{Step: "create client", Err: err}
	}
	return c, true, nil
}

// mergeContact fills blank client fields from in and reports whether c changed.
func mergeContact(c *Client, in ContactFields, authoritativeEmail bool) bool {
	changed := false
	fill := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if *dst == "" && v != "" {
			*dst = v
			changed = true
		}
	}

	email := strings.TrimSpace(in.Email)
	if authoritativeEmail && email != "" && c.Email != email {
		c.Email = email
		changed = true
	} else {
		fill(&c.Email, email)
	}

	fill(&c.FirstName, tidyName(in.FirstName))
	fill(&c.LastName, tidyName(in.LastName))
	fill(&c.Mobile, in.Mobile)

	addr := in.ResolvedAddress()
	fill(&c.StreetAddress, addr.Street)
	fill(&c.City, addr.City)
	fill(&c.State, addr.State)
	fill(&c.Postcode, addr.Postcode)
	return changed
}

func (im *Importer) species(raw, fallback string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return tidyName(s)
	}
	if fallback != "" {
		return tidyName(fallback)
	}
	return im.cfg.DefaultSpecies
}

// resolvePet finds the pet by name within the client or creates it with
// species and breed, then merges what the source may fill in.
func (im *Importer) resolvePet(ctx context.Context, r Repos, clientID int64, sub Submission, fallbackSpecies string) (*Pet, bool, error) {
	p, err := r.Pets.FindByNameAndClient(ctx, clientID, sub.Pet.Name)
	created := false
	switch {
	case errors.Is(err, ErrNotFound):
		p = &Pet{
			ClientID: clientID,
			Name:     tidyName(sub.Pet.Name),
			Species:  im.species(sub.Pet.Species, fallbackSpecies),
			Breed:    strings.TrimSpace(sub.Pet.Breed),
		}
		if err := r.Pets.Create(ctx, p); err != nil {
			return nil, false, &TransactionError{Step: "create pet", Err: err}
		}
		created = true
	case err != nil:
		return nil, false, &TransactionError{Step: "find pet", Err: err}
	}

	if mergePet(p, sub) {
		if err := r.Pets.Update(ctx, p); err != nil {
			return nil, false, &TransactionError{Step: "update pet", Err: err}
		}
	}
	return p, created, nil
}

// mergePet fills blank breed and, for questionnaires, sex and date of
// birth, and appends a weight note. Existing values are never replaced.
func mergePet(p *Pet, sub Submission) bool {
	changed := false
	if p.Breed == "" && strings.TrimSpace(sub.Pet.Breed) != "" {
		p.Breed = strings.TrimSpace(sub.Pet.Breed)
		changed = true
	}
	if sub.Source != SourceQuestionnaire {
		return changed
	}

	if p.Sex == "" {
		if s, ok := NormalizeSex(sub.Pet.Sex); ok {
			p.Sex = s
			changed = true
		}
	}
	if p.DateOfBirth == nil && sub.Pet.Age != "" {
		if dob, ok := DateOfBirthFromAge(sub.Pet.Age, sub.CreatedAt); ok {
			p.DateOfBirth = &dob
			changed = true
		}
	}
	if w := strings.TrimSpace(sub.Pet.Weight); w != "" {
		line := fmt.Sprintf("Weight %s (questionnaire %s, %s)", w, sub.ID, sub.CreatedAt.Format("2 Jan 2006"))
		if !strings.Contains(p.Notes, line) {
			if p.Notes != "" {
				p.Notes += "\n"
			}
			p.Notes += line
			changed = true
		}
	}
	return changed
}

// writeEvents writes the primary event unless one carrying the same marker
// already exists, and the creation note for a new client.
func (im *Importer) writeEvents(ctx context.Context, r Repos, sub Submission, typ EventType, out *outcome) error {
	marker := sub.PrimaryMarker()
	existing, err := r.Events.FindByMarker(ctx, out.client.ID, marker)
	switch {
	case err == nil:
		out.primary = existing
	case errors.Is(err, ErrNotFound):
		date := sub.CreatedAt
		if sub.ServiceDate != nil {
			date = *sub.ServiceDate
		}
		body := AnnotatedText{Body: primaryNotes(sub, out.client, out.pet)}.Append(LogEntry{
			At:      im.store.Now(),
			Kind:    "import",
			Message: fmt.Sprintf("imported from %s %s", sub.Source, sub.ID),
		})
		out.primary = &Event{ClientID: out.client.ID, Type: typ, Date: date, Notes: body.String()}
		if err := r.Events.Create(ctx, out.primary); err != nil {
			return &TransactionError{Step: "create event", Err: err}
		}
		out.eventCreated = true
	default:
		return &TransactionError{Step: "find event", Err: err}
	}

	if out.clientCreated {
		parent := out.primary.ID
		out.note = &Event{
			ClientID:      out.client.ID,
			Type:          EventNote,
			Date:          sub.CreatedAt,
			Notes:         fmt.Sprintf("<p>Client record created via %s import (reference %s).</p>", sub.Source, sub.Key()),
			ParentEventID: &parent,
		}
		if err := r.Events.Create(ctx, out.note); err != nil {
			return &TransactionError{Step: "create note", Err: err}
		}
	}
	return nil
}

func primaryNotes(sub Submission, c *Client, p *Pet) string {
	var heading string
	markers := []string{sub.PrimaryMarker()}
	switch sub.Source {
	case SourceBooking:
		heading = "Booking received from the online booking form."
		markers = append(markers, Marker(LabelSubmissionID, sub.ID))
	default:
		heading = "Questionnaire received."
	}

	rows := []SummaryRow{
		{Label: "Client", Value: c.FullName()},
		{Label: "Email", Value: sub.Client.Email},
		{Label: "Mobile", Value: sub.Client.Mobile},
		{Label: "Pet", Value: p.Name},
		{Label: "Species", Value: p.Species},
		{Label: "Breed", Value: sub.Pet.Breed},
		{Label: "Sex", Value: sub.Pet.Sex},
		{Label: "Age", Value: sub.Pet.Age},
		{Label: "Weight", Value: sub.Pet.Weight},
		{Label: "Service", Value: sub.ServiceType},
		{Label: "Submitted", Value: sub.CreatedAt.Format("2 Jan 2006 15:04")},
	}
	if sub.ServiceDate != nil {
		rows = append(rows, SummaryRow{Label: "Service date", Value: sub.ServiceDate.Format("2 Jan 2006 15:04")})
	}
	if sub.Notes != "" {
		rows = append(rows, SummaryRow{Label: "Notes", Value: sub.Notes})
	}
	return fmt.Sprintf("<p>%s</p>\n<p>%s</p>\n%s", heading, strings.Join(markers, " "), SummaryTable(rows))
}

// afterCommit runs the best-effort steps. None of them can undo the import.
func (im *Importer) afterCommit(ctx context.Context, sub Submission, out *outcome, res *SubmissionResult) {
	log := im.logger.With(slog.String("source", string(sub.Source)), slog.String("submission_id", sub.ID))
	warn := func(stage string, err error) {
		res.warn(&PostCommitError{Stage: stage, Err: err})
		log.Warn("post-commit step failed", slog.String("stage", stage), slog.String("error", err.Error()))
	}

	folder := out.client.FolderPath
	if folder != "" {
		path, err := WritePayload(folder, sub, im.store.Now())
		if err != nil {
			warn("payload", err)
		} else {
			res.PayloadPath = path
		}
	}

	for _, a := range sub.Attachments {
		switch {
		case folder == "":
			warn("attachment", fmt.Errorf("%s: %w", a.FileName, ErrNoFolder))
		case im.downloader == nil:
			warn("attachment", fmt.Errorf("%s: no downloader configured", a.FileName))
		default:
			dest := filepath.Join(folder, safeFileName(a.FileName, sub.Key()))
			if err := im.downloader.Download(ctx, a.URL, dest); err != nil {
				warn("attachment", err)
			}
		}
	}

	if im.engine == nil {
		return
	}
	var created []any
	if out.clientCreated {
		created = append(created, out.client)
	}
	if out.petCreated {
		created = append(created, out.pet)
	}
	if out.eventCreated {
		created = append(created, out.primary)
	}
	for _, entity := range created {
		for _, rr := range im.engine.OnEntityCreated(ctx, entity) {
			for _, msg := range rr.Errors {
				warn("automation", fmt.Errorf("rule %s: %s", rr.Rule, msg))
			}
		}
	}
}

func safeFileName(name, fallback string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == "" {
		base = "attachment_" + fallback
	}
	return base
}
