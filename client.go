package petsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Service is the entry point for syncing and reconciling submissions.
type Service struct {
	store      *Store
	ownsStore  bool
	engine     *Engine
	importer   *Importer
	config     Config
	logger     *slog.Logger
	bookings   BookingSource
	forms      SubmissionSource
	downloader Downloader
	writer     ActionWriter
	extraRules []Rule

	// syncMu serialises sync runs so the scheduler and callers never overlap.
	syncMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	stopSync chan struct{}
	syncDone chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithBookingSource sets the booking source.
func WithBookingSource(src BookingSource) Option {
	return func(c *Service) { c.bookings = src }
}

// WithQuestionnaireSource sets the questionnaire source.
func WithQuestionnaireSource(src SubmissionSource) Option {
	return func(c *Service) { c.forms = src }
}

// WithDownloader sets the attachment downloader.
func WithDownloader(d Downloader) Option {
	return func(c *Service) { c.downloader = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Service) { c.logger = l }
}

// WithStore uses an already open store. The caller keeps ownership and
// must close it after the client.
func WithStore(s *Store) Option {
	return func(c *Service) { c.store = s }
}

// WithRules registers rules after the built-in and file rules.
func WithRules(rules ...Rule) Option {
	return func(c *Service) { c.extraRules = append(c.extraRules, rules...) }
}

// WithActionWriter replaces the writer automation actions use.
func WithActionWriter(w ActionWriter) Option {
	return func(c *Service) { c.writer = w }
}

// New creates a client, opening the store unless one is supplied.
func New(cfg Config, opts ...Option) (*Service, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Service{
		config:   cfg,
		logger:   slog.Default(),
		stopSync: make(chan struct{}),
		syncDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		s, err := OpenStore(cfg.LocalPath, WithStoreLogger(c.logger))
		if err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
		c.store = s
		c.ownsStore = true
	}
	if c.writer == nil {
		c.writer = StoreWriter(c.store)
	}

	c.engine = NewEngine(c.writer, c.logger)
	if err := c.ReloadRules(); err != nil {
		if c.ownsStore {
			c.store.Close()
		}
		return nil, fmt.Errorf("client: %w", err)
	}
	c.importer = NewImporter(c.store, c.engine, c.downloader, cfg, c.logger)

	if cfg.AutoSync && (c.bookings != nil || c.forms != nil) {
		go c.backgroundSync()
	} else {
		close(c.syncDone)
	}

	return c, nil
}

// Store returns the underlying record store.
func (c *Service) Store() *Store { return c.store }

// Engine returns the automation engine.
func (c *Service) Engine() *Engine { return c.engine }

// Importer returns the import pipelines.
func (c *Service) Importer() *Importer { return c.importer }

// Config returns the effective configuration.
func (c *Service) Config() Config { return c.config }

// Rules summarises the active rule set in evaluation order.
func (c *Service) Rules() []RuleSummary {
	rules := c.engine.Rules()
	out := make([]RuleSummary, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Summary())
	}
	return out
}

// ReloadRules rebuilds the rule set from the built-in rules, the rules
// file and rules registered with WithRules, in that order.
func (c *Service) ReloadRules() error {
	rules := DefaultRules()
	if c.config.RulesPath != "" {
		loaded, err := LoadRules(c.config.RulesPath)
		if err != nil {
			return err
		}
		rules = append(rules, loaded...)
	}
	rules = append(rules, c.extraRules...)
	c.engine.Replace(rules)
	return nil
}

// SyncBookings imports confirmed bookings not yet flagged processed.
func (c *Service) SyncBookings(ctx context.Context) (*SyncReport, error) {
	if c.bookings == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, SourceBooking)
	}
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	tracker := NewRemoteFlagTracker(c.bookings, c.store, c.logger)
	return NewSyncer(c.bookings, tracker, c.importer.ImportBooking, c.store, c.logger).Run(ctx)
}

// SyncQuestionnaires imports questionnaire submissions not yet seen locally.
func (c *Service) SyncQuestionnaires(ctx context.Context) (*SyncReport, error) {
	if c.forms == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, SourceQuestionnaire)
	}
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	tracker := NewLocalSeenTracker(SourceQuestionnaire, c.store)
	return NewSyncer(c.forms, tracker, c.importer.ImportQuestionnaire, c.store, c.logger).Run(ctx)
}

// Sync runs the named source.
func (c *Service) Sync(ctx context.Context, source Source) (*SyncReport, error) {
	switch source {
	case SourceBooking:
		return c.SyncBookings(ctx)
	case SourceQuestionnaire:
		return c.SyncQuestionnaires(ctx)
	}
	return nil, fmt.Errorf("%w: %q", ErrNoSource, source)
}

// SyncAll runs bookings then questionnaires, skipping unconfigured sources.
// Bookings go first so a questionnaire can match a client created by a
// booking in the same pass.
func (c *Service) SyncAll(ctx context.Context) ([]*SyncReport, error) {
	var (
		reports []*SyncReport
		errs    []error
	)
	if c.bookings != nil {
		r, err := c.SyncBookings(ctx)
		if err != nil {
			errs = append(errs, err)
		} else {
			reports = append(reports, r)
		}
	}
	if c.forms != nil {
		r, err := c.SyncQuestionnaires(ctx)
		if err != nil {
			errs = append(errs, err)
		} else {
			reports = append(reports, r)
		}
	}
	if len(reports) == 0 && len(errs) == 0 {
		return nil, ErrNoSource
	}
	return reports, errors.Join(errs...)
}

// payloadPath resolves path against the client folder. Relative paths are
// joined to the folder; the result must stay inside it.
func (c *Service) payloadPath(ctx context.Context, clientID int64, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrPayloadNotFound)
	}
	client, err := c.store.Repos().Clients.Get(ctx, clientID)
	if err != nil {
		return "", fmt.Errorf("load client %d: %w", clientID, err)
	}
	if client.FolderPath == "" {
		return "", fmt.Errorf("%w: client %d: %w", ErrPayloadNotFound, clientID, ErrNoFolder)
	}
	folder := filepath.Clean(client.FolderPath)
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(folder, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(folder, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the folder of client %d", ErrPayloadNotFound, path, clientID)
	}
	return full, nil
}

// Reconcile compares a persisted submission with the client's records. The
// payload must live in the client's folder.
func (c *Service) Reconcile(ctx context.Context, clientID int64, path string) (*ReconcileResult, error) {
	if err := c.store.checkOpen(); err != nil {
		return nil, err
	}
	path, err := c.payloadPath(ctx, clientID, path)
	if err != nil {
		return nil, err
	}
	return Reconcile(ctx, c.store.Repos(), clientID, path)
}

// Apply writes the selected payload fields, then raises update triggers.
func (c *Service) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	if err := c.store.checkOpen(); err != nil {
		return nil, err
	}
	path, err := c.payloadPath(ctx, req.ClientID, req.Path)
	if err != nil {
		return nil, err
	}
	req.Path = path
	res, err := applyUpdates(ctx, c.store, req)
	if err != nil {
		return nil, err
	}
	if len(req.Client) > 0 {
		c.engine.OnEntityUpdated(ctx, res.Client)
	}
	if res.Pet != nil {
		if res.PetCreated {
			c.engine.OnEntityCreated(ctx, res.Pet)
		} else {
			c.engine.OnEntityUpdated(ctx, res.Pet)
		}
	}
	return res, nil
}

// Submissions lists the persisted submission files in a client's folder.
func (c *Service) Submissions(ctx context.Context, clientID int64) ([]PayloadInfo, error) {
	client, err := c.store.Repos().Clients.Get(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load client %d: %w", clientID, err)
	}
	if client.FolderPath == "" {
		return nil, nil
	}
	return ListPayloads(ctx, client.FolderPath)
}

// OnEntityCreated lets any writer take part in automation.
func (c *Service) OnEntityCreated(ctx context.Context, entity any) []RuleResult {
	return c.engine.OnEntityCreated(ctx, entity)
}

// OnEntityUpdated lets any writer take part in automation.
func (c *Service) OnEntityUpdated(ctx context.Context, entity any) []RuleResult {
	return c.engine.OnEntityUpdated(ctx, entity)
}

// Stats returns store statistics.
func (c *Service) Stats(ctx context.Context) (*StoreStats, error) {
	return c.store.Stats(ctx)
}

// HealthStatus reports client health.
type HealthStatus struct {
	Healthy             bool   `json:"healthy"`
	StoreOK             bool   `json:"store_ok"`
	BookingSource       bool   `json:"booking_source"`
	QuestionnaireSource bool   `json:"questionnaire_source"`
	Error               string `json:"error,omitempty"`
}

// HealthCheck returns the health status of the client.
func (c *Service) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:             true,
		StoreOK:             true,
		BookingSource:       c.bookings != nil,
		QuestionnaireSource: c.forms != nil,
	}
	if _, err := c.store.Stats(ctx); err != nil {
		status.StoreOK = false
		status.Healthy = false
		status.Error = err.Error()
	}
	return status
}

// Close stops the scheduler and closes the store if the client opened it.
// A run already in progress finishes first.
func (c *Service) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stopSync)
	<-c.syncDone

	if c.ownsStore {
		return c.store.Close()
	}
	return nil
}

func (c *Service) backgroundSync() {
	defer close(c.syncDone)

	ticker := time.NewTicker(c.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSync:
			return
		case <-ticker.C:
			if _, err := c.SyncAll(context.Background()); err != nil {
				c.logger.Warn("scheduled sync failed", slog.String("error", err.Error()))
			}
		}
	}
}
