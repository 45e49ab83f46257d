package petsync

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/hyperengineering/petsync/internal/store"
	"gopkg.in/yaml.v3"
)

// Config configures the petsync client.
type Config struct {
	// LocalPath is the path to the local SQLite record database.
	LocalPath string `yaml:"local_path"`

	// ClientRecordsRoot is the directory holding one folder per client.
	// Defaults to ~/Documents/PBS_Admin/Client_Records.
	ClientRecordsRoot string `yaml:"client_records_root"`

	// RulesPath is an optional YAML file of automation rules loaded in
	// addition to the built-in rules.
	RulesPath string `yaml:"rules_path"`

	// SyncInterval is how often the background scheduler runs a full sync.
	// Defaults to 15 minutes.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// AutoSync enables the background scheduler.
	AutoSync bool `yaml:"auto_sync"`

	// HTTPTimeout bounds each call to a remote source. Defaults to 30 seconds.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	Booking       BookingConfig       `yaml:"booking"`
	Questionnaire QuestionnaireConfig `yaml:"questionnaire"`
	Import        ImportConfig        `yaml:"import"`
	Log           LogConfig           `yaml:"log"`
	HTTP          HTTPConfig          `yaml:"http"`
}

// BookingConfig points at the hosted booking table.
type BookingConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	// Table defaults to "bookings".
	Table string `yaml:"table"`
	// ProcessedColumn is the remote boolean flag; defaults to "synced_to_local".
	ProcessedColumn string `yaml:"processed_column"`
}

// Enabled reports whether the booking source is configured.
func (b BookingConfig) Enabled() bool { return b.URL != "" }

// Validate implements validation.Validatable.
func (b BookingConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.URL, is.URL),
		validation.Field(&b.APIKey, validation.Required.When(b.URL != "").Error("required when URL is set")),
	)
}

// QuestionnaireConfig points at the hosted questionnaire forms.
type QuestionnaireConfig struct {
	URL    string       `yaml:"url"`
	APIKey string       `yaml:"api_key"`
	Forms  []FormConfig `yaml:"forms"`
	Fields FieldMap     `yaml:"fields"`
	// PageSize defaults to 100.
	PageSize int `yaml:"page_size"`
}

// Enabled reports whether the questionnaire source is configured.
func (q QuestionnaireConfig) Enabled() bool { return q.URL != "" && len(q.Forms) > 0 }

// Validate implements validation.Validatable.
func (q QuestionnaireConfig) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.URL, is.URL),
		validation.Field(&q.APIKey, validation.Required.When(q.URL != "").Error("required when URL is set")),
		validation.Field(&q.Forms, validation.Required.When(q.URL != "").Error("at least one form is required")),
		validation.Field(&q.PageSize, validation.Min(0), validation.Max(1000)),
	)
}

// FormConfig is one questionnaire form and the species it is for.
type FormConfig struct {
	ID      string `yaml:"id"`
	Species string `yaml:"species"`
}

// Validate implements validation.Validatable.
func (f FormConfig) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.ID, validation.Required),
		validation.Field(&f.Species, validation.Required),
	)
}

// FieldMap names the questionnaire answers that carry canonical fields.
type FieldMap struct {
	Name       string `yaml:"name"`
	Email      string `yaml:"email"`
	Mobile     string `yaml:"mobile"`
	Address    string `yaml:"address"`
	PetName    string `yaml:"pet_name"`
	PetSpecies string `yaml:"pet_species"`
	PetBreed   string `yaml:"pet_breed"`
	PetSex     string `yaml:"pet_sex"`
	PetAge     string `yaml:"pet_age"`
	PetWeight  string `yaml:"pet_weight"`
}

// DefaultFieldMap returns the answer names used by the stock questionnaire forms.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		Name:       "clientName",
		Email:      "email",
		Mobile:     "mobileNumber",
		Address:    "address",
		PetName:    "petName",
		PetSpecies: "petSpecies",
		PetBreed:   "breed",
		PetSex:     "sex",
		PetAge:     "age",
		PetWeight:  "weight",
	}
}

func (f FieldMap) withDefaults() FieldMap {
	d := DefaultFieldMap()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&f.Name, d.Name)
	fill(&f.Email, d.Email)
	fill(&f.Mobile, d.Mobile)
	fill(&f.Address, d.Address)
	fill(&f.PetName, d.PetName)
	fill(&f.PetSpecies, d.PetSpecies)
	fill(&f.PetBreed, d.PetBreed)
	fill(&f.PetSex, d.PetSex)
	fill(&f.PetAge, d.PetAge)
	fill(&f.PetWeight, d.PetWeight)
	return f
}

// ImportConfig tunes the import pipelines.
type ImportConfig struct {
	// DefaultSpecies is used when a booking does not name one. Defaults to "Dog".
	DefaultSpecies string `yaml:"default_species"`
	// AutoProvisionFolders creates a missing client folder instead of
	// rejecting the questionnaire.
	AutoProvisionFolders bool `yaml:"auto_provision_folders"`
}

// LogConfig configures the slog logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Validate implements validation.Validatable.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("text", "json")),
		validation.Field(&l.MaxSizeMB, validation.Min(0)),
	)
}

// HTTPConfig configures the review API server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LocalPath:         store.DefaultDBPath(),
		ClientRecordsRoot: store.DefaultClientRecordsRoot(),
		SyncInterval:      15 * time.Minute,
		HTTPTimeout:       30 * time.Second,
		Booking: BookingConfig{
			Table:           "bookings",
			ProcessedColumn: "synced_to_local",
		},
		Questionnaire: QuestionnaireConfig{
			Fields:   DefaultFieldMap(),
			PageSize: 100,
		},
		Import: ImportConfig{DefaultSpecies: "Dog"},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:8686"},
	}
}

// ConfigFromEnv reads configuration from environment variables.
//
//	PETSYNC_DB_PATH                → LocalPath
//	PETSYNC_RECORDS_ROOT           → ClientRecordsRoot
//	PETSYNC_RULES                  → RulesPath
//	PETSYNC_AUTO_SYNC              → AutoSync (any non-empty value enables)
//	PETSYNC_BOOKING_URL            → Booking.URL
//	PETSYNC_BOOKING_API_KEY        → Booking.APIKey
//	PETSYNC_QUESTIONNAIRE_URL      → Questionnaire.URL
//	PETSYNC_QUESTIONNAIRE_API_KEY  → Questionnaire.APIKey
//	PETSYNC_QUESTIONNAIRE_FORMS    → Questionnaire.Forms ("id:Species,id:Species")
//	PETSYNC_LOG_LEVEL              → Log.Level
//	PETSYNC_LOG_PATH               → Log.Path
//	PETSYNC_HTTP_ADDR              → HTTP.Addr
func ConfigFromEnv() Config {
	cfg := Config{
		LocalPath:         os.Getenv("PETSYNC_DB_PATH"),
		ClientRecordsRoot: os.Getenv("PETSYNC_RECORDS_ROOT"),
		RulesPath:         os.Getenv("PETSYNC_RULES"),
		AutoSync:          os.Getenv("PETSYNC_AUTO_SYNC") != "",
		Booking: BookingConfig{
			URL:    os.Getenv("PETSYNC_BOOKING_URL"),
			APIKey: os.Getenv("PETSYNC_BOOKING_API_KEY"),
		},
		Questionnaire: QuestionnaireConfig{
			URL:    os.Getenv("PETSYNC_QUESTIONNAIRE_URL"),
			APIKey: os.Getenv("PETSYNC_QUESTIONNAIRE_API_KEY"),
			Forms:  parseFormList(os.Getenv("PETSYNC_QUESTIONNAIRE_FORMS")),
		},
		Log: LogConfig{
			Level: os.Getenv("PETSYNC_LOG_LEVEL"),
			Path:  os.Getenv("PETSYNC_LOG_PATH"),
		},
		HTTP: HTTPConfig{Addr: os.Getenv("PETSYNC_HTTP_ADDR")},
	}
	if v := os.Getenv("PETSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SyncInterval = d
		}
	}
	return cfg
}

func parseFormList(v string) []FormConfig {
	if v == "" {
		return nil
	}
	var forms []FormConfig
	for _, item := range strings.Split(v, ",") {
		id, species, _ := strings.Cut(strings.TrimSpace(item), ":")
		if id == "" {
			continue
		}
		forms = append(forms, FormConfig{ID: id, Species: species})
	}
	return forms
}

// LoadConfig reads a YAML config file, expanding ${VAR} references first,
// and overlays environment variables on top. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}
	return cfg.Merge(ConfigFromEnv()), nil
}

// Merge returns c with every non-zero field of o laid over it.
func (c Config) Merge(o Config) Config {
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	str(&c.LocalPath, o.LocalPath)
	str(&c.ClientRecordsRoot, o.ClientRecordsRoot)
	str(&c.RulesPath, o.RulesPath)
	if o.SyncInterval != 0 {
		c.SyncInterval = o.SyncInterval
	}
	if o.HTTPTimeout != 0 {
		c.HTTPTimeout = o.HTTPTimeout
	}
	c.AutoSync = c.AutoSync || o.AutoSync
	str(&c.Booking.URL, o.Booking.URL)
	str(&c.Booking.APIKey, o.Booking.APIKey)
	str(&c.Booking.Table, o.Booking.Table)
	str(&c.Booking.ProcessedColumn, o.Booking.ProcessedColumn)
	str(&c.Questionnaire.URL, o.Questionnaire.URL)
	str(&c.Questionnaire.APIKey, o.Questionnaire.APIKey)
	if len(o.Questionnaire.Forms) > 0 {
		c.Questionnaire.Forms = o.Questionnaire.Forms
	}
	if o.Questionnaire.PageSize != 0 {
		c.Questionnaire.PageSize = o.Questionnaire.PageSize
	}
	str(&c.Import.DefaultSpecies, o.Import.DefaultSpecies)
	c.Import.AutoProvisionFolders = c.Import.AutoProvisionFolders || o.Import.AutoProvisionFolders
	str(&c.Log.Level, o.Log.Level)
	str(&c.Log.Format, o.Log.Format)
	str(&c.Log.Path, o.Log.Path)
	str(&c.HTTP.Addr, o.HTTP.Addr)
	return c
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.LocalPath, validation.Required.Error("required: path to SQLite database")),
		validation.Field(&c.SyncInterval, validation.Min(time.Duration(0)).Error("must be non-negative")),
		validation.Field(&c.HTTPTimeout, validation.Min(time.Duration(0)).Error("must be non-negative")),
		validation.Field(&c.Booking),
		validation.Field(&c.Questionnaire),
		validation.Field(&c.Log),
	)
	return asValidationError(err)
}

// WithDefaults fills in default values for unset fields.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.LocalPath == "" {
		c.LocalPath = d.LocalPath
	}
	if c.ClientRecordsRoot == "" {
		c.ClientRecordsRoot = d.ClientRecordsRoot
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
	if c.Booking.Table == "" {
		c.Booking.Table = d.Booking.Table
	}
	if c.Booking.ProcessedColumn == "" {
		c.Booking.ProcessedColumn = d.Booking.ProcessedColumn
	}
	c.Questionnaire.Fields = c.Questionnaire.Fields.withDefaults()
	if c.Questionnaire.PageSize == 0 {
		c.Questionnaire.PageSize = d.Questionnaire.PageSize
	}
	if c.Import.DefaultSpecies == "" {
		c.Import.DefaultSpecies = d.Import.DefaultSpecies
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = d.Log.MaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = d.Log.MaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = d.Log.MaxAgeDays
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = d.HTTP.Addr
	}
	return c
}

// FormSpecies returns the species configured for a questionnaire form.
func (q QuestionnaireConfig) FormSpecies(formID string) string {
	for _, f := range q.Forms {
		if f.ID == formID {
			return f.Species
		}
	}
	return ""
}

// String renders non-secret settings for diagnostics.
func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "db=%s records=%s", c.LocalPath, c.ClientRecordsRoot)
	if c.Booking.Enabled() {
		fmt.Fprintf(&b, " booking=%s", c.Booking.URL)
	}
	if c.Questionnaire.Enabled() {
		fmt.Fprintf(&b, " questionnaire=%s forms=%d", c.Questionnaire.URL, len(c.Questionnaire.Forms))
	}
	return b.String()
}
