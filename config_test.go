package petsync_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/petsync"
)

func TestConfig_Validate_ValidLocalOnly(t *testing.T) {
	cfg := petsync.Config{LocalPath: "/tmp/test.db"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() returned error for valid local-only config: %v", err)
	}
}

func TestConfig_Validate_MissingLocalPath(t *testing.T) {
	cfg := petsync.Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() returned nil, want ValidationError for missing LocalPath")
	}
	var ve *petsync.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Validate() returned %T, want *ValidationError", err)
	}
	if ve.Field != "LocalPath" {
		t.Errorf("Field = %q, want LocalPath", ve.Field)
	}
}

// TestConfig_Validate_BookingURLWithoutAPIKey checks nested field names.
func TestConfig_Validate_BookingURLWithoutAPIKey(t *testing.T) {
	cfg := petsync.Config{
		LocalPath: "/tmp/test.db",
		Booking:   petsync.BookingConfig{URL: "https://db.example.com"},
	}
	err := cfg.Validate()
	var ve *petsync.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Validate() returned %v, want *ValidationError", err)
	}
	if ve.Field != "Booking.APIKey" {
		t.Errorf("Field = %q, want Booking.APIKey", ve.Field)
	}
}

func TestConfig_Validate_BadURLAndLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		cfg   petsync.Config
		field string
	}{
		{
			name:  "booking url",
			cfg:   petsync.Config{LocalPath: "x.db", Booking: petsync.BookingConfig{URL: "not a url", APIKey: "k"}},
			field: "Booking.URL",
		},
		{
			name:  "log level",
			cfg:   petsync.Config{LocalPath: "x.db", Log: petsync.LogConfig{Level: "loud"}},
			field: "Log.Level",
		},
		{
			name: "form without species",
			cfg: petsync.Config{LocalPath: "x.db", Questionnaire: petsync.QuestionnaireConfig{
				URL: "https://api.example.com", APIKey: "k", Forms: []petsync.FormConfig{{ID: "123"}},
			}},
			field: "Questionnaire.Forms.0.Species",
		},
		{
			name:  "negative interval",
			cfg:   petsync.Config{LocalPath: "x.db", SyncInterval: -time.Second},
			field: "SyncInterval",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			var ve *petsync.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() returned %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestConfigFromEnv_ReadsVars(t *testing.T) {
	t.Setenv("PETSYNC_DB_PATH", "/data/records.db")
	t.Setenv("PETSYNC_BOOKING_URL", "https://db.example.com")
	t.Setenv("PETSYNC_BOOKING_API_KEY", "anon")
	t.Setenv("PETSYNC_QUESTIONNAIRE_FORMS", "111:Dog, 222:Cat")
	t.Setenv("PETSYNC_SYNC_INTERVAL", "5m")
	t.Setenv("PETSYNC_AUTO_SYNC", "1")

	cfg := petsync.ConfigFromEnv()
	if cfg.LocalPath != "/data/records.db" {
		t.Errorf("LocalPath = %q", cfg.LocalPath)
	}
	if cfg.Booking.URL != "https://db.example.com" || cfg.Booking.APIKey != "anon" {
		t.Errorf("Booking = %+v", cfg.Booking)
	}
	if len(cfg.Questionnaire.Forms) != 2 || cfg.Questionnaire.Forms[1] != (petsync.FormConfig{ID: "222", Species: "Cat"}) {
		t.Errorf("Forms = %+v", cfg.Questionnaire.Forms)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v", cfg.SyncInterval)
	}
	if !cfg.AutoSync {
		t.Error("AutoSync = false, want true")
	}
	if got := cfg.Questionnaire.FormSpecies("111"); got != "Dog" {
		t.Errorf("FormSpecies(111) = %q, want Dog", got)
	}
}

func TestWithDefaults_FillsUnset(t *testing.T) {
	cfg := petsync.Config{LocalPath: "/explicit.db"}.WithDefaults()
	if cfg.LocalPath != "/explicit.db" {
		t.Errorf("LocalPath = %q, explicit value lost", cfg.LocalPath)
	}
	if cfg.SyncInterval != 15*time.Minute {
		t.Errorf("SyncInterval = %v, want 15m", cfg.SyncInterval)
	}
	if cfg.Booking.ProcessedColumn != "synced_to_local" {
		t.Errorf("ProcessedColumn = %q", cfg.Booking.ProcessedColumn)
	}
	if cfg.Questionnaire.Fields.PetName != "petName" {
		t.Errorf("Fields.PetName = %q", cfg.Questionnaire.Fields.PetName)
	}
	if cfg.Import.DefaultSpecies != "Dog" {
		t.Errorf("DefaultSpecies = %q", cfg.Import.DefaultSpecies)
	}
}

// TestLoadConfig_FileThenEnv checks env values override the file and
// ${VAR} references expand.
func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
local_path: /from/file.db
sync_interval: 30m
booking:
  url: https://db.example.com
  api_key: ${TEST_BOOKING_KEY}
questionnaire:
  url: https://api.example.com
  api_key: q
  forms:
    - id: "240"
      species: Dog
import:
  auto_provision_folders: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_BOOKING_KEY", "expanded")
	t.Setenv("PETSYNC_DB_PATH", "/from/env.db")

	cfg, err := petsync.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.LocalPath != "/from/env.db" {
		t.Errorf("LocalPath = %q, want env override", cfg.LocalPath)
	}
	if cfg.Booking.APIKey != "expanded" {
		t.Errorf("APIKey = %q, want expanded", cfg.Booking.APIKey)
	}
	if cfg.SyncInterval != 30*time.Minute {
		t.Errorf("SyncInterval = %v", cfg.SyncInterval)
	}
	if !cfg.Import.AutoProvisionFolders {
		t.Error("AutoProvisionFolders = false")
	}
	if !cfg.Questionnaire.Enabled() || cfg.Questionnaire.FormSpecies("240") != "Dog" {
		t.Errorf("Questionnaire = %+v", cfg.Questionnaire)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("PETSYNC_DB_PATH", "")
	cfg, err := petsync.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig on missing file: %v", err)
	}
	if cfg.LocalPath != "" {
		t.Errorf("LocalPath = %q, want empty", cfg.LocalPath)
	}
}

func TestConfig_String_OmitsSecrets(t *testing.T) {
	cfg := petsync.Config{
		LocalPath: "x.db",
		Booking:   petsync.BookingConfig{URL: "https://db.example.com", APIKey: "topsecret"},
	}
	if s := cfg.String(); s == "" || strings.Contains(s, "topsecret") {
		t.Errorf("String() = %q", s)
	}
}
