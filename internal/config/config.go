package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"hsexport/internal/model"
)

// MaxBatchSize is the largest page or batch the CRM API accepts.
const MaxBatchSize = 100

// LedgerOff disables the run ledger when used as the ledger path.
const LedgerOff = "off"

var ErrMissingCredentials = errors.New("missing required credentials")

// Config is the application's configuration model.
// Values come from defaults, then an optional YAML file, then the environment.
type Config struct {
	HubSpot HubSpotConfig `yaml:"hubspot"`
	Export  ExportConfig  `yaml:"export"`
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type HubSpotConfig struct {
	APIBaseURL string `yaml:"apiBaseURL"`
	AuthURL    string `yaml:"authURL"`
	TokenURL   string `yaml:"tokenURL"`
	// Client credentials; HUBSPOT_CLIENT_ID / HUBSPOT_CLIENT_SECRET override.
	ClientID     string   `yaml:"clientID"`
	ClientSecret string   `yaml:"clientSecret"`
	RedirectURI  string   `yaml:"redirectURI"`
	Scopes       []string `yaml:"scopes"`
	// Tokens are read from the environment only and never written to YAML.
	Tokens model.TokenSet `yaml:"-"`
}

type ExportConfig struct {
	OutputDir        string   `yaml:"outputDir"`
	BatchSize        int      `yaml:"batchSize"`
	ProgressEvery    int      `yaml:"progressEvery"`
	DealProperties   []string `yaml:"dealProperties"`
	DealAssociations []string `yaml:"dealAssociations"`
	// Engagements maps an engagement type to the properties requested in batch reads.
	Engagements map[string][]string `yaml:"engagements"`
}

type APIConfig struct {
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
	MaxAttempts    int     `yaml:"maxAttempts"`
	BaseBackoffMS  int     `yaml:"baseBackoffMs"`
	TimeoutSeconds int     `yaml:"timeoutSeconds"`
}

type AuthConfig struct {
	ListenAddr      string `yaml:"listenAddr"`
	EnvFile         string `yaml:"envFile"`
	EnvTemplate     string `yaml:"envTemplate"`
	ShutdownGraceMS int    `yaml:"shutdownGraceMs"`
}

type StorageConfig struct {
	LedgerPath string `yaml:"ledgerPath"`
}

type MetricsConfig struct {
	Addr     string `yaml:"addr"`
	Textfile string `yaml:"textfile"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		HubSpot: HubSpotConfig{
			APIBaseURL:  "https://api.hubapi.com",
			AuthURL:     "https://app.hubspot.com/oauth/authorize",
			TokenURL:    "https://api.hubapi.com/oauth/v1/token",
			RedirectURI: "http://localhost:3000/oauth-callback",
			Scopes:      []string{"oauth", "crm.objects.deals.read", "crm.objects.contacts.read", "crm.objects.companies.read"},
		},
		Export: ExportConfig{
			OutputDir:        "./data",
			BatchSize:        MaxBatchSize,
			ProgressEvery:    10,
			DealProperties:   []string{"dealname", "amount", "dealstage", "closedate", "pipeline", "createdate"},
			DealAssociations: []string{"contacts", "companies"},
			Engagements: map[string][]string{
				string(model.Notes):    {"hs_note_body", "hs_timestamp", "hubspot_owner_id"},
				string(model.Calls):    {"hs_call_title", "hs_call_body", "hs_call_duration", "hs_call_status", "hs_timestamp"},
				string(model.Meetings): {"hs_meeting_title", "hs_meeting_body", "hs_meeting_start_time", "hs_meeting_end_time", "hs_meeting_outcome"},
				string(model.Emails):   {"hs_email_subject", "hs_email_text", "hs_email_direction", "hs_email_status", "hs_timestamp"},
				string(model.Tasks):    {"hs_task_subject", "hs_task_body", "hs_task_status", "hs_task_priority", "hs_timestamp"},
			},
		},
		// HubSpot allows 100 requests per 10 seconds for OAuth apps.
		API: APIConfig{RPS: 9, Burst: 10, MaxAttempts: 5, BaseBackoffMS: 500, TimeoutSeconds: 30},
		Auth: AuthConfig{
			ListenAddr:      ":3000",
			EnvFile:         ".env",
			EnvTemplate:     ".env.example",
			ShutdownGraceMS: 1000,
		},
		Storage: StorageConfig{LedgerPath: filepath.Join(xdg.StateHome, "hsexport", "runs.db")},
	}
}

// ResolveEnv applies environment variable overrides.
func (c *Config) ResolveEnv() {
	setString(&c.HubSpot.APIBaseURL, "HUBSPOT_API_BASE_URL")
	setString(&c.HubSpot.AuthURL, "HUBSPOT_AUTH_URL")
	setString(&c.HubSpot.TokenURL, "HUBSPOT_TOKEN_URL")
	setString(&c.HubSpot.ClientID, "HUBSPOT_CLIENT_ID")
	setString(&c.HubSpot.ClientSecret, "HUBSPOT_CLIENT_SECRET")
	setString(&c.HubSpot.RedirectURI, "HUBSPOT_REDIRECT_URI")
	if v := os.Getenv("HUBSPOT_SCOPES"); v != "" {
		c.HubSpot.Scopes = splitList(v)
	}
	setString(&c.HubSpot.Tokens.AccessToken, "HUBSPOT_ACCESS_TOKEN")
	setString(&c.HubSpot.Tokens.RefreshToken, "HUBSPOT_REFRESH_TOKEN")
	if v := os.Getenv("HUBSPOT_TOKEN_EXPIRES_AT"); v != "" {
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.HubSpot.Tokens.ExpiresAt = ms
		}
	}

	setString(&c.Export.OutputDir, "OUTPUT_DIR")
	setInt(&c.Export.BatchSize, "BATCH_SIZE")

	if v := os.Getenv("HUBSPOT_API_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.API.RPS = f
		}
	}
	setInt(&c.API.Burst, "HUBSPOT_API_BURST")
	setInt(&c.API.MaxAttempts, "HUBSPOT_API_MAX_ATTEMPTS")
	setInt(&c.API.BaseBackoffMS, "HUBSPOT_API_BASE_BACKOFF_MS")
	setInt(&c.API.TimeoutSeconds, "HUBSPOT_API_TIMEOUT_SECONDS")

	setString(&c.Storage.LedgerPath, "HSEXPORT_LEDGER")
	setString(&c.Metrics.Addr, "METRICS_ADDR")
	setString(&c.Metrics.Textfile, "METRICS_TEXTFILE")
	c.normalize()
}

func (c *Config) normalize() {
	if c.Export.BatchSize <= 0 || c.Export.BatchSize > MaxBatchSize {
		c.Export.BatchSize = MaxBatchSize
	}
	if c.Export.ProgressEvery <= 0 {
		c.Export.ProgressEvery = 10
	}
	if c.API.MaxAttempts <= 0 {
		c.API.MaxAttempts = 1
	}
}

// ValidateExport checks the credentials the export command needs before any network call.
func (c Config) ValidateExport() error {
	var missing []string
	if c.HubSpot.Tokens.AccessToken == "" {
		missing = append(missing, "HUBSPOT_ACCESS_TOKEN")
	}
	missing = append(missing, c.missingClient()...)
	return missingErr(missing)
}

// ValidateAuth checks the credentials the authorization flow needs.
func (c Config) ValidateAuth() error {
	return missingErr(c.missingClient())
}

func (c Config) missingClient() []string {
	var missing []string
	if c.HubSpot.ClientID == "" {
		missing = append(missing, "HUBSPOT_CLIENT_ID")
	}
	if c.HubSpot.ClientSecret == "" {
		missing = append(missing, "HUBSPOT_CLIENT_SECRET")
	}
	return missing
}

func missingErr(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
}

// LedgerEnabled reports whether run bookkeeping should be recorded.
func (c Config) LedgerEnabled() bool {
	return c.Storage.LedgerPath != "" && c.Storage.LedgerPath != LedgerOff
}

// Load reads YAML config from path over the defaults, then applies the environment.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return cfg, err
		}
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i > 0 {
			*dst = i
		}
	}
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
