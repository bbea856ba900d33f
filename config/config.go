// CLAUDE:SUMMARY feedwatch configuration: YAML file, defaults, FEEDWATCH_* env overrides, validation, conversion to component configs.
// Package config loads the feedwatch configuration. It is read once at
// startup by the entry point and passed down as plain values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/feedwatch/notify"
)

// Config is the top-level configuration.
type Config struct {
	Account             string `yaml:"account"`
	Credential          string `yaml:"credential"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`

	Browser       BrowserConfig       `yaml:"browser"`
	Email         EmailConfig         `yaml:"email"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Supervisor    SupervisorConfig    `yaml:"supervisor"`
	Observability ObservabilityConfig `yaml:"observability"`
	Status        StatusConfig        `yaml:"status"`
	Log           LogConfig           `yaml:"log"`
}

// BrowserConfig controls the Chrome session.
type BrowserConfig struct {
	Headless         *bool         `yaml:"headless"`
	ExecutablePath   string        `yaml:"executable_path"`
	RemoteURL        string        `yaml:"remote_url"`
	SiteURL          string        `yaml:"site_url"`
	CookieName       string        `yaml:"cookie_name"`
	WaitTimeout      time.Duration `yaml:"wait_timeout"`
	Stealth          bool          `yaml:"stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	IncludePinned    bool          `yaml:"include_pinned"`
}

// IsHeadless reports the headless flag; unset means true.
func (b BrowserConfig) IsHeadless() bool { return b.Headless == nil || *b.Headless }

// EmailConfig is the SMTP destination.
type EmailConfig struct {
	Provider string `yaml:"provider"` // 163 | qq | gmail | outlook | yahoo | custom
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	SSL      bool   `yaml:"ssl"`
	StartTLS bool   `yaml:"starttls"`
}

// WebhookConfig is the optional JSON webhook destination.
type WebhookConfig struct {
	URL string `yaml:"url"`
}

// SupervisorConfig tunes the health supervisor.
type SupervisorConfig struct {
	HeartbeatPeriod        time.Duration `yaml:"heartbeat_period"` // 0 = max(10s, interval/2)
	RetryDelay             time.Duration `yaml:"retry_delay"`
	MaxErrors              int           `yaml:"max_errors"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	CPUThreshold           float64       `yaml:"cpu_threshold"`
	MemoryThresholdMB      float64       `yaml:"memory_threshold_mb"`
	StopOnFatal            bool          `yaml:"stop_on_fatal"`
}

// ObservabilityConfig locates the journal.
type ObservabilityConfig struct {
	DBPath        string `yaml:"db_path"` // empty disables the journal
	RetentionDays int    `yaml:"retention_days"`
}

// StatusConfig is the HTTP status listener.
type StatusConfig struct {
	Addr string `yaml:"addr"` // empty disables HTTP
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults. Unknown keys are rejected; an
// empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Account = strings.TrimLeft(strings.TrimSpace(c.Account), "@")
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 60
	}
	if c.Browser.SiteURL == "" {
		c.Browser.SiteURL = "https://x.com"
	}
	if c.Browser.CookieName == "" {
		c.Browser.CookieName = "auth_token"
	}
	if c.Browser.WaitTimeout <= 0 {
		c.Browser.WaitTimeout = 10 * time.Second
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"images", "media", "fonts"}
	}
	if c.Email.Provider == "" {
		c.Email.Provider = "163"
	}
	if c.Supervisor.RetryDelay <= 0 {
		c.Supervisor.RetryDelay = 5 * time.Second
	}
	if c.Supervisor.MaxErrors <= 0 {
		c.Supervisor.MaxErrors = 3
	}
	if c.Supervisor.MaxConsecutiveFailures <= 0 {
		c.Supervisor.MaxConsecutiveFailures = 5
	}
	if c.Supervisor.CPUThreshold <= 0 {
		c.Supervisor.CPUThreshold = 90
	}
	if c.Supervisor.MemoryThresholdMB <= 0 {
		c.Supervisor.MemoryThresholdMB = 500
	}
	if c.Observability.RetentionDays <= 0 {
		c.Observability.RetentionDays = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Environment variables read by ApplyEnv.
const (
	EnvAccount      = "FEEDWATCH_ACCOUNT"
	EnvCredential   = "FEEDWATCH_CREDENTIAL"
	EnvSMTPPassword = "FEEDWATCH_SMTP_PASSWORD"
	EnvWebhookURL   = "FEEDWATCH_WEBHOOK_URL"
)

// ApplyEnv overrides fields from the environment. getenv is os.Getenv in
// production.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAccount); v != "" {
		c.Account = strings.TrimLeft(strings.TrimSpace(v), "@")
	}
	if v := getenv(EnvCredential); v != "" {
		c.Credential = v
	}
	if v := getenv(EnvSMTPPassword); v != "" {
		c.Email.Password = v
	}
	if v := getenv(EnvWebhookURL); v != "" {
		c.Webhook.URL = v
	}
}

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string { return e.Field + ": " + e.Message }

// ValidationErrors collects every invalid field.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("config: %d invalid field(s): %s", len(errs), strings.Join(msgs, "; "))
}

// Validate checks what the monitor needs to start. Email is optional.
func (c *Config) Validate() error {
	var errs ValidationErrors
	if c.Account == "" {
		errs = append(errs, ValidationError{"account", "required"})
	}
	if c.Credential == "" {
		errs = append(errs, ValidationError{"credential", "required"})
	}
	if c.PollIntervalSeconds < 1 {
		errs = append(errs, ValidationError{"poll_interval_seconds", "must be >= 1"})
	}
	if c.Email.Provider != "custom" {
		if _, ok := notify.Presets[strings.ToLower(c.Email.Provider)]; !ok {
			errs = append(errs, ValidationError{"email.provider", fmt.Sprintf("unknown provider %q", c.Email.Provider)})
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"log.level", fmt.Sprintf("unknown level %q", c.Log.Level)})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Interval is the poll interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SMTP converts the email section for notify.NewSMTP.
func (c *Config) SMTP() notify.SMTPConfig {
	provider := c.Email.Provider
	if provider == "custom" {
		provider = ""
	}
	return notify.SMTPConfig{
		Provider: provider,
		Host:     c.Email.SMTPHost,
		Port:     c.Email.SMTPPort,
		Username: c.Email.Username,
		Password: c.Email.Password,
		From:     c.Email.From,
		SSL:      c.Email.SSL,
		StartTLS: c.Email.StartTLS,
	}
}

// Recipient is the notification address; it defaults to the sender account.
func (c *Config) Recipient() string {
	if c.Email.To != "" {
		return c.Email.To
	}
	if c.Email.From != "" {
		return c.Email.From
	}
	return c.Email.Username
}

// EmailComplete reports whether mail can be sent.
func (c *Config) EmailComplete() bool {
	s := c.SMTP()
	s.ApplyPreset()
	return s.Complete() && c.Recipient() != ""
}
