// Package config loads servicedesk configuration from defaults, an optional
// YAML file and SERVICEDESK_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

const (
	EnvPrefix         = "SERVICEDESK_"
	ConfigPathEnvVar  = "SERVICEDESK_CONFIG"
	DefaultConfigFile = "servicedesk.yaml"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Backup    BackupConfig    `koanf:"backup"`
	Integrity IntegrityConfig `koanf:"integrity"`
	Alert     AlertConfig     `koanf:"alert"`
	Offsite   OffsiteConfig   `koanf:"offsite"`
	Schedule  ScheduleConfig  `koanf:"schedule"`
	Auth      AuthConfig      `koanf:"auth"`
}

type ServerConfig struct {
	Port           int      `koanf:"port" validate:"min=1,max=65535"`
	BaseURL        string   `koanf:"base_url" validate:"omitempty,url"`
	LogLevel       string   `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string   `koanf:"log_format" validate:"oneof=text json"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	// RateLimit is requests per second per client on the API; 0 disables it.
	RateLimit float64 `koanf:"rate_limit" validate:"min=0"`
	RateBurst int     `koanf:"rate_burst" validate:"min=0"`
}

type DatabaseConfig struct {
	// Path is the live servicedesk database that backups copy and restores replace.
	Path string `koanf:"path" validate:"required"`
	// CatalogPath holds the backup and integrity-check ledger.
	CatalogPath string `koanf:"catalog_path" validate:"required,nefield=Path"`
}

type BackupConfig struct {
	Dir            string        `koanf:"dir" validate:"required"`
	SafetyDir      string        `koanf:"safety_dir" validate:"required"`
	ArchiveCommand string        `koanf:"archive_command" validate:"required"`
	ArchiveTimeout time.Duration `koanf:"archive_timeout" validate:"gt=0"`
}

type IntegrityConfig struct {
	Mode    string        `koanf:"mode" validate:"oneof=process driver"`
	Command string        `koanf:"command" validate:"required_if=Mode process"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

type AlertConfig struct {
	Email     string `koanf:"email" validate:"omitempty,email"`
	From      string `koanf:"from" validate:"omitempty,email"`
	Transport string `koanf:"transport" validate:"oneof=none postmark smtp"`

	PostmarkToken string `koanf:"postmark_token" validate:"required_if=Transport postmark"`

	SMTPHost     string `koanf:"smtp_host" validate:"required_if=Transport smtp"`
	SMTPPort     int    `koanf:"smtp_port" validate:"min=0,max=65535"`
	SMTPUsername string `koanf:"smtp_username"`
	SMTPPassword string `koanf:"smtp_password"`
	SMTPTLS      bool   `koanf:"smtp_tls"`

	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// Enabled reports whether failure alerts are configured end to end.
func (a AlertConfig) Enabled() bool {
	return a.Email != "" && a.Transport != "none"
}

type OffsiteConfig struct {
	Endpoint   string `koanf:"endpoint" validate:"omitempty,url"`
	Bucket     string `koanf:"bucket"`
	Region     string `koanf:"region"`
	AccessKey  string `koanf:"access_key" validate:"required_with=Bucket"`
	SecretKey  string `koanf:"secret_key" validate:"required_with=Bucket"`
	Prefix     string `koanf:"prefix"`
	Passphrase string `koanf:"passphrase" validate:"omitempty,min=12"`
}

type ScheduleConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Daily     string `koanf:"daily" validate:"omitempty,cron"`
	Weekly    string `koanf:"weekly" validate:"omitempty,cron"`
	Monthly   string `koanf:"monthly" validate:"omitempty,cron"`
	Integrity string `koanf:"integrity" validate:"omitempty,cron"`
}

type AuthConfig struct {
	// OperatorTokens are bcrypt hashes of the bearer tokens allowed to call
	// the backup API. Empty leaves the API unauthenticated.
	OperatorTokens []string `koanf:"operator_tokens" validate:"dive,startswith=$2"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:      8080,
			LogLevel:  "info",
			LogFormat: "text",
			RateLimit: 5,
			RateBurst: 10,
		},
		Database: DatabaseConfig{
			Path:        "data/servicedesk.db",
			CatalogPath: "data/catalog.db",
		},
		Backup: BackupConfig{
			Dir:            "data/backups",
			SafetyDir:      "data/pre-restore",
			ArchiveCommand: "sd-archive",
			ArchiveTimeout: 30 * time.Minute,
		},
		Integrity: IntegrityConfig{
			Mode:    "process",
			Command: "sqlite3",
			Timeout: 5 * time.Minute,
		},
		Alert: AlertConfig{
			Transport:       "none",
			SMTPPort:        587,
			BreakerFailures: 3,
			BreakerTimeout:  5 * time.Minute,
		},
		Offsite: OffsiteConfig{
			Region: "us-east-1",
		},
		Schedule: ScheduleConfig{
			Enabled:   true,
			Daily:     "0 2 * * *",
			Weekly:    "0 3 * * 0",
			Monthly:   "0 4 1 * *",
			Integrity: "0 5 * * *",
		},
	}
}

// Load reads configuration. path names a YAML file; when empty the file
// named by SERVICEDESK_CONFIG is used, then ./servicedesk.yaml if present.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// envTransformFunc maps SERVICEDESK_BACKUP_ARCHIVE_TIMEOUT to
// backup.archive_timeout: the first underscore after the prefix separates
// the section from the key.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return ""
	}
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + rest
}

var sliceConfigPaths = []string{
	"server.allowed_origins",
	"auth.operator_tokens",
}

// splitSliceFields turns comma-separated environment values into slices.
func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cronParser.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
