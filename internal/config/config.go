// Package config loads application configuration from environment variables
// and an optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Automation modes.
const (
	ModeDisabled = "disabled"
	ModeDryRun   = "dry_run"
	ModeEnabled  = "enabled"
)

// Messaging providers.
const (
	ProviderNone      = "none"
	ProviderMetaCloud = "meta_cloud"
)

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Log        LogConfig        `koanf:"log"`
	Automation AutomationConfig `koanf:"automation"`
	WhatsApp   WhatsAppConfig   `koanf:"whatsapp"`
	Internal   InternalConfig   `koanf:"internal"`
	Voucher    VoucherConfig    `koanf:"voucher"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metricsport"`
	ReadTimeout       time.Duration `koanf:"readtimeout"`
	ReadHeaderTimeout time.Duration `koanf:"readheadertimeout"`
	WriteTimeout      time.Duration `koanf:"writetimeout"`
	IdleTimeout       time.Duration `koanf:"idletimeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"maxopenconns"`
	MaxIdleConns    int           `koanf:"maxidleconns"`
	ConnMaxLifetime time.Duration `koanf:"connmaxlifetime"`
	ConnectTimeout  time.Duration `koanf:"connecttimeout"`
	ConnectAttempts int           `koanf:"connectattempts"`
	MigrationsPath  string        `koanf:"migrationspath"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// TemplateConfig identifies a pre-approved message template.
type TemplateConfig struct {
	Name     string `koanf:"name"`
	Language string `koanf:"language"`
}

// AutomationConfig controls the notification job engine.
type AutomationConfig struct {
	// Mode is the global switch: disabled kills all processing, dry_run
	// exercises the pipeline without provider calls, enabled sends live.
	Mode     string `koanf:"mode" validate:"oneof=disabled dry_run enabled"`
	Provider string `koanf:"provider" validate:"oneof=none meta_cloud"`

	// QueueEnabled gates whether the scheduler persists any job at all.
	QueueEnabled bool `koanf:"queueenabled"`
	// DispatchOnQueue makes a successful enqueue immediately process that
	// single job, so delivery does not wait for the poller or cron.
	DispatchOnQueue bool `koanf:"dispatchonqueue"`

	BatchLimit          int `koanf:"batchlimit"`
	MaxRetries          int `koanf:"maxretries"`
	RetryBaseDelaySecs  int `koanf:"retrybasedelayseconds"`

	// AllowedTenantIDs is an allow-list; empty means all tenants allowed.
	AllowedTenantIDs []string `koanf:"allowedtenantids"`

	CreatedTemplate  TemplateConfig `koanf:"createdtemplate"`
	ReminderTemplate TemplateConfig `koanf:"remindertemplate"`

	StudioLocationLine string `koanf:"studiolocationline"`

	PollerEnabled  bool          `koanf:"pollerenabled"`
	PollerInterval time.Duration `koanf:"pollerinterval"`
}

// RetryBaseDelay returns the backoff unit as a duration.
func (c AutomationConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySecs) * time.Second
}

// TenantAllowed reports whether the tenant passes the allow-list.
func (c AutomationConfig) TenantAllowed(tenantID string) bool {
	if len(c.AllowedTenantIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedTenantIDs {
		if id == tenantID {
			return true
		}
	}
	return false
}

// WhatsAppConfig contains Meta Cloud API settings.
type WhatsAppConfig struct {
	APIBaseURL    string        `koanf:"apibaseurl"`
	AccessToken   string        `koanf:"accesstoken"`
	PhoneNumberID string        `koanf:"phonenumberid"`
	AppSecret     string        `koanf:"appsecret"`
	VerifyToken   string        `koanf:"verifytoken"`
	Timeout       time.Duration `koanf:"timeout"`
	RateLimit     float64       `koanf:"ratelimit"`
}

// InternalConfig protects the internal processing endpoints.
type InternalConfig struct {
	ProcessSecret string `koanf:"processsecret"`
	CronSecret    string `koanf:"cronsecret"`
}

// VoucherConfig configures voucher link building.
type VoucherConfig struct {
	BaseURL string `koanf:"baseurl"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.host":              "0.0.0.0",
		"server.port":              "8080",
		"server.metricsport":       "9090",
		"server.readtimeout":       "15s",
		"server.readheadertimeout": "5s",
		"server.writetimeout":      "30s",
		"server.idletimeout":       "60s",

		"database.maxopenconns":    10,
		"database.maxidleconns":    2,
		"database.connmaxlifetime": "30m",
		"database.connecttimeout":  "30s",
		"database.connectattempts": 5,
		"database.migrationspath":  "migrations",

		"log.level":  "info",
		"log.format": "json",

		"automation.mode":                  ModeDisabled,
		"automation.provider":              ProviderNone,
		"automation.queueenabled":          true,
		"automation.dispatchonqueue":       true,
		"automation.batchlimit":            20,
		"automation.maxretries":            3,
		"automation.retrybasedelayseconds": 120,
		"automation.createdtemplate.name":      "agendamento_confirmado",
		"automation.createdtemplate.language":  "pt_BR",
		"automation.remindertemplate.name":     "lembrete_24h",
		"automation.remindertemplate.language": "pt_BR",
		"automation.pollerenabled":             false,
		"automation.pollerinterval":            "60s",

		"whatsapp.apibaseurl": "https://graph.facebook.com/v21.0",
		"whatsapp.timeout":    "15s",
		"whatsapp.ratelimit":  10.0,
	}
}

// Load reads configuration from defaults, an optional YAML file and
// AGENDA_* environment variables, in that order of precedence. Nested keys
// use a double underscore in the environment, e.g. AGENDA_AUTOMATION__MODE.
func Load(filePath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "AGENDA_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "AGENDA_"))
			key = strings.ReplaceAll(key, "__", ".")
			// Comma-separated values for list keys (tenant allow-list).
			if key == "automation.allowedtenantids" {
				var ids []string
				for _, part := range strings.Split(value, ",") {
					if part = strings.TrimSpace(part); part != "" {
						ids = append(ids, part)
					}
				}
				return key, ids
			}
			return key, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// normalize clamps values into their supported ranges instead of failing.
func (c *Config) normalize() {
	if c.Automation.BatchLimit < 1 {
		c.Automation.BatchLimit = 1
	}
	if c.Automation.BatchLimit > 100 {
		c.Automation.BatchLimit = 100
	}
	if c.Automation.MaxRetries < 0 {
		c.Automation.MaxRetries = 0
	}
	if c.Automation.RetryBaseDelaySecs < 1 {
		c.Automation.RetryBaseDelaySecs = 1
	}
	if c.Automation.PollerInterval < time.Second {
		c.Automation.PollerInterval = time.Second
	}
}
