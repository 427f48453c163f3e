package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "ENTRADA"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = DatabaseDriverSQLite
	defaultDatabasePath       = "entrada.db"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultCookieName         = "app_session"
	defaultSessionIssuer      = "tauth"
	defaultSessionLeeway      = 30 * time.Second
	defaultTemplatesDir       = "templates"
	defaultCounty             = "LOS ANGELES"
	defaultState              = "CA"
	defaultExpectedFields     = 95
	defaultAutosaveDebounce   = 2000 * time.Millisecond
	defaultAutosaveRetryDelay = 5000 * time.Millisecond
	defaultAutosaveIdle       = 15 * time.Minute
	defaultConcurrency        = 4
	defaultCacheTTL           = time.Hour
	defaultAllowedOrigin      = "http://localhost:3000"
)

const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	TAuthSigningKey string
	TAuthCookieName string
	TAuthIssuer     string
	TAuthLeeway     time.Duration

	RenderEnabled   bool
	TemplatesDir    string
	DefaultCounty   string
	CompressOutput  bool
	DefaultState    string
	CatalogPath     string
	ExpectedFields  int
	GenerateWorkers int

	AutosaveDebounce    time.Duration
	AutosaveRetryDelay  time.Duration
	AutosaveIdleTimeout time.Duration

	ValkeyAddress string
	CacheTTL      time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultSessionIssuer)
	configViper.SetDefault("tauth.leeway", defaultSessionLeeway)
	configViper.SetDefault("render.enabled", true)
	configViper.SetDefault("render.templates_dir", defaultTemplatesDir)
	configViper.SetDefault("render.default_county", defaultCounty)
	configViper.SetDefault("render.compress", false)
	configViper.SetDefault("forms.default_state", defaultState)
	configViper.SetDefault("completion.expected_fields", defaultExpectedFields)
	configViper.SetDefault("autosave.debounce", defaultAutosaveDebounce)
	configViper.SetDefault("autosave.retry_delay", defaultAutosaveRetryDelay)
	configViper.SetDefault("autosave.idle_timeout", defaultAutosaveIdle)
	configViper.SetDefault("generate.concurrency", defaultConcurrency)
	configViper.SetDefault("cache.ttl", defaultCacheTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		AllowedOrigins:      originList(configViper.GetStringSlice("http.allowed_origins")),
		LogLevel:            configViper.GetString("log.level"),
		LogFormat:           configViper.GetString("log.format"),
		DatabaseDriver:      strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:        configViper.GetString("database.path"),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		TAuthSigningKey:     configViper.GetString("tauth.signing_secret"),
		TAuthCookieName:     configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:         configViper.GetString("tauth.issuer"),
		TAuthLeeway:         configViper.GetDuration("tauth.leeway"),
		RenderEnabled:       configViper.GetBool("render.enabled"),
		TemplatesDir:        configViper.GetString("render.templates_dir"),
		DefaultCounty:       configViper.GetString("render.default_county"),
		CompressOutput:      configViper.GetBool("render.compress"),
		DefaultState:        configViper.GetString("forms.default_state"),
		CatalogPath:         configViper.GetString("forms.catalog_path"),
		ExpectedFields:      configViper.GetInt("completion.expected_fields"),
		GenerateWorkers:     configViper.GetInt("generate.concurrency"),
		AutosaveDebounce:    configViper.GetDuration("autosave.debounce"),
		AutosaveRetryDelay:  configViper.GetDuration("autosave.retry_delay"),
		AutosaveIdleTimeout: configViper.GetDuration("autosave.idle_timeout"),
		ValkeyAddress:       configViper.GetString("cache.valkey_address"),
		CacheTTL:            configViper.GetDuration("cache.ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required when database.driver is %s", DatabaseDriverPostgres)
		}
	default:
		return fmt.Errorf("database.driver must be %s or %s", DatabaseDriverSQLite, DatabaseDriverPostgres)
	}
	if c.ExpectedFields <= 0 {
		return fmt.Errorf("completion.expected_fields must be positive")
	}
	if c.AutosaveDebounce <= 0 || c.AutosaveRetryDelay <= 0 {
		return fmt.Errorf("autosave.debounce and autosave.retry_delay must be positive")
	}
	if c.GenerateWorkers <= 0 {
		return fmt.Errorf("generate.concurrency must be positive")
	}
	for _, origin := range c.AllowedOrigins {
		if err := validateOrigin(origin); err != nil {
			return fmt.Errorf("http.allowed_origins: %w", err)
		}
	}
	return nil
}

// originList flattens comma-separated entries, as given by
// ENTRADA_HTTP_ALLOWED_ORIGINS, into one list of origins.
func originList(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}

// validateOrigin accepts only exact scheme://host[:port] origins. Wildcards are
// refused because credentialed requests are allowed.
func validateOrigin(origin string) error {
	if strings.Contains(origin, "*") {
		return fmt.Errorf("%q: wildcards are not allowed", origin)
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("%q: %w", origin, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%q: scheme must be http or https", origin)
	}
	if parsed.Host == "" || parsed.Path != "" || parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("%q: must be scheme://host[:port]", origin)
	}
	return nil
}
