package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/tracker"
	"github.com/spf13/viper"
)

const (
	envPrefix               = "CAREERTRACK"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "careertrack.db"
	defaultLogLevel         = "info"
	defaultLogEncoding      = "json"
	defaultCookieName       = "app_session"
	defaultSessionIssuer    = "tauth"
	defaultStreamTokenTTL   = 5 * time.Minute
	defaultTransitionPolicy = tracker.PolicyPermissive
	defaultXPExchange       = "careertrack.xp"
	defaultXPRoutingKey     = "xp.awarded"
	defaultXPQueue          = "careertrack.xp.awarded"
	defaultXPAwardTimeout   = 10 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	LogEncoding        string
	TAuthSigningKey    string
	TAuthCookieName    string
	TAuthIssuer        string
	StreamSigningKey   string
	StreamTokenTTL     time.Duration
	TransitionPolicy   string
	XPBrokerURL        string
	XPExchange         string
	XPRoutingKey       string
	XPQueue            string
	XPAwardTimeout     time.Duration
	CORSAllowedOrigins []string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultSessionIssuer)
	configViper.SetDefault("stream.token_ttl", defaultStreamTokenTTL)
	configViper.SetDefault("tracker.transition_policy", defaultTransitionPolicy)
	configViper.SetDefault("xp.exchange", defaultXPExchange)
	configViper.SetDefault("xp.routing_key", defaultXPRoutingKey)
	configViper.SetDefault("xp.queue", defaultXPQueue)
	configViper.SetDefault("xp.award_timeout", defaultXPAwardTimeout)
	configViper.SetDefault("cors.allowed_origins", []string{})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		LogEncoding:        configViper.GetString("log.encoding"),
		TAuthSigningKey:    configViper.GetString("tauth.signing_secret"),
		TAuthCookieName:    configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:        configViper.GetString("tauth.issuer"),
		StreamSigningKey:   configViper.GetString("stream.signing_secret"),
		StreamTokenTTL:     configViper.GetDuration("stream.token_ttl"),
		TransitionPolicy:   configViper.GetString("tracker.transition_policy"),
		XPBrokerURL:        strings.TrimSpace(configViper.GetString("xp.broker_url")),
		XPExchange:         configViper.GetString("xp.exchange"),
		XPRoutingKey:       configViper.GetString("xp.routing_key"),
		XPQueue:            configViper.GetString("xp.queue"),
		XPAwardTimeout:     configViper.GetDuration("xp.award_timeout"),
		CORSAllowedOrigins: splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
	}
	if strings.TrimSpace(cfg.StreamSigningKey) == "" {
		cfg.StreamSigningKey = cfg.TAuthSigningKey
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
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	if c.StreamTokenTTL <= 0 {
		return fmt.Errorf("stream.token_ttl must be positive")
	}
	if c.XPAwardTimeout <= 0 {
		return fmt.Errorf("xp.award_timeout must be positive")
	}
	if _, err := tracker.ParseTransitionPolicy(c.TransitionPolicy); err != nil {
		return fmt.Errorf("tracker.transition_policy: %w", err)
	}
	return nil
}

// splitOrigins accepts both list values and a comma separated env string.
func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
