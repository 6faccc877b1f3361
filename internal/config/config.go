package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	SessionSecret         string `mapstructure:"SESSION_SECRET"`
	SessionSecretPrevious string `mapstructure:"SESSION_SECRET_PREVIOUS"`
	SessionKeyVersion     int    `mapstructure:"SESSION_KEY_VERSION"`
	SessionTTLMinutes     int    `mapstructure:"SESSION_TTL_MINUTES"`
	CookieDomain          string `mapstructure:"COOKIE_DOMAIN"`

	FHIRBaseURL        string `mapstructure:"FHIR_BASE_URL"`
	FHIRTimeoutSeconds int    `mapstructure:"FHIR_TIMEOUT_SECONDS"`

	OIDCIssuer       string   `mapstructure:"OIDC_ISSUER"`
	OIDCClientID     string   `mapstructure:"OIDC_CLIENT_ID"`
	OIDCClientSecret string   `mapstructure:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL  string   `mapstructure:"OIDC_REDIRECT_URL"`
	OIDCScopes       []string `mapstructure:"OIDC_SCOPES"`

	TrustProxyHeaders bool   `mapstructure:"TRUST_PROXY_HEADERS"`
	AuthJWKSURL       string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience      string `mapstructure:"AUTH_AUDIENCE"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8600")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8600")
	v.SetDefault("SESSION_KEY_VERSION", 1)
	v.SetDefault("SESSION_TTL_MINUTES", 60)
	v.SetDefault("FHIR_TIMEOUT_SECONDS", 15)
	v.SetDefault("OIDC_SCOPES", "openid,profile,fhirUser,offline_access")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("PUBLIC_BASE_URL")
	v.BindEnv("SESSION_SECRET")
	v.BindEnv("SESSION_SECRET_PREVIOUS")
	v.BindEnv("SESSION_KEY_VERSION")
	v.BindEnv("SESSION_TTL_MINUTES")
	v.BindEnv("COOKIE_DOMAIN")
	v.BindEnv("FHIR_BASE_URL")
	v.BindEnv("FHIR_TIMEOUT_SECONDS")
	v.BindEnv("OIDC_ISSUER")
	v.BindEnv("OIDC_CLIENT_ID")
	v.BindEnv("OIDC_CLIENT_SECRET")
	v.BindEnv("OIDC_REDIRECT_URL")
	v.BindEnv("OIDC_SCOPES")
	v.BindEnv("TRUST_PROXY_HEADERS")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.OIDCScopes == nil {
		if scopes := v.GetString("OIDC_SCOPES"); scopes != "" {
			cfg.OIDCScopes = strings.Split(scopes, ",")
		}
	}

	if cfg.FHIRBaseURL == "" {
		return nil, fmt.Errorf("FHIR_BASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
//
// SESSION_SECRET is optional in development (an ephemeral key is generated at
// startup, so sessions do not survive restarts) but required in production.
// The OIDC client settings are required in production because without them no
// session can ever be created. TRUST_PROXY_HEADERS needs a way to verify the
// injected bearer token, so AUTH_JWKS_URL or OIDC_ISSUER must be set with it.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in production")
		}
		if c.OIDCIssuer == "" || c.OIDCClientID == "" || c.OIDCRedirectURL == "" {
			return fmt.Errorf("OIDC_ISSUER, OIDC_CLIENT_ID and OIDC_REDIRECT_URL are required in production")
		}
	}

	if c.SessionSecret != "" && len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters, got %d", len(c.SessionSecret))
	}

	if c.SessionKeyVersion < 1 {
		return fmt.Errorf("SESSION_KEY_VERSION must be >= 1, got %d", c.SessionKeyVersion)
	}
	if c.SessionSecretPrevious != "" && c.SessionKeyVersion < 2 {
		return fmt.Errorf("SESSION_SECRET_PREVIOUS requires SESSION_KEY_VERSION >= 2 (the previous secret is version N-1)")
	}

	if c.TrustProxyHeaders && c.AuthJWKSURL == "" && c.OIDCIssuer == "" {
		return fmt.Errorf("TRUST_PROXY_HEADERS requires AUTH_JWKS_URL or OIDC_ISSUER to verify injected tokens")
	}

	if c.SessionTTLMinutes <= 0 {
		return fmt.Errorf("SESSION_TTL_MINUTES must be positive, got %d", c.SessionTTLMinutes)
	}

	return nil
}
