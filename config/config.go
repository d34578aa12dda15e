package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/slighter12/go-lib/database/postgres"
)

const (
	defaultPath               = "."
	defaultMaxRequestBodySize = "100KB"
	defaultPort               = 3000

	// DefaultAccessExpiresIn is used when no access token lifetime is configured.
	DefaultAccessExpiresIn = "24h"
	// DefaultRefreshExpiresIn is used when no refresh token lifetime is configured.
	DefaultRefreshExpiresIn = "7d"

	defaultBcryptCost        = 10
	defaultAccessCookieName  = "access_token"
	defaultRefreshCookieName = "refresh_token"
	defaultRateLimitMax      = 100
	defaultRateLimitWindow   = 15 * time.Minute

	envProduction = "production"
)

// legacyEnvKeys maps the flat variable names used by older deployments to config paths.
var legacyEnvKeys = map[string]string{
	"NODE_ENV":               "env.env",
	"PORT":                   "http.port",
	"DATABASE_URL":           "database.url",
	"JWT_SECRET":             "jwt.accessSecret",
	"JWT_REFRESH_SECRET":     "jwt.refreshSecret",
	"JWT_EXPIRES_IN":         "jwt.accessExpiresIn",
	"JWT_REFRESH_EXPIRES_IN": "jwt.refreshExpiresIn",
	"CLIENT_URL":             "cors.allowOrigins",
}

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
		Debug       bool   `json:"debug" yaml:"debug"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	HTTP struct {
		Port               int    `json:"port" yaml:"port" validate:"min=1,max=65535"`
		MaxRequestBodySize string `json:"maxRequestBodySize" yaml:"maxRequestBodySize"`
		Timeouts           struct {
			ReadTimeout       time.Duration `json:"readTimeout" yaml:"readTimeout"`
			ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
			WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
			IdleTimeout       time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
		} `json:"timeouts" yaml:"timeouts"`
	} `json:"http" yaml:"http"`

	Database DatabaseConfig `json:"database" yaml:"database"`

	Postgres *postgres.DBConn `json:"postgres" yaml:"postgres" mapstructure:"postgres"`

	JWT JWTConfig `json:"jwt" yaml:"jwt"`

	Auth AuthConfig `json:"auth" yaml:"auth"`

	CORS struct {
		AllowOrigins []string `json:"allowOrigins" yaml:"allowOrigins"`
	} `json:"cors" yaml:"cors"`

	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`

	// Redis is optional; when absent the rate limiter keeps its windows in memory.
	Redis *RedisConfig `json:"redis" yaml:"redis"`

	Metrics struct {
		Enabled bool `json:"enabled" yaml:"enabled"`
	} `json:"metrics" yaml:"metrics"`
}

// DatabaseConfig selects how the PostgreSQL connection is opened.
type DatabaseConfig struct {
	// URL is a libpq/pgx DSN. It takes precedence over the postgres block.
	URL         string `json:"url" yaml:"url"`
	AutoMigrate bool   `json:"autoMigrate" yaml:"autoMigrate"`
}

// JWTConfig holds the signing secrets and lifetimes of both token kinds.
type JWTConfig struct {
	AccessSecret     string `json:"accessSecret" yaml:"accessSecret" validate:"required"`
	RefreshSecret    string `json:"refreshSecret" yaml:"refreshSecret" validate:"required,nefield=AccessSecret"`
	AccessExpiresIn  string `json:"accessExpiresIn" yaml:"accessExpiresIn" validate:"duration"`
	RefreshExpiresIn string `json:"refreshExpiresIn" yaml:"refreshExpiresIn" validate:"duration"`
}

// AuthConfig defines authentication-related configuration
type AuthConfig struct {
	BcryptCost              int           `json:"bcryptCost" yaml:"bcryptCost" validate:"min=4,max=31"`
	AccessCookieName        string        `json:"accessCookieName" yaml:"accessCookieName"`
	RefreshCookieName       string        `json:"refreshCookieName" yaml:"refreshCookieName"`
	RevocationPruneInterval time.Duration `json:"revocationPruneInterval" yaml:"revocationPruneInterval" validate:"min=0"`
}

// RateLimitConfig bounds requests per client IP on the credential endpoints.
type RateLimitConfig struct {
	Max    int           `json:"max" yaml:"max" validate:"min=1"`
	Window time.Duration `json:"window" yaml:"window" validate:"min=1s"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

// IsProduction reports whether secure-only cookies must be issued.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env.Env, envProduction)
}

// LoadWithEnv loads .yaml files through koanf.
func LoadWithEnv[T any](currEnv string, configPath ...string) (*T, error) {
	cfg := new(T)
	koanfInstance := koanf.New(".")

	searchPaths := []string{defaultPath}
	if len(configPath) != 0 {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "os.Getwd")
		}
		for _, path := range configPath {
			abs := filepath.Join(pwd, path)
			searchPaths = append(searchPaths, abs)
		}
	}

	var configFile string
	var found bool
	for _, path := range searchPaths {
		candidate := filepath.Join(path, currEnv+".yaml")
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
			found = true

			break
		}
	}

	if !found {
		return nil, errors.Errorf("config file %s.yaml not found in any search path", currEnv)
	}

	if err := koanfInstance.Load(file.Provider(configFile), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "read %s config failed", currEnv)
	}

	existingConfigMap := koanfInstance.Raw()

	if err := koanfInstance.Load(env.Provider(".", env.Opt{
		TransformFunc: func(k, v string) (string, any) {
			if alias, ok := legacyEnvKeys[k]; ok {
				return alias, v
			}

			// POSTGRES_SSLMODE -> postgres.sslMode (aligned with the YAML keys)
			key := canonicalizeEnvKey(k, existingConfigMap)
			if !underExistingSection(key, existingConfigMap) {
				return "", nil
			}

			return key, v
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	if err := koanfInstance.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s config failed", currEnv)
	}

	return cfg, nil
}

// New loads, defaults and validates the configuration. Any error aborts startup.
func New() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg, err := LoadWithEnv[Config](configName(), "config", "../config", "../../config")
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if cfg.Postgres != nil {
		cfg.Postgres.Replicas = buildReplicasFromEnv()
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// configName picks the YAML file name; APP_CONFIG=staging loads staging.yaml.
func configName() string {
	if name := strings.TrimSpace(os.Getenv("APP_CONFIG")); name != "" {
		return name
	}

	return "config"
}

// loadDotEnv populates the process environment from a dotenv file when one exists.
// Variables already set in the environment win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errors.Wrapf(err, "stat %s", path)
	}

	return errors.Wrapf(godotenv.Load(path), "load %s", path)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Env.Env) == "" {
		cfg.Env.Env = "development"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = defaultPort
	}
	if strings.TrimSpace(cfg.HTTP.MaxRequestBodySize) == "" {
		cfg.HTTP.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if strings.TrimSpace(cfg.JWT.AccessExpiresIn) == "" {
		cfg.JWT.AccessExpiresIn = DefaultAccessExpiresIn
	}
	if strings.TrimSpace(cfg.JWT.RefreshExpiresIn) == "" {
		cfg.JWT.RefreshExpiresIn = DefaultRefreshExpiresIn
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = defaultBcryptCost
	}
	if cfg.Auth.AccessCookieName == "" {
		cfg.Auth.AccessCookieName = defaultAccessCookieName
	}
	if cfg.Auth.RefreshCookieName == "" {
		cfg.Auth.RefreshCookieName = defaultRefreshCookieName
	}
	if cfg.RateLimit.Max == 0 {
		cfg.RateLimit.Max = defaultRateLimitMax
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = defaultRateLimitWindow
	}
}

func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

// underExistingSection keeps unrelated process variables (HOME, ENV, PATH) out of the
// config tree: only nested keys below a top-level YAML section are accepted.
func underExistingSection(key string, existing map[string]any) bool {
	section, _, nested := strings.Cut(key, ".")
	if !nested {
		return false
	}

	_, ok := existing[section]

	return ok
}

func findExistingSegment(current map[string]any, segment string) (matched string, next map[string]any, ok bool) {
	if len(current) == 0 {
		return "", nil, false
	}

	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}

		child, _ := value.(map[string]any)

		return key, child, true
	}

	return "", nil, false
}

func normalizeToken(s string) string {
	var normalized strings.Builder
	normalized.Grow(len(s))

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		normalized.WriteRune(unicode.ToLower(r))
	}

	return normalized.String()
}

// buildReplicasFromEnv reads POSTGRES_REPLICAS_{index}_{HOST,PORT,USERNAME,PASSWORD}.
func buildReplicasFromEnv() []postgres.ConnectionConfig {
	var replicas []postgres.ConnectionConfig

	for i := 0; ; i++ {
		prefix := "POSTGRES_REPLICAS_" + strconv.Itoa(i) + "_"

		host := os.Getenv(prefix + "HOST")
		port := os.Getenv(prefix + "PORT")
		if host == "" || port == "" {
			break
		}

		replicas = append(replicas, postgres.ConnectionConfig{
			Host:     host,
			Port:     port,
			UserName: os.Getenv(prefix + "USERNAME"),
			Password: os.Getenv(prefix + "PASSWORD"),
		})
	}

	return replicas
}
