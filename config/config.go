// Package config loads server settings from a .env file, an optional config
// file and CLASSDRAW_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "CLASSDRAW"

type Config struct {
	Env              string        `mapstructure:"env"`
	Address          string        `mapstructure:"address"`
	DataDir          string        `mapstructure:"dataDir"`
	Store            string        `mapstructure:"store"`
	SQLitePath       string        `mapstructure:"sqlitePath"`
	DatastoreProject string        `mapstructure:"datastoreProject"`
	TemplatesDir     string        `mapstructure:"templatesDir"`
	LogLevel         string        `mapstructure:"logLevel"`
	PrettyLogs       bool          `mapstructure:"prettyLogs"`
	FlushInterval    time.Duration `mapstructure:"flushInterval"`
	MaxImportSize    int64         `mapstructure:"maxImportSize"`
	SyncUndo         bool          `mapstructure:"syncUndo"`
	SessionLifetime  time.Duration `mapstructure:"sessionLifetime"`
}

func (c *Config) IsDev() bool { return c.Env == "dev" }

var defaults = map[string]any{
	"env":              "prod",
	"address":          ":8080",
	"dataDir":          "./data",
	"store":            "fs",
	"sqlitePath":       "",
	"datastoreProject": "",
	"templatesDir":     "./web/templates",
	"logLevel":         "info",
	"prettyLogs":       false,
	"flushInterval":    "5s",
	"maxImportSize":    10 << 20,
	"syncUndo":         false,
	"sessionLifetime":  "24h",
}

// Load reads envFile (a missing file is fine), then configFile if given,
// then the environment. Pass an empty envFile to skip it.
func Load(envFile, configFile string) (*Config, error) {
	return LoadWith(envFile, configFile, nil)
}

// LoadWith is Load with a hook to bind command line flags, which take
// precedence over everything else.
func LoadWith(envFile, configFile string, bind func(v *viper.Viper) error) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	v := New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
			}
		}
	}
	if bind != nil {
		if err := bind(v); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}
	return Decode(v)
}

// New returns a viper instance with defaults and environment binding set up.
// Flags can be bound to it before Decode.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// camelCase keys do not map onto SCREAMING_CASE by themselves
	for k := range defaults {
		v.BindEnv(k, EnvPrefix+"_"+envName(k))
	}
	return v
}

// envName turns dataDir into DATA_DIR.
func envName(key string) string {
	var b strings.Builder
	for i, r := range key {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case "fs", "sqlite", "datastore":
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want fs, sqlite or datastore)", c.Store))
	}
	if c.Store == "datastore" && c.DatastoreProject == "" {
		errs = append(errs, errors.New("datastore store needs datastoreProject"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flushInterval must be positive"))
	}
	if c.MaxImportSize <= 0 {
		errs = append(errs, errors.New("maxImportSize must be positive"))
	}
	return errors.Join(errs...)
}
