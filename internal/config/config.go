package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"business-objects/internal/rules"
)

type InstrumentationConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RetentionDays   int     `mapstructure:"retention_days"`
	SamplingRate    float64 `mapstructure:"sampling_rate"`
	BufferSize      int     `mapstructure:"buffer_size"`
	FlushIntervalMs int     `mapstructure:"flush_interval_ms"`
}

type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Rules           RulesConfig           `mapstructure:"rules"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation"`
	JWTSecret       string                `mapstructure:"jwt_secret"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// RulesConfig holds the rule engine settings.
type RulesConfig struct {
	// DefaultNoAccessBehavior applies to models that do not declare their own:
	// throwError, showError, showWarning or showInformation.
	DefaultNoAccessBehavior string `mapstructure:"default_no_access_behavior"`
	// ModelsDir holds model definition files loaded at startup. Definitions
	// stored in the database take precedence.
	ModelsDir string `mapstructure:"models_dir"`
}

// NoAccessBehavior parses DefaultNoAccessBehavior.
func (r RulesConfig) NoAccessBehavior() (rules.NoAccessBehavior, error) {
	if r.DefaultNoAccessBehavior == "" {
		return rules.ThrowError, nil
	}
	return rules.ParseNoAccessBehavior(r.DefaultNoAccessBehavior)
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

// Load reads app.yaml from the working directory or the repository root.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")
	return load(v)
}

// LoadFile reads the given config file.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "business_objects")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("rules.default_no_access_behavior", "throwError")
	v.SetDefault("rules.models_dir", "./models")
	v.SetDefault("jwt_secret", "changeme-secret")
	v.SetDefault("instrumentation.enabled", true)
	v.SetDefault("instrumentation.retention_days", 7)
	v.SetDefault("instrumentation.sampling_rate", 1.0)
	v.SetDefault("instrumentation.buffer_size", 500)
	v.SetDefault("instrumentation.flush_interval_ms", 100)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("database.driver: unsupported driver %q", cfg.Database.Driver)
	}
	if _, err := cfg.Rules.NoAccessBehavior(); err != nil {
		return nil, fmt.Errorf("rules.default_no_access_behavior: %w", err)
	}

	return &cfg, nil
}
