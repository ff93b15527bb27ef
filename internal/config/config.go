// Package config resolves runtime settings.
//
// Precedence, lowest first: defaults, tasktree.yaml, .env, TASKTREE_* env
// vars, then whatever the caller binds on top (cobra flags).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "TASKTREE"
	FileName  = "tasktree"

	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNeo4j    = "neo4j"
	BackendMemory   = "memory"
)

type Config struct {
	Backend  string         `mapstructure:"backend"`
	Dir      string         `mapstructure:"dir"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Neo4j    Neo4jConfig    `mapstructure:"neo4j"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// RedisConfig enables the cross-process writer lock when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

func DefaultDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "tasktree")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tasktree"
	}
	return filepath.Join(home, ".local", "share", "tasktree")
}

func configDirs() []string {
	dirs := []string{"."}
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		dirs = append(dirs, filepath.Join(d, "tasktree"))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "tasktree"))
	}
	return dirs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendSQLite)
	v.SetDefault("dir", DefaultDir())
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.json", false)
	v.SetDefault("http.addr", ":8080")
}

// New returns a viper instance with defaults, env binding and the first
// tasktree.yaml found. A missing file is fine; a broken one is not.
func New() (*viper.Viper, error) {
	// .env only fills variables the environment does not already set.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	if explicit := os.Getenv(EnvPrefix + "_CONFIG"); explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		for _, d := range configDirs() {
			v.AddConfigPath(d)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Decode unmarshals v and validates the result.
func Decode(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.Dir) == "" {
			return errors.New("config: dir is required for the sqlite backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			return errors.New("config: postgres.dsn is required for the postgres backend")
		}
	case BackendNeo4j:
		if strings.TrimSpace(c.Neo4j.URI) == "" {
			return errors.New("config: neo4j.uri is required for the neo4j backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown backend %q (want sqlite, postgres, neo4j or memory)", c.Backend)
	}
	return nil
}

// Load is New followed by Decode.
func Load() (Config, error) {
	v, err := New()
	if err != nil {
		return Config{}, err
	}
	return Decode(v)
}
