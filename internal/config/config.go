package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Prefs    PrefsConfig    `yaml:"prefs"`
	Janitor  JanitorConfig  `yaml:"janitor"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	AllowOrigins    []string      `yaml:"allow_origins" env:"HTTP_ALLOW_ORIGINS" env-separator:","`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
}

type StoreConfig struct {
	Driver  string        `yaml:"driver" env:"STORE_DRIVER" env-default:"memory"`
	RoomTTL time.Duration `yaml:"room_ttl" env:"ROOM_TTL" env-default:"24h"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"buzzer:"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN"`
}

type PrefsConfig struct {
	Path string `yaml:"path" env:"PREFS_PATH" env-default:""`
}

type JanitorConfig struct {
	Enabled       bool          `yaml:"enabled" env:"JANITOR_ENABLED" env-default:"true"`
	Interval      time.Duration `yaml:"interval" env:"JANITOR_INTERVAL" env-default:"10m"`
	ValidatorIdle time.Duration `yaml:"validator_idle" env:"JANITOR_VALIDATOR_IDLE" env-default:"30m"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	if err := cfg.validate(); err != nil {
		panic("invalid config: " + err.Error())
	}
	cfg.setDefaults()

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreRedis, StorePostgres:
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.HTTP.AllowOrigins) == 0 {
		c.HTTP.AllowOrigins = []string{"*"}
	}
	if c.Store.RoomTTL <= 0 {
		c.Store.RoomTTL = 24 * time.Hour
	}
	if c.Prefs.Path == "" {
		c.Prefs.Path = "data/prefs.db"
	}
}
