package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig covers the HTTP/websocket surface.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	EnableCORS   bool          `mapstructure:"enable_cors"`
	Debug        bool          `mapstructure:"debug"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EngineConfig bounds the per-user driver loops.
type EngineConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	MaxIdle       int           `mapstructure:"max_idle"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	IdleInterval  time.Duration `mapstructure:"idle_interval"`
}

// ExecutorConfig tunes the server tool executor.
type ExecutorConfig struct {
	CacheSize    int           `mapstructure:"cache_size"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	SearchAPIKey string        `mapstructure:"search_api_key"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("engine.max_iterations", 100)
	v.SetDefault("engine.max_idle", 5)
	v.SetDefault("engine.poll_interval", 300*time.Millisecond)
	v.SetDefault("engine.idle_interval", 500*time.Millisecond)
	v.SetDefault("executor.cache_size", 256)
	v.SetDefault("executor.cache_ttl", 5*time.Minute)
	v.SetDefault("executor.search_api_key", "")
	v.SetDefault("log.level", "info")
}

// Load reads configuration from the given file (optional), the standard
// search paths, and MAESTRO_* environment variables, in ascending priority.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAESTRO")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("maestro")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.maestro")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}
