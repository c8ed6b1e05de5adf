// Package config loads Sekha's configuration from (in priority) SEKHA_*
// environment variables, then $HOME/.sekha/config.toml, then defaults, per
// spec.md §6. The layered-source and hot-reload approach follows
// rcliao-briefly/internal/config/config.go's viper usage.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the root configuration object.
type Config struct {
	Server      Server      `mapstructure:"server"`
	Database    Database    `mapstructure:"database"`
	VectorStore VectorStore `mapstructure:"vector_store"`
	Embedder    Embedder    `mapstructure:"embedder"`
	Summarizer  Summarizer  `mapstructure:"summarizer"`
	Features    Features    `mapstructure:"features"`
	RateLimit   RateLimit   `mapstructure:"rate_limit"`
	CORS        CORS        `mapstructure:"cors"`
	Log         Log         `mapstructure:"log"`
}

type Server struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Database struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type VectorStore struct {
	URL        string `mapstructure:"url"`
	Collection string `mapstructure:"collection"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type Embedder struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

type Summarizer struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

type Features struct {
	SummarizationEnabled bool `mapstructure:"summarization_enabled"`
	PruningEnabled       bool `mapstructure:"pruning_enabled"`
	AutoEmbed            bool `mapstructure:"auto_embed"`
}

type RateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type CORS struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Watcher receives the reloaded Config after every change to the config file.
// Structural keys in that Config keep their values from startup (see reload).
type Watcher func(*Config)

// Loader owns the viper instance and notifies registered watchers on reload.
type Loader struct {
	mu       sync.RWMutex
	v        *viper.Viper
	current  *Config
	watchers []Watcher
}

// Load reads configuration from env (SEKHA_*), then $HOME/.sekha/config.toml,
// then the defaults below, and begins watching the file for changes.
func Load() (*Loader, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix("SEKHA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: resolve home dir: %w", err)
	}
	configDir := filepath.Join(home, ".sekha")
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	l := &Loader{v: v, current: cfg}
	v.OnConfigChange(func(_ fsnotify.Event) {
		l.reload()
	})
	v.WatchConfig()

	return l, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func (l *Loader) reload() {
	cfg, err := decode(l.v)
	if err != nil {
		return
	}

	l.mu.Lock()
	// Structural keys (paths, ports, credentials) require a process restart;
	// only the hot-reloadable subset is swapped into `current` here.
	prev := l.current
	cfg.Server.Port = prev.Server.Port
	cfg.Server.Host = prev.Server.Host
	cfg.Server.APIKey = prev.Server.APIKey
	cfg.Database.URL = prev.Database.URL
	cfg.VectorStore.URL = prev.VectorStore.URL
	cfg.Embedder.URL = prev.Embedder.URL
	cfg.Summarizer.URL = prev.Summarizer.URL
	l.current = cfg
	watchers := append([]Watcher(nil), l.watchers...)
	l.mu.Unlock()

	for _, w := range watchers {
		w(cfg)
	}
}

// Current returns the most recently loaded configuration snapshot.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg := *l.current
	return &cfg
}

// OnChange registers a watcher invoked after every hot reload.
func (l *Loader) OnChange(w Watcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, w)
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8099)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_connections", 25)

	v.SetDefault("vector_store.url", "")
	v.SetDefault("vector_store.collection", "memories")
	v.SetDefault("vector_store.pool_size", 16)

	v.SetDefault("embedder.url", "")
	v.SetDefault("embedder.model", "nomic-embed-text")

	v.SetDefault("summarizer.url", "")
	v.SetDefault("summarizer.model", "")

	v.SetDefault("features.summarization_enabled", true)
	v.SetDefault("features.pruning_enabled", true)
	v.SetDefault("features.auto_embed", true)

	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// DataDir returns $HOME/.sekha/data, creating it if necessary.
func DataDir() (string, error) {
	return ensureSubdir("data")
}

// LogsDir returns $HOME/.sekha/logs, creating it if necessary.
func LogsDir() (string, error) {
	return ensureSubdir("logs")
}

// ImportDir returns $HOME/.sekha/import, creating it if necessary.
func ImportDir() (string, error) {
	return ensureSubdir("import")
}

// ImportedDir returns $HOME/.sekha/imported, creating it if necessary.
func ImportedDir() (string, error) {
	return ensureSubdir("imported")
}

func ensureSubdir(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".sekha", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
