// Package config loads inspector settings from defaults, an optional YAML
// file and WSI_* environment variables, and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/andy6609/ws-inspector/internal/inspector"
	"github.com/andy6609/ws-inspector/internal/logging"
)

const EnvPrefix = "WSI"

type Config struct {
	Control   ControlConfig   `mapstructure:"control"`
	Inspector InspectorConfig `mapstructure:"inspector"`
	Log       logging.Config  `mapstructure:"log"`
}

// ControlConfig is the HTTP surface used by controllers.
type ControlConfig struct {
	Listen string `mapstructure:"listen"`
}

type InspectorConfig struct {
	Autostart       string        `mapstructure:"autostart"` // address to bind at launch; empty waits for a controller
	OutboundBuffer  int           `mapstructure:"outbound_buffer"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	CloseGrace      time.Duration `mapstructure:"close_grace"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Subprotocols    []string      `mapstructure:"subprotocols"`
}

var defaults = map[string]any{
	"control.listen":             "127.0.0.1:7070",
	"inspector.autostart":        "",
	"inspector.outbound_buffer":  64,
	"inspector.max_message_size": 64 << 20,
	"inspector.write_timeout":    "10s",
	"inspector.close_grace":      "2s",
	"inspector.shutdown_timeout": "10s",
	"inspector.subprotocols":     []string{},
	"log.level":                  "info",
	"log.format":                 "json",
	"log.file":                   "",
	"log.max_size_mb":            100,
	"log.max_backups":            10,
	"log.max_age_days":           30,
	"log.compress":               false,
}

// Loader owns the viper instance; viper itself is not safe for concurrent use.
type Loader struct {
	mu   sync.Mutex
	v    *viper.Viper
	file string
}

// NewLoader reads file when set; otherwise inspector.yaml is looked up in the
// working directory and is optional.
func NewLoader(file string) *Loader {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("inspector")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	return &Loader{v: v, file: file}
}

func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return l.decode()
}

// Watch calls fn with the reloaded config after every change of the config
// file. It does nothing when no file was loaded.
func (l *Loader) Watch(fn func(*Config, error)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.v.ConfigFileUsed() == "" {
		return false
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		fn(cfg, err)
	})
	l.v.WatchConfig()
	return true
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Control.Listen); err != nil {
		return fmt.Errorf("control.listen: %w", err)
	}
	if c.Inspector.Autostart != "" {
		if _, err := inspector.ParseAddress(c.Inspector.Autostart); err != nil {
			return fmt.Errorf("inspector.autostart: %w", err)
		}
	}
	if c.Inspector.OutboundBuffer < 1 {
		return fmt.Errorf("inspector.outbound_buffer must be positive, got %d", c.Inspector.OutboundBuffer)
	}
	if c.Inspector.ShutdownTimeout <= 0 {
		return fmt.Errorf("inspector.shutdown_timeout must be positive, got %s", c.Inspector.ShutdownTimeout)
	}
	return nil
}

// Options maps the inspector section onto the engine's options.
func (c *Config) Options() inspector.Options {
	return inspector.Options{
		OutboundBuffer: c.Inspector.OutboundBuffer,
		MaxMessageSize: c.Inspector.MaxMessageSize,
		WriteTimeout:   c.Inspector.WriteTimeout,
		CloseGrace:     c.Inspector.CloseGrace,
		Subprotocols:   c.Inspector.Subprotocols,
	}
}
