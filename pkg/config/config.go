package config

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/render"
)

// EnvPrefix prefixes every environment override, e.g. BURROW_API_ADDR
const EnvPrefix = "BURROW"

// Config contains the application configuration
type Config struct {
	Log        log.Config        `mapstructure:"log" yaml:"log"`
	Store      StoreConfig       `mapstructure:"store" yaml:"store"`
	Reconciler reconciler.Config `mapstructure:"reconciler" yaml:"reconciler"`
	Executor   executor.Config   `mapstructure:"executor" yaml:"executor"`
	Render     render.Config     `mapstructure:"render" yaml:"render"`
	API        APIConfig         `mapstructure:"api" yaml:"api"`
}

// StoreConfig locates the resource store
type StoreConfig struct {
	DataDir        string `mapstructure:"data_dir" yaml:"data_dir" default:"/var/lib/burrow"`
	AuditRetention int    `mapstructure:"audit_retention" yaml:"audit_retention" default:"50"`
}

// APIConfig configures the HTTP API
type APIConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" default:"127.0.0.1:8420"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" default:"10s"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval" yaml:"metrics_interval" default:"15s"`
}

// Default returns a Config with every default applied
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads configuration from file, or from burrow.yaml in the working
// directory or /etc/burrow when file is empty. A missing default file is
// not an error. Environment variables override both.
func Load(file string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, reflect.TypeOf(*cfg), "")

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("burrow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/burrow")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv registers every leaf key of t with viper so Unmarshal sees
// environment overrides for keys absent from the file
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if name == "-" || !field.IsExported() {
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}

		key := prefix + name
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnv(v, field.Type, key+".")
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	switch c.Render.CertTool {
	case render.CertToolCertbot, render.CertToolWinAcme:
	default:
		return errors.ErrValidation.WithCausef("render.cert_tool must be %q or %q, got %q",
			render.CertToolCertbot, render.CertToolWinAcme, c.Render.CertTool)
	}
	if c.Store.DataDir == "" {
		return errors.ErrValidation.WithCausef("store.data_dir is required")
	}
	if c.Reconciler.Workers < 0 {
		return errors.ErrValidation.WithCausef("reconciler.workers must not be negative")
	}
	if c.API.Addr == "" {
		return errors.ErrValidation.WithCausef("api.addr is required")
	}
	return nil
}

// Manager returns the manager configuration carried by c
func (c *Config) Manager() *manager.Config {
	return &manager.Config{
		DataDir:         c.Store.DataDir,
		AuditRetention:  c.Store.AuditRetention,
		MetricsInterval: c.API.MetricsInterval,
		Reconciler:      c.Reconciler,
		Executor:        c.Executor,
		Render:          c.Render,
	}
}

// Write encodes c as YAML
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
