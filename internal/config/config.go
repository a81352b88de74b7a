// Package config carga la configuración del core: YAML como base y variables
// de entorno como override (el env siempre gana).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"env"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"` // debug | info | warn | error
	} `yaml:"log"`

	Cache struct {
		Driver string `yaml:"driver"` // memory | redis
		Redis  struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Session struct {
		Timeout          string `yaml:"timeout"`
		MaxPerUser       int    `yaml:"max_per_user"`
		RefreshThreshold string `yaml:"refresh_threshold"`
		SweepInterval    string `yaml:"sweep_interval"`
	} `yaml:"session"`

	// Rate define un techo por categoría de endpoint. limit 0 deja el
	// default del core.
	Rate struct {
		Enabled bool   `yaml:"enabled"`
		Driver  string `yaml:"driver"` // memory | redis
		Auth    struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"auth"`
		Upload struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"upload"`
		Chat struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"chat"`
		Admin struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"admin"`
		General struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"general"`
	} `yaml:"rate"`

	MFA struct {
		Issuer     string `yaml:"issuer"`
		PendingTTL string `yaml:"pending_ttl"`
	} `yaml:"mfa"`

	Security struct {
		// SecretBoxMasterKey cifra secretos TOTP en reposo.
		// base64(32 bytes); generar con: openssl rand -base64 32
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
	} `yaml:"security"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// Load lee el YAML, aplica defaults y pisa con el entorno.
// path vacío arranca con todo en default (útil en tests y dev).
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "15s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Rate.Driver == "" {
		c.Rate.Driver = "memory"
	}
	if c.Session.Timeout == "" {
		c.Session.Timeout = "30m"
	}
	if c.Session.MaxPerUser == 0 {
		c.Session.MaxPerUser = 3
	}
	if c.Session.RefreshThreshold == "" {
		c.Session.RefreshThreshold = "5m"
	}
	if c.Session.SweepInterval == "" {
		c.Session.SweepInterval = "2m"
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = "authcore"
	}
	if c.MFA.PendingTTL == "" {
		c.MFA.PendingTTL = "10m"
	}

	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Duration parsea un campo string ya validado por Validate.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// Validate chequea los valores críticos; las duraciones en string se validan
// acá una sola vez para que Duration() pueda ignorar el error.
func (c *Config) Validate() error {
	durations := map[string]string{
		"server.read_timeout":       c.Server.ReadTimeout,
		"server.write_timeout":      c.Server.WriteTimeout,
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
		"session.timeout":           c.Session.Timeout,
		"session.refresh_threshold": c.Session.RefreshThreshold,
		"session.sweep_interval":    c.Session.SweepInterval,
		"mfa.pending_ttl":           c.MFA.PendingTTL,
		"rate.auth.window":          c.Rate.Auth.Window,
		"rate.upload.window":        c.Rate.Upload.Window,
		"rate.chat.window":          c.Rate.Chat.Window,
		"rate.admin.window":         c.Rate.Admin.Window,
		"rate.general.window":       c.Rate.General.Window,
	}
	for field, v := range durations {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", field, err)
		}
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: cache.driver inválido: %q", c.Cache.Driver)
	}
	switch c.Rate.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: rate.driver inválido: %q", c.Rate.Driver)
	}
	if (c.Cache.Driver == "redis" || c.Rate.Driver == "redis") && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("config: redis requerido pero cache.redis.addr vacío")
	}
	return nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

// applyEnvOverrides pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("APP_VERSION"); ok {
		c.App.Version = v
	}

	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	if v, ok := getEnvStr("CACHE_DRIVER"); ok {
		c.Cache.Driver = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	if v, ok := getEnvStr("SESSION_TIMEOUT"); ok {
		c.Session.Timeout = v
	}
	if v, ok := getEnvInt("SESSION_MAX_PER_USER"); ok {
		c.Session.MaxPerUser = v
	}
	if v, ok := getEnvStr("SESSION_REFRESH_THRESHOLD"); ok {
		c.Session.RefreshThreshold = v
	}
	if v, ok := getEnvStr("SESSION_SWEEP_INTERVAL"); ok {
		c.Session.SweepInterval = v
	}

	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvStr("RATE_DRIVER"); ok {
		c.Rate.Driver = v
	}
	if v, ok := getEnvInt("RATE_AUTH_LIMIT"); ok {
		c.Rate.Auth.Limit = v
	}
	if v, ok := getEnvStr("RATE_AUTH_WINDOW"); ok {
		c.Rate.Auth.Window = v
	}
	if v, ok := getEnvInt("RATE_UPLOAD_LIMIT"); ok {
		c.Rate.Upload.Limit = v
	}
	if v, ok := getEnvStr("RATE_UPLOAD_WINDOW"); ok {
		c.Rate.Upload.Window = v
	}
	if v, ok := getEnvInt("RATE_CHAT_LIMIT"); ok {
		c.Rate.Chat.Limit = v
	}
	if v, ok := getEnvStr("RATE_CHAT_WINDOW"); ok {
		c.Rate.Chat.Window = v
	}
	if v, ok := getEnvInt("RATE_ADMIN_LIMIT"); ok {
		c.Rate.Admin.Limit = v
	}
	if v, ok := getEnvStr("RATE_ADMIN_WINDOW"); ok {
		c.Rate.Admin.Window = v
	}
	if v, ok := getEnvInt("RATE_GENERAL_LIMIT"); ok {
		c.Rate.General.Limit = v
	}
	if v, ok := getEnvStr("RATE_GENERAL_WINDOW"); ok {
		c.Rate.General.Window = v
	}

	if v, ok := getEnvStr("MFA_ISSUER"); ok {
		c.MFA.Issuer = v
	}
	if v, ok := getEnvStr("MFA_PENDING_TTL"); ok {
		c.MFA.PendingTTL = v
	}

	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}

	if v, ok := getEnvBool("METRICS_ENABLED"); ok {
		c.Metrics.Enabled = v
	}
}
