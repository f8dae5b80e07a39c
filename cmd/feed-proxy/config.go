package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/pagedlist/pkg/logging"
	"github.com/spf13/viper"
)

// envPrefix namespaces the environment overrides, e.g. FEEDPROXY_API_BASE_URL.
const envPrefix = "FEEDPROXY"

// Config is the proxy configuration.
type Config struct {
	Port           int
	APIBaseURL     string
	APIToken       string
	UserAgent      string
	RedisAddr      string
	RedisDB        int
	PageSize       int
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      logging.Format
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("api.base_url", "http://localhost:9000")
	v.SetDefault("api.token", "")
	v.SetDefault("api.user_agent", "pagedlist-feed-proxy/0.1.0")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("feeds.page_size", 20)
	v.SetDefault("feeds.request_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// loadConfig reads defaults, the optional YAML file at path and FEEDPROXY_*
// environment variables, in increasing precedence.
func loadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	format, err := logging.ParseFormat(v.GetString("log.format"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:           v.GetInt("port"),
		APIBaseURL:     v.GetString("api.base_url"),
		APIToken:       v.GetString("api.token"),
		UserAgent:      v.GetString("api.user_agent"),
		RedisAddr:      v.GetString("redis.addr"),
		RedisDB:        v.GetInt("redis.db"),
		PageSize:       v.GetInt("feeds.page_size"),
		RequestTimeout: v.GetDuration("feeds.request_timeout"),
		LogLevel:       v.GetString("log.level"),
		LogFormat:      format,
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("invalid api base url %q", c.APIBaseURL)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("api user agent is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("invalid page size %d", c.PageSize)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout %s", c.RequestTimeout)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
