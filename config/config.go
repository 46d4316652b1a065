// Package config 负责加载 agb2o 的运行配置：YAML 文件 + AGB2O_* 环境变量覆盖。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LubyRuffy/agb2o"
	"github.com/LubyRuffy/agb2o/auth"
	"github.com/LubyRuffy/agb2o/backend"
	"github.com/LubyRuffy/agb2o/transport"
	"gopkg.in/yaml.v3"
)

const envPrefix = "AGB2O_"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Transport TransportConfig `yaml:"transport"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

type ServerConfig struct {
	Listen   string `yaml:"listen"`
	BasePath string `yaml:"base_path"`
	// APIKey 为空时不校验调用方。
	APIKey          string `yaml:"api_key"`
	MaxRequestBytes int64  `yaml:"max_request_bytes"`
}

type APIConfig struct {
	URL         string `yaml:"url"`
	NoStreamURL string `yaml:"no_stream_url"`
	ModelsURL   string `yaml:"models_url"`
	Host        string `yaml:"host"`
	UserAgent   string `yaml:"user_agent"`
	ProjectID   string `yaml:"project_id"`
}

type TransportConfig struct {
	// Mode: push（默认，回调式）或 http（拉取式）。
	Mode    string        `yaml:"mode"`
	Proxy   string        `yaml:"proxy"`
	Timeout time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	Source       string `yaml:"source"`
	AccountsFile string `yaml:"accounts_file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DefaultsConfig struct {
	Temperature    *float64 `yaml:"temperature"`
	TopP           *float64 `yaml:"top_p"`
	TopK           *int     `yaml:"top_k"`
	MaxTokens      *int     `yaml:"max_tokens"`
	ThinkingBudget int      `yaml:"thinking_budget"`
}

// Default 返回内置默认配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8045",
			BasePath:        "/v1",
			MaxRequestBytes: 50 << 20,
		},
		API: APIConfig{
			URL:         agb2o.DefaultStreamURL,
			NoStreamURL: agb2o.DefaultNoStreamURL,
			ModelsURL:   agb2o.DefaultModelsURL,
			Host:        agb2o.DefaultHost,
			UserAgent:   agb2o.DefaultUserAgent,
		},
		Transport: TransportConfig{
			Mode:    string(transport.ModePush),
			Timeout: 5 * time.Minute,
		},
		Auth: AuthConfig{Source: string(auth.SourceAuto)},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load 读取 path 指定的 YAML 文件（path 为空或文件不存在时使用默认值），再应用环境变量覆盖并校验。
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LISTEN":         &c.Server.Listen,
		"BASE_PATH":      &c.Server.BasePath,
		"API_KEY":        &c.Server.APIKey,
		"API_URL":        &c.API.URL,
		"NO_STREAM_URL":  &c.API.NoStreamURL,
		"MODELS_URL":     &c.API.ModelsURL,
		"API_HOST":       &c.API.Host,
		"USER_AGENT":     &c.API.UserAgent,
		"PROJECT_ID":     &c.API.ProjectID,
		"TRANSPORT_MODE": &c.Transport.Mode,
		"PROXY":          &c.Transport.Proxy,
		"AUTH_SOURCE":    &c.Auth.Source,
		"ACCOUNTS_FILE":  &c.Auth.AccountsFile,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FORMAT":     &c.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup(envPrefix + "TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sTIMEOUT: %w", envPrefix, err)
		}
		c.Transport.Timeout = d
	}
	if v, ok := lookup(envPrefix + "MAX_REQUEST_BYTES"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_REQUEST_BYTES: %w", envPrefix, err)
		}
		c.Server.MaxRequestBytes = n
	}
	if v, ok := lookup(envPrefix + "THINKING_BUDGET"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sTHINKING_BUDGET: %w", envPrefix, err)
		}
		c.Defaults.ThinkingBudget = n
	}
	return nil
}

// Validate 检查取值范围并规范化 base path。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Listen) == "" {
		return fmt.Errorf("server.listen is required")
	}
	c.Server.BasePath = normalizeBasePath(c.Server.BasePath)
	if c.Server.MaxRequestBytes < 0 {
		return fmt.Errorf("server.max_request_bytes must not be negative")
	}
	switch transport.Mode(strings.ToLower(c.Transport.Mode)) {
	case transport.ModePush, transport.ModeHTTP:
		c.Transport.Mode = strings.ToLower(c.Transport.Mode)
	case "":
		c.Transport.Mode = string(transport.ModePush)
	default:
		return fmt.Errorf("invalid transport.mode %q (want push|http)", c.Transport.Mode)
	}
	if c.Transport.Timeout < 0 {
		return fmt.Errorf("transport.timeout must not be negative")
	}
	switch auth.Source(strings.ToLower(c.Auth.Source)) {
	case auth.SourceAccounts, auth.SourceEnv, auth.SourceAuto:
		c.Auth.Source = strings.ToLower(c.Auth.Source)
	case "":
		c.Auth.Source = string(auth.SourceAuto)
	default:
		return fmt.Errorf("invalid auth.source %q (want accounts|env|auto)", c.Auth.Source)
	}
	if c.Defaults.ThinkingBudget < 0 {
		return fmt.Errorf("defaults.thinking_budget must not be negative")
	}
	return nil
}

// GenerationDefaults 转换为请求构建所需的默认采样参数。
func (c *Config) GenerationDefaults() backend.GenerationDefaults {
	return backend.GenerationDefaults{
		Temperature:    c.Defaults.Temperature,
		TopP:           c.Defaults.TopP,
		TopK:           c.Defaults.TopK,
		MaxTokens:      c.Defaults.MaxTokens,
		ThinkingBudget: c.Defaults.ThinkingBudget,
	}
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/v1"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if p = strings.TrimRight(p, "/"); p == "" {
		return "/"
	}
	return p
}
