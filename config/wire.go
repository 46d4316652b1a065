package config

import (
	"fmt"

	"github.com/LubyRuffy/agb2o/auth"
	"github.com/LubyRuffy/agb2o/backend"
	"github.com/LubyRuffy/agb2o/transport"
	"github.com/sirupsen/logrus"
)

// NewClient 按配置组装凭证来源、传输实现与 backend.Client。
func (c *Config) NewClient(log *logrus.Entry) (*backend.Client, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	tokens, err := auth.NewProvider(c.Auth.Source, c.Auth.AccountsFile)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	tr, mode, err := transport.Select(transport.Options{
		Mode: transport.Mode(c.Transport.Mode),
		Client: transport.ClientOptions{
			Proxy:                 c.Transport.Proxy,
			ResponseHeaderTimeout: c.Transport.Timeout,
		},
		Logger: log.WithField("component", "transport"),
	})
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	log.WithFields(logrus.Fields{"transport": mode, "auth": c.Auth.Source}).Info("upstream client ready")

	return backend.NewClient(backend.ClientConfig{
		StreamURL:   c.API.URL,
		NoStreamURL: c.API.NoStreamURL,
		ModelsURL:   c.API.ModelsURL,
		Host:        c.API.Host,
		UserAgent:   c.API.UserAgent,
		Transport:   tr,
		Tokens:      tokens,
		Logger:      log,
	})
}

// RequestOptions 返回构建上游请求体所需的选项。
func (c *Config) RequestOptions() backend.RequestOptions {
	return backend.RequestOptions{
		ProjectID: c.API.ProjectID,
		Defaults:  c.GenerationDefaults(),
	}
}
