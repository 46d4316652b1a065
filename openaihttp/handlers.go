package openaihttp

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LubyRuffy/agb2o/openaiapi"
	"github.com/sirupsen/logrus"
)

const defaultSystemFingerprint = "fp_agb2o"

// Handlers 返回 /models 与 /chat/completions 的处理器，已包含 API key 校验与请求体大小限制。
func Handlers(cfg Config) (modelsHandler http.HandlerFunc, chatHandler http.HandlerFunc, err error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	compat, err := newCompatHandler(compatConfig{
		Now:               time.Now,
		NewChatCompletion: openaiapi.NewChatCompletionID,
		WriteJSON:         writeJSON,
		WriteOpenAIError:  writeOpenAIError,
		SystemFingerprint: resolved.SystemFingerprint,
		Client:            resolved.Client,
		Request:           resolved.Config.Request,
		Logger:            resolved.Logger,
	})
	if err != nil {
		return nil, nil, err
	}

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return requireAPIKey(resolved.APIKey, limitBody(resolved.MaxRequestBytes, h))
	}
	return wrap(compat.handleModels), wrap(compat.handleChatCompletions), nil
}

type resolvedConfig struct {
	Config
	Logger *logrus.Entry
}

func resolveConfig(cfg Config) (resolvedConfig, error) {
	if cfg.Client == nil {
		return resolvedConfig{}, fmt.Errorf("Client is required")
	}
	if cfg.MaxRequestBytes < 0 {
		return resolvedConfig{}, fmt.Errorf("MaxRequestBytes must not be negative")
	}

	fp := strings.TrimSpace(cfg.SystemFingerprint)
	if fp == "" {
		fp = defaultSystemFingerprint
	}
	cfg.SystemFingerprint = fp
	cfg.BasePath = normalizeBasePath(cfg.BasePath)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return resolvedConfig{Config: cfg, Logger: logger.WithField("component", "openaihttp")}, nil
}
