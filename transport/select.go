package transport

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Mode 选择传输实现。
type Mode string

const (
	// ModePush 使用 NativeRequester 回调流，构建失败时回退到 ModeHTTP。
	ModePush Mode = "push"
	// ModeHTTP 使用 net/http 拉取读取。
	ModeHTTP Mode = "http"
)

// Options 是启动时选择传输所需的配置。
type Options struct {
	Mode   Mode
	Client ClientOptions
	Logger *logrus.Entry
}

// Select 在启动时一次性选择传输实现，返回实例与实际生效的模式。
func Select(opts Options) (Transport, Mode, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	mode := Mode(strings.ToLower(strings.TrimSpace(string(opts.Mode))))
	if mode == "" {
		mode = ModePush
	}

	clientOpts := opts.Client
	switch mode {
	case ModeHTTP:
	case ModePush:
		requester, err := NewNativeRequester(opts.Client)
		if err == nil {
			return NewPush(requester), ModePush, nil
		}
		log.WithError(err).Warn("native requester unavailable, falling back to net/http transport")
		// 回退时丢弃导致失败的代理设置。
		clientOpts = ClientOptions{ResponseHeaderTimeout: opts.Client.ResponseHeaderTimeout}
	default:
		return nil, "", fmt.Errorf("unsupported transport mode: %s", opts.Mode)
	}

	client, err := NewHTTPClient(clientOpts)
	if err != nil {
		return nil, "", err
	}
	return NewHTTP(client), ModeHTTP, nil
}
