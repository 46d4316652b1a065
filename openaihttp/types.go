package openaihttp

import (
	"context"

	"github.com/LubyRuffy/agb2o/backend"
	"github.com/sirupsen/logrus"
)

// Completer 是处理器依赖的上游能力，*backend.Client 实现了该接口。
type Completer interface {
	StreamCompletion(ctx context.Context, body any, sink backend.EventSink) error
	Completion(ctx context.Context, body any) (*backend.Completion, error)
	ListModels(ctx context.Context) ([]backend.Model, error)
}

type Config struct {
	// BasePath 仅用于 Gin 注册路由时拼接路径，默认 "/v1"。
	BasePath string
	// Client 必填。
	Client Completer
	// Request 透传给 backend.BuildRequest（project、userAgent、采样默认值）。
	Request backend.RequestOptions
	// APIKey 非空时要求调用方携带 Authorization: Bearer <key> 或 x-api-key。
	APIKey string
	// MaxRequestBytes > 0 时限制请求体大小。
	MaxRequestBytes int64
	// SystemFingerprint chat.completions 用；默认 "fp_agb2o"。
	SystemFingerprint string
	Logger            *logrus.Entry
}
