// Package transport 定义上游请求的传输契约以及两种实现：
//   - HTTP：基于 net/http 的拉取式读取（阻塞 Read）
//   - Push：把回调式推送流（OnStart/OnData/OnEnd/OnError）桥接为同一拉取接口
//
// 上层编排只面对 Transport/ChunkStream，每个分块只有一个挂起点（Next）。
package transport

import (
	"context"
	"fmt"
	"net/http"
)

// RequestSpec 描述一次上游请求，构建后不可修改。
type RequestSpec struct {
	Method string
	URL    string
	// Header 中的 Host 会被用作 http.Request.Host。
	Header http.Header
	Body   []byte
}

// Response 是缓冲模式下的完整响应。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ChunkStream 是流式响应：状态码在返回时已知，分块按到达顺序通过 Next 读取。
type ChunkStream interface {
	StatusCode() int
	// Next 返回下一个分块；正常结束返回 io.EOF。
	Next() (string, error)
	// Close 释放连接，未结束的请求会被取消。
	Close() error
}

// Transport 是两种传输实现的统一契约。
type Transport interface {
	Do(ctx context.Context, spec *RequestSpec) (*Response, error)
	Stream(ctx context.Context, spec *RequestSpec) (ChunkStream, error)
}

// TransportError 表示底层传输失败（连接重置、读取中断等）。
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func newHTTPRequest(ctx context.Context, spec *RequestSpec) (*http.Request, error) {
	if spec == nil {
		return nil, fmt.Errorf("request spec is nil")
	}
	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, spec.URL, bytesReader(spec.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	for key, values := range spec.Header {
		if http.CanonicalHeaderKey(key) == "Host" {
			if len(values) > 0 && values[0] != "" {
				req.Host = values[0]
			}
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return req, nil
}
