package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// NativeRequester 是回调式请求器的默认实现：独立调优的 http.Client，在后台 goroutine 中驱动回调。
type NativeRequester struct {
	client    *http.Client
	chunkSize int
}

// NewNativeRequester 按选项构建请求器；选项非法（例如代理地址错误）时返回错误，由调用方决定是否回退。
func NewNativeRequester(opts ClientOptions) (*NativeRequester, error) {
	opts.ForceHTTP2 = true
	client, err := NewHTTPClient(opts)
	if err != nil {
		return nil, err
	}
	return &NativeRequester{client: client, chunkSize: defaultChunkSize}, nil
}

// NewNativeRequesterWithClient 使用外部提供的 client（测试或自定义 RoundTripper）。
func NewNativeRequesterWithClient(client *http.Client) *NativeRequester {
	if client == nil {
		client = &http.Client{}
	}
	return &NativeRequester{client: client, chunkSize: defaultChunkSize}
}

func (r *NativeRequester) Fetch(ctx context.Context, spec *RequestSpec) (*Response, error) {
	return doBuffered(ctx, r.client, spec)
}

func (r *NativeRequester) FetchStream(ctx context.Context, spec *RequestSpec, cb Callbacks) {
	go r.run(ctx, spec, cb)
}

func (r *NativeRequester) run(ctx context.Context, spec *RequestSpec, cb Callbacks) {
	fail := func(err error) {
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}

	req, err := newHTTPRequest(ctx, spec)
	if err != nil {
		fail(err)
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		fail(err)
		return
	}
	defer resp.Body.Close()

	body, err := openBody(resp)
	if err != nil {
		fail(err)
		return
	}
	defer body.Close()

	if cb.OnStart != nil {
		cb.OnStart(resp.StatusCode, resp.Header)
	}

	buf := make([]byte, r.chunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 && cb.OnData != nil {
			cb.OnData(string(buf[:n]))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if cb.OnEnd != nil {
					cb.OnEnd()
				}
				return
			}
			fail(err)
			return
		}
	}
}
