package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultChunkSize = 32 << 10
	maxBufferedBody  = 64 << 20
	maxErrorBody     = 1 << 20
)

// ClientOptions 用于构建上游 http.Client。
type ClientOptions struct {
	// Proxy 可选，形如 http://127.0.0.1:7890。
	Proxy string
	// ResponseHeaderTimeout 只限制等待响应头的时间，不影响长时间的流式读取。
	ResponseHeaderTimeout time.Duration
	// ForceHTTP2 为 true 时优先尝试 HTTP/2。
	ForceHTTP2 bool
}

// NewHTTPClient 根据选项构建 http.Client；代理地址非法时返回错误。
func NewHTTPClient(opts ClientOptions) (*http.Client, error) {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("unexpected default transport type %T", http.DefaultTransport)
	}
	tr := base.Clone()
	// 由 decodeBody 负责解压，避免 net/http 与显式 Accept-Encoding 冲突。
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = opts.ForceHTTP2
	tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.ResponseHeaderTimeout > 0 {
		tr.ResponseHeaderTimeout = opts.ResponseHeaderTimeout
	}
	if proxy := strings.TrimSpace(opts.Proxy); proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %q", proxy)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: tr}, nil
}

// HTTP 是基于 net/http 的拉取式传输：流式模式下每次 Next 对应一次阻塞 Read。
type HTTP struct {
	client    *http.Client
	chunkSize int
}

// NewHTTP 创建 HTTP 传输；client 为 nil 时使用 &http.Client{}。
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{client: client, chunkSize: defaultChunkSize}
}

func (t *HTTP) Do(ctx context.Context, spec *RequestSpec) (*Response, error) {
	return doBuffered(ctx, t.client, spec)
}

func (t *HTTP) Stream(ctx context.Context, spec *RequestSpec) (ChunkStream, error) {
	req, err := newHTTPRequest(ctx, spec)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "stream", URL: spec.URL, Err: err}
	}
	body, err := openBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, &TransportError{Op: "decode", URL: spec.URL, Err: err}
	}
	return &readerStream{
		status: resp.StatusCode,
		body:   body,
		buf:    make([]byte, t.chunkSize),
		url:    spec.URL,
	}, nil
}

type readerStream struct {
	status  int
	body    io.ReadCloser
	buf     []byte
	url     string
	pending error
}

func (s *readerStream) StatusCode() int { return s.status }

func (s *readerStream) Next() (string, error) {
	if s.pending != nil {
		return "", s.pending
	}
	for {
		n, err := s.body.Read(s.buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.pending = io.EOF
			} else {
				s.pending = &TransportError{Op: "read", URL: s.url, Err: err}
			}
		}
		if n > 0 {
			return string(s.buf[:n]), nil
		}
		if s.pending != nil {
			return "", s.pending
		}
	}
}

func (s *readerStream) Close() error { return s.body.Close() }

func doBuffered(ctx context.Context, client *http.Client, spec *RequestSpec) (*Response, error) {
	req, err := newHTTPRequest(ctx, spec)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "do", URL: spec.URL, Err: err}
	}
	defer resp.Body.Close()

	body, err := openBody(resp)
	if err != nil {
		return nil, &TransportError{Op: "decode", URL: spec.URL, Err: err}
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxBufferedBody))
	if err != nil {
		return nil, &TransportError{Op: "read", URL: spec.URL, Err: err}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
