package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func bytesReader(body []byte) io.Reader {
	if body == nil {
		return http.NoBody
	}
	return bytes.NewReader(body)
}

// openBody 返回解码后的响应体。非 200 的错误体较小，先整体读出再尝试解码，
// 解码失败时退回原始字节，保证状态码与错误体总能交给调用方。
func openBody(resp *http.Response) (io.ReadCloser, error) {
	if resp.StatusCode == http.StatusOK {
		return decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), io.NopCloser(bytes.NewReader(raw))); err == nil {
		if data, err := io.ReadAll(decoded); err == nil {
			raw = data
		}
		_ = decoded.Close()
	}
	return &decodedBody{Reader: bytes.NewReader(raw), closeFn: resp.Body.Close}, nil
}

// 上游请求显式携带 Accept-Encoding: gzip，net/http 不会再自动解压，这里按 Content-Encoding 自行处理。
func decodeBody(contentEncoding string, body io.ReadCloser) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			if err == io.EOF {
				return body, nil
			}
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		return &decodedBody{Reader: zr, closeFn: func() error {
			_ = zr.Close()
			return body.Close()
		}}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("invalid zstd body: %w", err)
		}
		return &decodedBody{Reader: zr, closeFn: func() error {
			zr.Close()
			return body.Close()
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported content-encoding: %s", encoding)
	}
}

type decodedBody struct {
	io.Reader
	closeFn func() error
}

func (b *decodedBody) Close() error { return b.closeFn() }
