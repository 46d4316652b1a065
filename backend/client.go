package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/LubyRuffy/agb2o"
	"github.com/LubyRuffy/agb2o/auth"
	"github.com/LubyRuffy/agb2o/transport"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxUpstreamErrBytes = 8 << 10

type ClientConfig struct {
	StreamURL   string
	NoStreamURL string
	ModelsURL   string
	// Host/UserAgent 为空时使用 agb2o 包中的默认值。
	Host      string
	UserAgent string
	// Transport 必填：启动时选定的传输实现（见 transport.Select）。
	Transport transport.Transport
	// Tokens 必填：凭证获取与禁用。
	Tokens auth.TokenProvider
	Logger *logrus.Entry
}

// Client 串联 Transport → LineBuffer → ParseLine → 事件翻译，本身无可变状态，可被并发调用。
type Client struct {
	config ClientConfig
	log    *logrus.Entry
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if config.Tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if strings.TrimSpace(config.StreamURL) == "" {
		config.StreamURL = agb2o.DefaultStreamURL
	}
	if strings.TrimSpace(config.NoStreamURL) == "" {
		config.NoStreamURL = agb2o.DefaultNoStreamURL
	}
	if strings.TrimSpace(config.ModelsURL) == "" {
		config.ModelsURL = agb2o.DefaultModelsURL
	}
	if strings.TrimSpace(config.Host) == "" {
		config.Host = agb2o.DefaultHost
	}
	if strings.TrimSpace(config.UserAgent) == "" {
		config.UserAgent = agb2o.DefaultUserAgent
	}
	log := config.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{config: config, log: log.WithField("component", "backend")}, nil
}

// StreamCompletion 发起流式请求，并把翻译后的事件按顺序同步交给 sink，直到流结束或失败。
// 传输错误或 sink 返回错误时立即停止，尚未刷出的函数调用会被丢弃。
func (c *Client) StreamCompletion(ctx context.Context, body any, sink EventSink) error {
	if sink == nil {
		return fmt.Errorf("event sink is required")
	}
	cred, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	payload, err := encodeBody(withProject(body, cred))
	if err != nil {
		return err
	}
	log := c.log.WithFields(logrus.Fields{"call": shortID(), "mode": "stream"})

	stream, err := c.config.Transport.Stream(ctx, c.requestSpec(c.config.StreamURL, cred, payload))
	if err != nil {
		log.WithError(err).Warn("upstream stream failed")
		return err
	}
	defer stream.Close()

	if status := stream.StatusCode(); status != http.StatusOK {
		// 流已开始，错误体只能从后续分块中累积。
		return c.upstreamError(ctx, log, cred, status, func() string { return drainStream(stream) })
	}

	state := newStreamState()
	var lines LineBuffer
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			log.WithError(err).Warn("upstream stream interrupted")
			return err
		}
		for _, line := range lines.Feed(chunk) {
			frame, err := ParseLine(line)
			if err != nil {
				log.WithError(err).Debug("skip malformed frame")
				continue
			}
			if frame == nil {
				continue
			}
			if err := state.translate(frame, sink); err != nil {
				return err
			}
		}
	}

	if rest := lines.Remainder(); strings.TrimSpace(rest) != "" {
		log.WithField("bytes", len(rest)).Debug("discard unterminated trailing record")
	}
	if len(state.pending) > 0 {
		log.WithField("tool_calls", len(state.pending)).Debug("stream ended without finish signal, tool calls dropped")
	}
	return nil
}

// Completion 发起非流式请求，返回聚合后的文本（思考内容折叠为前缀）与全部函数调用。
func (c *Client) Completion(ctx context.Context, body any) (*Completion, error) {
	cred, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := encodeBody(withProject(body, cred))
	if err != nil {
		return nil, err
	}
	log := c.log.WithFields(logrus.Fields{"call": shortID(), "mode": "buffered"})

	resp, err := c.config.Transport.Do(ctx, c.requestSpec(c.config.NoStreamURL, cred, payload))
	if err != nil {
		log.WithError(err).Warn("upstream request failed")
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.upstreamError(ctx, log, cred, resp.StatusCode, func() string { return truncate(string(resp.Body)) })
	}

	frame, err := decodeFrame(resp.Body, "")
	if err != nil {
		return nil, fmt.Errorf("failed to decode upstream response: %w", err)
	}
	return aggregate(frame, newCallIDGenerator()), nil
}

// Model 是上游可用模型的描述。
type Model struct {
	ID          string
	DisplayName string
}

// ListModels 直接透传上游模型列表（按 ID 排序），与补全接口共用凭证、请求头与错误处理。
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	cred, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	log := c.log.WithFields(logrus.Fields{"call": shortID(), "mode": "models"})

	resp, err := c.config.Transport.Do(ctx, c.requestSpec(c.config.ModelsURL, cred, []byte("{}")))
	if err != nil {
		log.WithError(err).Warn("upstream models request failed")
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.upstreamError(ctx, log, cred, resp.StatusCode, func() string { return truncate(string(resp.Body)) })
	}

	var data struct {
		Models map[string]struct {
			DisplayName string `json:"displayName"`
		} `json:"models"`
	}
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}
	models := make([]Model, 0, len(data.Models))
	for id, info := range data.Models {
		models = append(models, Model{ID: id, DisplayName: info.DisplayName})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func (c *Client) acquire(ctx context.Context) (*auth.Credential, error) {
	cred, err := c.config.Tokens.Current(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrNoCredential, err)
	}
	if cred == nil || strings.TrimSpace(cred.AccessToken) == "" {
		return nil, ErrNoCredential
	}
	return cred, nil
}

func (c *Client) requestSpec(url string, cred *auth.Credential, payload []byte) *transport.RequestSpec {
	header := http.Header{}
	header.Set("Host", c.config.Host)
	header.Set("User-Agent", c.config.UserAgent)
	header.Set("Authorization", "Bearer "+cred.AccessToken)
	header.Set("Content-Type", "application/json")
	header.Set("Accept-Encoding", "gzip")
	return &transport.RequestSpec{
		Method: http.MethodPost,
		URL:    url,
		Header: header,
		Body:   payload,
	}
}

// upstreamError 在 403 时先禁用凭证，再读取错误体并返回 *UpstreamRequestError。
func (c *Client) upstreamError(ctx context.Context, log *logrus.Entry, cred *auth.Credential, status int, readBody func() string) error {
	disabled := false
	if status == http.StatusForbidden {
		if err := c.config.Tokens.Disable(ctx, cred); err != nil {
			log.WithError(err).Warn("failed to disable credential")
		} else {
			disabled = true
			log.WithField("email", cred.Email).Warn("credential disabled after 403")
		}
	}
	body := readBody()
	log.WithFields(logrus.Fields{"status": status, "body": body}).Warn("upstream returned error status")
	return &UpstreamRequestError{StatusCode: status, Body: body, CredentialDisabled: disabled}
}

func drainStream(stream transport.ChunkStream) string {
	var builder strings.Builder
	for builder.Len() < maxUpstreamErrBytes {
		chunk, err := stream.Next()
		builder.WriteString(chunk)
		if err != nil {
			break
		}
	}
	return truncate(builder.String())
}

func truncate(s string) string {
	if len(s) > maxUpstreamErrBytes {
		s = s[:maxUpstreamErrBytes]
	}
	return strings.TrimSpace(s)
}

// withProject 在 *Request 未指定 project 时用凭证中的 projectId 补齐，返回副本，不修改入参。
func withProject(body any, cred *auth.Credential) any {
	req, ok := body.(*Request)
	if !ok || req == nil || req.Project != "" {
		return body
	}
	cloned := *req
	cloned.Project = strings.TrimSpace(cred.ProjectID)
	if cloned.Project == "" {
		cloned.Project = "agb2o-" + shortID()
	}
	return &cloned
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, fmt.Errorf("request body is required")
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}
	return data, nil
}

func shortID() string {
	return uuid.NewString()[:8]
}
