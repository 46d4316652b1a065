package openaihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LubyRuffy/agb2o"
	"github.com/LubyRuffy/agb2o/backend"
	"github.com/LubyRuffy/agb2o/openaiapi"
	"github.com/LubyRuffy/agb2o/transport"
	"github.com/sirupsen/logrus"
)

type httpError struct {
	Status  int
	Message string
	Err     error
}

func (e *httpError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func (e *httpError) Unwrap() error { return e.Err }

type compatConfig struct {
	Now               func() time.Time
	NewChatCompletion func() string
	WriteJSON         func(w http.ResponseWriter, data interface{})
	WriteOpenAIError  func(w http.ResponseWriter, statusCode int, message string)
	Client            Completer
	Request           backend.RequestOptions
	SystemFingerprint string
	Logger            *logrus.Entry
}

type compatHandler struct {
	now               func() time.Time
	newChatCompletion func() string
	writeJSON         func(w http.ResponseWriter, data interface{})
	writeOpenAIError  func(w http.ResponseWriter, statusCode int, message string)
	client            Completer
	request           backend.RequestOptions
	systemFingerprint string
	log               *logrus.Entry
}

func newCompatHandler(cfg compatConfig) (*compatHandler, error) {
	if cfg.WriteJSON == nil {
		return nil, fmt.Errorf("WriteJSON is required")
	}
	if cfg.WriteOpenAIError == nil {
		return nil, fmt.Errorf("WriteOpenAIError is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("Client is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewChatCompletion == nil {
		cfg.NewChatCompletion = openaiapi.NewChatCompletionID
	}
	if strings.TrimSpace(cfg.SystemFingerprint) == "" {
		cfg.SystemFingerprint = defaultSystemFingerprint
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &compatHandler{
		now:               cfg.Now,
		newChatCompletion: cfg.NewChatCompletion,
		writeJSON:         cfg.WriteJSON,
		writeOpenAIError:  cfg.WriteOpenAIError,
		client:            cfg.Client,
		request:           cfg.Request,
		systemFingerprint: cfg.SystemFingerprint,
		log:               cfg.Logger,
	}, nil
}

func (h *compatHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeOpenAIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	models, err := h.client.ListModels(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	modelsList := make([]openaiapi.OpenAIModel, 0, len(models))
	now := h.now().Unix()
	for _, m := range models {
		modelsList = append(modelsList, openaiapi.OpenAIModel{
			ID:      m.ID,
			Object:  "model",
			Created: now,
			OwnedBy: agb2o.ModelOwner,
		})
	}

	h.writeJSON(w, openaiapi.OpenAIModelList{
		Object: "list",
		Data:   modelsList,
	})
}

func (h *compatHandler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeOpenAIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req openaiapi.OpenAIChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeOpenAIError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeOpenAIError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Model) == "" {
		h.writeOpenAIError(w, http.StatusBadRequest, "model is required")
		return
	}
	if !agb2o.IsValidModelID(req.Model) {
		h.writeOpenAIError(w, http.StatusBadRequest, "unsupported model")
		return
	}

	upstreamReq, err := backend.BuildRequest(&req, h.request)
	if err != nil {
		h.writeOpenAIError(w, http.StatusBadRequest, err.Error())
		return
	}

	chatID := h.newChatCompletion()
	if req.Stream {
		h.handleStreamResponse(w, r, chatID, req.Model, upstreamReq)
		return
	}

	result, err := h.client.Completion(r.Context(), upstreamReq)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, openaiapi.ToChatCompletion(
		chatID,
		req.Model,
		result.Content,
		toOpenAIToolCalls(result.ToolCalls),
		toOpenAIUsage(result.Usage),
		h.systemFingerprint,
	))
}

func (h *compatHandler) handleStreamResponse(w http.ResponseWriter, r *http.Request, chatID, modelName string, upstreamReq *backend.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeOpenAIError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// 响应头延迟到第一个事件再写出，这样上游在开始前失败时仍能返回正确的状态码。
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
	}
	send := func(data interface{}) error {
		start()
		if err := writeSSEData(w, data); err != nil {
			return err
		}
		flusher.Flush()
		return r.Context().Err()
	}

	sawToolCalls := false
	err := h.client.StreamCompletion(r.Context(), upstreamReq, func(event backend.Event) error {
		switch event.Type {
		case backend.EventThinking, backend.EventText:
			if event.Content == "" {
				return nil
			}
			return send(openaiapi.ToChatChunk(chatID, modelName, event.Content, nil, h.systemFingerprint))
		case backend.EventToolCalls:
			if len(event.ToolCalls) == 0 {
				return nil
			}
			sawToolCalls = true
			return send(openaiapi.ToToolCallsChunk(chatID, modelName, toOpenAIToolCalls(event.ToolCalls), h.systemFingerprint))
		}
		return nil
	})
	if err != nil {
		if !started {
			h.writeError(w, err)
			return
		}
		if r.Context().Err() != nil {
			h.log.WithField("id", chatID).Debug("client disconnected during stream")
			return
		}
		h.log.WithError(err).WithField("id", chatID).Warn("stream aborted")
		status, message := errorStatus(err)
		_ = send(openAIErrorBody(status, message))
		return
	}

	finishReason := "stop"
	if sawToolCalls {
		finishReason = "tool_calls"
	}
	if err := send(openaiapi.ToChatChunk(chatID, modelName, "", &finishReason, h.systemFingerprint)); err != nil {
		return
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (h *compatHandler) writeError(w http.ResponseWriter, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("status", status).Warn("request failed")
	}
	h.writeOpenAIError(w, status, message)
}

// errorStatus 把内部错误映射为对外的 HTTP 状态码与消息。
func errorStatus(err error) (int, string) {
	var he *httpError
	if errors.As(err, &he) {
		return he.Status, he.Error()
	}
	if errors.Is(err, backend.ErrNoCredential) {
		return http.StatusServiceUnavailable, "no available credential"
	}
	var upstreamErr *backend.UpstreamRequestError
	if errors.As(err, &upstreamErr) {
		status := upstreamErr.StatusCode
		if status >= http.StatusInternalServerError || status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		message := strings.TrimSpace(upstreamErr.Body)
		if message == "" {
			message = upstreamErr.Error()
		}
		return status, message
	}
	var transportErr *transport.TransportError
	if errors.As(err, &transportErr) {
		return http.StatusBadGateway, "upstream unavailable"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func toOpenAIToolCalls(calls []backend.ToolCall) []openaiapi.OpenAIToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openaiapi.OpenAIToolCall, 0, len(calls))
	for i, call := range calls {
		out = append(out, openaiapi.OpenAIToolCall{
			ID:    call.ID,
			Index: i,
			Type:  "function",
			Function: openaiapi.OpenAIToolCallFunction{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return out
}

func toOpenAIUsage(usage *backend.Usage) openaiapi.OpenAIUsage {
	if usage == nil {
		return openaiapi.OpenAIUsage{}
	}
	completion := usage.CandidatesTokenCount + usage.ThoughtsTokenCount
	total := usage.TotalTokenCount
	if total == 0 {
		total = usage.PromptTokenCount + completion
	}
	return openaiapi.OpenAIUsage{
		PromptTokens:     usage.PromptTokenCount,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}
