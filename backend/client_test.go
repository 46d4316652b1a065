package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/LubyRuffy/agb2o/auth"
	"github.com/LubyRuffy/agb2o/openaiapi"
	"github.com/LubyRuffy/agb2o/transport"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	mu       sync.Mutex
	cred     *auth.Credential
	err      error
	current  int
	disabled []*auth.Credential
}

func (f *fakeTokens) Current(context.Context) (*auth.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current++
	return f.cred, f.err
}

func (f *fakeTokens) Disable(_ context.Context, cred *auth.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = append(f.disabled, cred)
	return nil
}

func (f *fakeTokens) disabledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.disabled)
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{cred: &auth.Credential{AccessToken: "tok", ProjectID: "proj-1", Email: "a@example.com"}}
}

type namedTransport struct {
	name string
	new  func(*http.Client) transport.Transport
}

var transports = []namedTransport{
	{name: "http", new: func(c *http.Client) transport.Transport { return transport.NewHTTP(c) }},
	{name: "push", new: func(c *http.Client) transport.Transport {
		return transport.NewPush(transport.NewNativeRequesterWithClient(c))
	}},
}

func newTestClient(t *testing.T, srv *httptest.Server, tr transport.Transport, tokens auth.TokenProvider) *Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c, err := NewClient(ClientConfig{
		StreamURL:   srv.URL + "/stream",
		NoStreamURL: srv.URL + "/generate",
		ModelsURL:   srv.URL + "/models",
		Host:        "upstream.example",
		Transport:   tr,
		Tokens:      tokens,
		Logger:      logrus.NewEntry(logger),
	})
	require.NoError(t, err)
	return c
}

// writeSlowly 以很小的分块写出并逐块 flush，让行边界落在任意位置。
func writeSlowly(w http.ResponseWriter, body string, size int) {
	flusher, _ := w.(http.Flusher)
	for len(body) > 0 {
		n := size
		if n > len(body) {
			n = len(body)
		}
		_, _ = io.WriteString(w, body[:n])
		body = body[n:]
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func collect(events *[]Event) EventSink {
	return func(e Event) error {
		*events = append(*events, e)
		return nil
	}
}

func TestClientStream_TranslatesAcrossChunks(t *testing.T) {
	body := "data: " + framePayload("", thoughtPart("想一想")) + "\n" +
		"\n" +
		"data: " + framePayload("", textPart("你好")) + "\n" +
		"data: " + framePayload("STOP", callPart("", "lookup", `{"q":"x"}`)) + "\n"

	for _, tt := range transports {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/stream", r.URL.Path)
				require.Equal(t, "upstream.example", r.Host)
				require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				require.Equal(t, "application/json", r.Header.Get("Content-Type"))
				require.NotEmpty(t, r.Header.Get("User-Agent"))
				writeSlowly(w, body, 5)
			}))
			t.Cleanup(srv.Close)

			c := newTestClient(t, srv, tt.new(srv.Client()), newFakeTokens())
			var events []Event
			require.NoError(t, c.StreamCompletion(context.Background(), []byte(`{}`), collect(&events)))

			require.Len(t, events, 5)
			require.Equal(t, Event{Type: EventThinking, Content: ThinkingOpenMarker}, events[0])
			require.Equal(t, Event{Type: EventThinking, Content: "想一想"}, events[1])
			require.Equal(t, Event{Type: EventThinking, Content: ThinkingCloseMarker}, events[2])
			require.Equal(t, Event{Type: EventText, Content: "你好"}, events[3])
			require.Equal(t, EventToolCalls, events[4].Type)
			require.Len(t, events[4].ToolCalls, 1)
			require.Equal(t, "lookup", events[4].ToolCalls[0].Name)
			require.Equal(t, `{"q":"x"}`, events[4].ToolCalls[0].Arguments)
		})
	}
}

func TestClientStream_SkipsMalformedLine(t *testing.T) {
	body := "data: " + framePayload("", textPart("a")) + "\n" +
		"data: {\"response\":{broken\n" +
		"data: " + framePayload("", textPart("b")) + "\n"

	for _, tt := range transports {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			}))
			t.Cleanup(srv.Close)

			c := newTestClient(t, srv, tt.new(srv.Client()), newFakeTokens())
			var events []Event
			require.NoError(t, c.StreamCompletion(context.Background(), []byte(`{}`), collect(&events)))
			require.Equal(t, []Event{{Type: EventText, Content: "a"}, {Type: EventText, Content: "b"}}, events)
		})
	}
}

func TestClientStream_DiscardsUnterminatedTail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: "+framePayload("", textPart("a"))+"\n"+"data: "+framePayload("", textPart("b")))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv, transport.NewHTTP(srv.Client()), newFakeTokens())
	var events []Event
	require.NoError(t, c.StreamCompletion(context.Background(), []byte(`{}`), collect(&events)))
	require.Equal(t, []Event{{Type: EventText, Content: "a"}}, events)
}

func TestClientStream_ForbiddenDisablesCredential(t *testing.T) {
	for _, tt := range transports {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = io.WriteString(w, `{"error":{"message":"permission denied"}}`)
			}))
			t.Cleanup(srv.Close)

			tokens := newFakeTokens()
			c := newTestClient(t, srv, tt.new(srv.Client()), tokens)
			var events []Event
			err := c.StreamCompletion(context.Background(), []byte(`{}`), collect(&events))

			var upstreamErr *UpstreamRequestError
			require.True(t, errors.As(err, &upstreamErr))
			require.Equal(t, http.StatusForbidden, upstreamErr.StatusCode)
			require.True(t, upstreamErr.IsForbidden())
			require.True(t, upstreamErr.CredentialDisabled)
			require.Contains(t, upstreamErr.Body, "permission denied")
			require.Empty(t, events)
			require.Equal(t, 1, tokens.disabledCount())
			require.Equal(t, "tok", tokens.disabled[0].AccessToken)
		})
	}
}

func TestClientStream_OtherErrorStatusKeepsCredential(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusNoContent} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			t.Cleanup(srv.Close)

			tokens := newFakeTokens()
			c := newTestClient(t, srv, transport.NewHTTP(srv.Client()), tokens)
			var events []Event
			err := c.StreamCompletion(context.Background(), []byte(`{}`), collect(&events))
			var upstreamErr *UpstreamRequestError
			require.True(t, errors.As(err, &upstreamErr))
			require.Equal(t, status, upstreamErr.StatusCode)
			require.False(t, upstreamErr.CredentialDisabled)
			require.Zero(t, tokens.disabledCount())
			require.Empty(t, events)
		})
	}
}

func TestClient_NoCredential(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	for name, tokens := range map[string]*fakeTokens{
		"nil":   {},
		"empty": {cred: &auth.Credential{AccessToken: "  "}},
		"error": {err: errors.New("accounts file unreadable")},
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, srv, transport.NewHTTP(srv.Client()), tokens)
			err := c.StreamCompletion(context.Background(), []byte(`{}`), func(Event) error { return nil })
			require.ErrorIs(t, err, ErrNoCredential)
			_, err = c.Completion(context.Background(), []byte(`{}`))
			require.ErrorIs(t, err, ErrNoCredential)
			_, err = c.ListModels(context.Background())
			require.ErrorIs(t, err, ErrNoCredential)
		})
	}
	require.Zero(t, hits.Load())
}

func TestClientStream_TransportErrorDropsPendingCalls(t *testing.T) {
	partial := "data: " + framePayload("", textPart("a")) + "\n" +
		"data: " + framePayload("", callPart("c1", "f", `{}`)) + "\n"

	for _, tt := range transports {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				// 声明的长度大于实际写出的内容，客户端读取时得到 unexpected EOF。
				w.Header().Set("Content-Length", "100000")
				_, _ = io.WriteString(w, partial)
			}))
			t.Cleanup(srv.Close)

			c := newTestClient(t, srv, tt.new(srv.Client()), newFakeTokens())
			var events []Event
			err := c.StreamCompletion(context.Background(), []byte(`{}`), collect(&events))
			require.Error(t, err)
			var transportErr *transport.TransportError
			require.True(t, errors.As(err, &transportErr))
			require.Equal(t, []Event{{Type: EventText, Content: "a"}}, events)
		})
	}
}

func TestClientStream_SinkErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: "+framePayload("", textPart("a"))+"\ndata: "+framePayload("", textPart("b"))+"\n")
	}))
	t.Cleanup(srv.Close)

	gone := errors.New("downstream closed")
	c := newTestClient(t, srv, transport.NewPush(transport.NewNativeRequesterWithClient(srv.Client())), newFakeTokens())
	calls := 0
	err := c.StreamCompletion(context.Background(), []byte(`{}`), func(Event) error {
		calls++
		return gone
	})
	require.ErrorIs(t, err, gone)
	require.Equal(t, 1, calls)
}

func TestClientStream_GzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "gzip", r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = io.WriteString(gz, "data: "+framePayload("", textPart("zip"))+"\n")
		_ = gz.Close()
	}))
	t.Cleanup(srv.Close)

	for _, tt := range transports {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, srv, tt.new(srv.Client()), newFakeTokens())
			var events []Event
			require.NoError(t, c.StreamCompletion(context.Background(), []byte(`{}`), collect(&events)))
			require.Equal(t, []Event{{Type: EventText, Content: "zip"}}, events)
		})
	}
}

func TestClientStream_ConcurrentCallsAreIndependent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tag string `json:"tag"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeSlowly(w, "data: "+framePayload("", thoughtPart(req.Tag))+"\n"+
			"data: "+framePayload("STOP", textPart(req.Tag), callPart("", "f", `{}`))+"\n", 7)
	}))
	t.Cleanup(srv.Close)

	for _, tt := range transports {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, srv, tt.new(srv.Client()), newFakeTokens())
			const n = 8
			results := make([][]Event, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					body := map[string]string{"tag": fmt.Sprintf("req-%d", i)}
					var events []Event
					err := c.StreamCompletion(context.Background(), body, collect(&events))
					if err == nil {
						results[i] = events
					}
				}(i)
			}
			wg.Wait()

			for i, events := range results {
				tag := fmt.Sprintf("req-%d", i)
				require.Len(t, events, 5, tag)
				require.Equal(t, ThinkingOpenMarker, events[0].Content)
				require.Equal(t, tag, events[1].Content)
				require.Equal(t, ThinkingCloseMarker, events[2].Content)
				require.Equal(t, Event{Type: EventText, Content: tag}, events[3])
				require.Len(t, events[4].ToolCalls, 1)
			}
		})
	}
}

func TestClientStream_FillsProjectFromCredential(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, "data: "+framePayload("STOP", textPart("ok"))+"\n")
	}))
	t.Cleanup(srv.Close)

	req, err := BuildRequest(&openaiapi.OpenAIChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []openaiapi.OpenAIMessage{{Role: "user", Content: "hi"}},
	}, RequestOptions{})
	require.NoError(t, err)

	c := newTestClient(t, srv, transport.NewHTTP(srv.Client()), newFakeTokens())
	require.NoError(t, c.StreamCompletion(context.Background(), req, func(Event) error { return nil }))
	require.Equal(t, "proj-1", got.Project)
	require.Equal(t, "gemini-2.5-flash", got.Model)
	// 入参不被修改
	require.Empty(t, req.Project)
}

func TestClientCompletion(t *testing.T) {
	body := `{"response":{"candidates":[{"content":{"role":"model","parts":[` +
		thoughtPart("x") + `,` + textPart("y") + `,` + callPart("", "f", `{"a": [1, 2]}`) +
		`]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":2,"totalTokenCount":3}}}`

	for _, tt := range transports {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/generate", r.URL.Path)
				_, _ = io.WriteString(w, body)
			}))
			t.Cleanup(srv.Close)

			c := newTestClient(t, srv, tt.new(srv.Client()), newFakeTokens())
			result, err := c.Completion(context.Background(), []byte(`{}`))
			require.NoError(t, err)
			require.Equal(t, "<think>\nx\n</think>\ny", result.Content)
			require.Len(t, result.ToolCalls, 1)
			require.Equal(t, `{"a":[1,2]}`, result.ToolCalls[0].Arguments)
			require.Equal(t, "STOP", result.FinishReason)
			require.Equal(t, 3, result.Usage.TotalTokenCount)
		})
	}
}

func TestClientCompletion_Errors(t *testing.T) {
	status := http.StatusForbidden
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "not json")
	}))
	t.Cleanup(srv.Close)

	tokens := newFakeTokens()
	c := newTestClient(t, srv, transport.NewHTTP(srv.Client()), tokens)
	_, err := c.Completion(context.Background(), []byte(`{}`))
	var upstreamErr *UpstreamRequestError
	require.True(t, errors.As(err, &upstreamErr))
	require.True(t, upstreamErr.CredentialDisabled)
	require.Equal(t, "not json", upstreamErr.Body)
	require.Equal(t, 1, tokens.disabledCount())

	status = http.StatusOK
	_, err = c.Completion(context.Background(), []byte(`{}`))
	require.Error(t, err)
	var decodeErr *FrameDecodeError
	require.True(t, errors.As(err, &decodeErr))
}

func TestClient_ForbiddenWithUndecodableBody(t *testing.T) {
	var zipped strings.Builder
	zw := gzip.NewWriter(&zipped)
	_, _ = io.WriteString(zw, "denied")
	require.NoError(t, zw.Close())

	cases := []struct {
		name     string
		encoding string
		body     string
	}{
		{name: "br", encoding: "br", body: "denied"},
		{name: "plain labelled gzip", encoding: "gzip", body: "denied"},
		{name: "gzip", encoding: "gzip", body: zipped.String()},
	}
	for _, tt := range transports {
		for _, tc := range cases {
			t.Run(tt.name+"/"+tc.name, func(t *testing.T) {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Encoding", tc.encoding)
					w.WriteHeader(http.StatusForbidden)
					_, _ = io.WriteString(w, tc.body)
				}))
				t.Cleanup(srv.Close)

				tokens := newFakeTokens()
				c := newTestClient(t, srv, tt.new(srv.Client()), tokens)

				var events []Event
				err := c.StreamCompletion(context.Background(), []byte(`{}`), collect(&events))
				var upstreamErr *UpstreamRequestError
				require.True(t, errors.As(err, &upstreamErr), "got %v", err)
				require.Equal(t, http.StatusForbidden, upstreamErr.StatusCode)
				require.True(t, upstreamErr.CredentialDisabled)
				require.Equal(t, "denied", upstreamErr.Body)
				require.Empty(t, events)

				_, err = c.Completion(context.Background(), []byte(`{}`))
				require.True(t, errors.As(err, &upstreamErr), "got %v", err)
				require.Equal(t, http.StatusForbidden, upstreamErr.StatusCode)
				require.Equal(t, "denied", upstreamErr.Body)
				require.Equal(t, 2, tokens.disabledCount())
			})
		}
	}
}

func TestClientListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		_, _ = io.WriteString(w, `{"models":{"gemini-3-pro-high":{"displayName":"Gemini 3 Pro"},"claude-sonnet-4-5":{}}}`)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv, transport.NewHTTP(srv.Client()), newFakeTokens())
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Model{
		{ID: "claude-sonnet-4-5"},
		{ID: "gemini-3-pro-high", DisplayName: "Gemini 3 Pro"},
	}, models)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{Tokens: newFakeTokens()})
	require.Error(t, err)
	_, err = NewClient(ClientConfig{Transport: transport.NewHTTP(nil)})
	require.Error(t, err)

	c, err := NewClient(ClientConfig{Transport: transport.NewHTTP(nil), Tokens: newFakeTokens()})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(c.config.StreamURL, "https://"))
}
