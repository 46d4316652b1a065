package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
)

// Callbacks 是推送式请求的生命周期回调。
// 约定：OnStart 至多一次且先于 OnData；OnEnd 与 OnError 恰好触发其一，且只触发一次。
type Callbacks struct {
	OnStart func(status int, header http.Header)
	OnData  func(chunk string)
	OnEnd   func()
	OnError func(err error)
}

// Requester 是回调驱动的上游请求器。
type Requester interface {
	Fetch(ctx context.Context, spec *RequestSpec) (*Response, error)
	// FetchStream 立即返回，回调在请求器自己的 goroutine 中按顺序触发。
	FetchStream(ctx context.Context, spec *RequestSpec, cb Callbacks)
}

// Push 把 Requester 的回调桥接为 ChunkStream：每个回调写入 channel，Next 每次只接收一项。
type Push struct {
	requester Requester
	buffer    int
}

// NewPush 创建推送式传输。
func NewPush(requester Requester) *Push {
	return &Push{requester: requester, buffer: 16}
}

func (t *Push) Do(ctx context.Context, spec *RequestSpec) (*Response, error) {
	return t.requester.Fetch(ctx, spec)
}

type pushKind int

const (
	pushStart pushKind = iota
	pushData
	pushEnd
	pushError
)

type pushItem struct {
	kind   pushKind
	status int
	chunk  string
	err    error
}

func (t *Push) Stream(ctx context.Context, spec *RequestSpec) (ChunkStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &pushStream{
		ctx:    streamCtx,
		cancel: cancel,
		items:  make(chan pushItem, t.buffer),
		url:    spec.URL,
	}
	t.requester.FetchStream(streamCtx, spec, Callbacks{
		OnStart: func(status int, _ http.Header) {
			s.push(pushItem{kind: pushStart, status: status})
		},
		OnData: func(chunk string) {
			s.push(pushItem{kind: pushData, chunk: chunk})
		},
		OnEnd: func() {
			if s.terminated.CompareAndSwap(false, true) {
				s.push(pushItem{kind: pushEnd})
			}
		},
		OnError: func(err error) {
			if s.terminated.CompareAndSwap(false, true) {
				s.push(pushItem{kind: pushError, err: err})
			}
		},
	})

	item, err := s.recv()
	if err != nil {
		cancel()
		return nil, err
	}
	switch item.kind {
	case pushStart:
		s.status = item.status
		return s, nil
	case pushError:
		cancel()
		return nil, &TransportError{Op: "stream", URL: spec.URL, Err: item.err}
	default:
		cancel()
		return nil, &TransportError{Op: "stream", URL: spec.URL, Err: errors.New("stream produced data before start")}
	}
}

type pushStream struct {
	ctx        context.Context
	cancel     context.CancelFunc
	items      chan pushItem
	url        string
	status     int
	terminated atomic.Bool
	final      error
}

// push 在消费方关闭后放弃写入，避免回调 goroutine 永久阻塞。
func (s *pushStream) push(item pushItem) {
	select {
	case s.items <- item:
	case <-s.ctx.Done():
	}
}

func (s *pushStream) recv() (pushItem, error) {
	select {
	case item := <-s.items:
		return item, nil
	case <-s.ctx.Done():
		return pushItem{}, &TransportError{Op: "stream", URL: s.url, Err: s.ctx.Err()}
	}
}

func (s *pushStream) StatusCode() int { return s.status }

func (s *pushStream) Next() (string, error) {
	if s.final != nil {
		return "", s.final
	}
	for {
		item, err := s.recv()
		if err != nil {
			s.final = err
			return "", err
		}
		switch item.kind {
		case pushData:
			return item.chunk, nil
		case pushEnd:
			s.final = io.EOF
			return "", io.EOF
		case pushError:
			s.final = &TransportError{Op: "read", URL: s.url, Err: item.err}
			return "", s.final
		}
	}
}

func (s *pushStream) Close() error {
	s.cancel()
	return nil
}
