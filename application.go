// Copyright 2025 Nonvolatile Inc. d/b/a Confident Security

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Application is the server under test. An [Engine] calls it synchronously
// for every request.
type Application interface {
	// Handle runs a single call to completion and returns its fully buffered
	// result. setup is called once, before the call runs, to populate the
	// call's headers and body.
	Handle(ctx context.Context, method, target string, setup func(c *Call)) (*CallResult, error)
	// Stop shuts the application down. In-flight calls get gracePeriod to
	// finish, after which they are asked to stop. Stop gives up at timeout.
	Stop(gracePeriod, timeout time.Duration) error
}

// Call is the in-process request as seen by the application.
type Call struct {
	// Host is the authority of the request.
	Host string
	// Header holds the request headers in the order they were added.
	Header Headers
	// Body is the request body, nil for calls without a body.
	Body []byte
}

// AddHeader adds a request header.
func (c *Call) AddHeader(name, value string) {
	c.Header.Add(name, value)
}

// CallResult is the completed response of an in-process call.
type CallResult struct {
	// Host is the host the call was served under, empty if the application
	// doesn't report it.
	Host       string
	StatusCode int
	Header     http.Header
	// Trailer holds the trailers declared by the handler, nil if there are none.
	Trailer http.Header
	// Body is never nil.
	Body []byte
}

// RequestValidator validates requests before a [HandlerApplication] passes
// them to its handler.
type RequestValidator interface {
	ValidRequest(r *http.Request) error
}

// HandlerApplication is an [Application] that serves calls with a
// http.Handler.
//
// The handler sees a server-side request: RequestURI is set, the Host header
// is moved to Host and RemoteAddr is a documentation address. The response is
// recorded the way net/http would write it.
//
// HandlerApplication is safe for concurrent use as long as the handler is.
type HandlerApplication struct {
	handler http.Handler
	cfg     *applicationCfg
	tracer  trace.Tracer

	// ctx is cancelled when in-flight calls have to stop.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	inflight int
	// idle is closed once the application is stopped and no calls are running.
	idle chan struct{}
}

// NewHandlerApplication creates a new application for the given handler.
func NewHandlerApplication(handler http.Handler, opts ...ApplicationOption) (*HandlerApplication, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}

	cfg := defaultApplicationConfig()
	for _, opt := range opts {
		err := opt(cfg)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HandlerApplication{
		handler: handler,
		cfg:     cfg,
		tracer:  cfg.tracer,
		ctx:     ctx,
		cancel:  cancel,
		idle:    make(chan struct{}),
	}, nil
}

// Handle implements [Application].
func (a *HandlerApplication) Handle(ctx context.Context, method, target string, setup func(c *Call)) (*CallResult, error) {
	if !a.enter() {
		return nil, ErrApplicationStopped
	}
	defer a.leave()

	ctx, span := a.tracer.Start(ctx, "inproc.HandlerApplication.Handle", trace.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", target),
	))
	defer span.End()

	// stopping the application cancels the call.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	call := &Call{Host: a.cfg.host}
	if setup != nil {
		setup(call)
	}

	req, err := a.newRequest(ctx, method, target, call)
	if err != nil {
		return nil, err
	}

	if a.cfg.reqValidator != nil {
		err = a.cfg.reqValidator.ValidRequest(req)
		if err != nil {
			return nil, err
		}
	}

	rec := newResponseRecorder(req.Method)
	err = serve(a.handler, rec, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := rec.finish()
	result.Host = req.Host
	span.SetAttributes(attribute.Int("http.response.status_code", result.StatusCode))
	return result, nil
}

func (a *HandlerApplication) enter() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.inflight++
	return true
}

func (a *HandlerApplication) leave() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inflight--
	if a.stopped && a.inflight == 0 {
		close(a.idle)
	}
}

// newRequest builds the server-side request for a call.
func (a *HandlerApplication) newRequest(ctx context.Context, method, target string, call *Call) (*http.Request, error) {
	if method == "" {
		method = http.MethodGet
	}
	if target == "" {
		target = "/"
	}

	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, fmt.Errorf("invalid request target %q: %w", target, err)
	}

	header := call.Header.HTTPHeader()
	host := call.Host
	// just like net/http, the Host header is moved to the Host field.
	if h := header.Get("Host"); h != "" {
		host = h
	}
	header.Del("Host")
	if host == "" {
		host = DefaultHost
	}

	req := &http.Request{
		Method:     method,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Body:       http.NoBody,
		Host:       host,
		RemoteAddr: a.cfg.remoteAddr,
		RequestURI: target,
	}
	if call.Body != nil {
		req.Body = &bodyReader{Reader: bytes.NewReader(call.Body)}
		req.ContentLength = int64(len(call.Body))
	}

	return req.WithContext(ctx), nil
}

// serve runs the handler and turns a panic into an error.
func serve(h http.Handler, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &HandlerPanicError{Value: v, Stack: debug.Stack()}
		}
	}()

	h.ServeHTTP(w, r)
	return nil
}

// Stop implements [Application]. New calls fail with [ErrApplicationStopped]
// once Stop is called. Calling Stop more than once is harmless.
func (a *HandlerApplication) Stop(gracePeriod, timeout time.Duration) error {
	a.mu.Lock()
	if !a.stopped {
		a.stopped = true
		if a.inflight == 0 {
			close(a.idle)
		}
	}
	a.mu.Unlock()

	if waitFor(a.idle, gracePeriod) {
		a.cancel()
		return nil
	}

	a.cancel()
	if waitFor(a.idle, timeout-gracePeriod) {
		return nil
	}
	return ErrStopTimeout
}

// waitFor waits at most d for done to be closed.
func waitFor(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

type bodyReader struct {
	*bytes.Reader
}

func (*bodyReader) Close() error {
	return nil
}
