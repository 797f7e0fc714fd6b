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
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Capturer records in-process exchanges. See the capture package for an
// implementation.
type Capturer interface {
	Capture(ctx context.Context, req *http.Request, resp *http.Response) error
}

// Engine bridges client requests to an [Application]. Every request is
// serviced synchronously: its content is materialized, the application is
// called and its buffered result is returned.
//
// An Engine has no per-request state of its own and is safe for concurrent
// use if its Application is.
type Engine struct {
	app         Application
	tracer      trace.Tracer
	logger      *slog.Logger
	capturer    Capturer
	gracePeriod time.Duration
	stopTimeout time.Duration
}

// NewEngine creates an engine bound to app.
func NewEngine(app Application, opts ...EngineOption) (*Engine, error) {
	if app == nil {
		return nil, errors.New("nil application")
	}

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		err := opt(cfg)
		if err != nil {
			return nil, err
		}
	}

	return &Engine{
		app:         app,
		tracer:      cfg.tracer,
		logger:      cfg.logger,
		capturer:    cfg.capturer,
		gracePeriod: cfg.gracePeriod,
		stopTimeout: cfg.stopTimeout,
	}, nil
}

// Execute runs req with the given content and returns the response.
func (e *Engine) Execute(ctx context.Context, req *Request, content OutgoingContent) (*ClientResponse, error) {
	result, err := e.RunRequest(ctx, req.method, req.url, req.header, content)
	if err != nil {
		return nil, err
	}
	return newClientResponse(result), nil
}

// RunRequest calls the application for a single request.
//
// The headers sent to the application are the caller's headers followed by
// the content's own headers. Content-Length and Content-Type are resolved
// separately: the caller's value wins over the value declared by the content,
// and the header is left out when neither has one.
//
// Content other than [NoContent] is materialized before the application is
// called. When that fails the application is not called. Errors returned by
// the application are returned as-is.
func (e *Engine) RunRequest(ctx context.Context, method string, u *url.URL, header Headers, content OutgoingContent) (*CallResult, error) {
	if content == nil {
		content = NewNoContent()
	}
	target := u.RequestURI()

	ctx, span := e.tracer.Start(ctx, "inproc.Engine.RunRequest", trace.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", target),
		attribute.String("content.kind", content.Kind()),
	))
	defer span.End()

	start := time.Now()
	outgoing := reconcileHeaders(header, content)

	var body []byte
	if _, ok := content.(*NoContent); !ok {
		b, err := materializeTraced(ctx, e.tracer, content)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		body = b
	}

	var callHost string
	result, err := e.app.Handle(ctx, method, target, func(c *Call) {
		if u.Host != "" {
			c.Host = u.Host
		}
		for name, value := range outgoing.All() {
			c.AddHeader(name, value)
		}
		c.Body = body
		callHost = c.Host
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", result.StatusCode))
	e.logger.DebugContext(ctx, "In-process call",
		"method", method,
		"target", target,
		"status", result.StatusCode,
		"duration", time.Since(start),
	)

	if e.capturer != nil {
		host := result.Host
		if host == "" {
			host = callHost
		}
		e.capture(ctx, method, u, host, outgoing, body, result)
	}

	return result, nil
}

// reconcileHeaders merges the caller's headers with the headers declared by
// the content.
//
// Non-framing headers that appear in both sources are sent twice.
func reconcileHeaders(header Headers, content OutgoingContent) Headers {
	var out Headers
	for name, value := range header.All() {
		if isFramingHeader(name) {
			continue // set later
		}
		out.Add(name, value)
	}

	for name, value := range content.Headers().All() {
		if isFramingHeader(name) {
			continue
		}
		out.Add(name, value)
	}

	contentLength, ok := header.Lookup(headerContentLength)
	if !ok {
		if n, declared := content.ContentLength(); declared {
			contentLength, ok = strconv.FormatInt(n, 10), true
		}
	}
	if ok {
		out.Add(headerContentLength, contentLength)
	}

	contentType, ok := header.Lookup(headerContentType)
	if !ok && content.ContentType() != "" {
		contentType, ok = content.ContentType(), true
	}
	if ok {
		out.Add(headerContentType, contentType)
	}

	return out
}

// capture hands the exchange to the capturer. The captured URL carries the
// host the application served the call under. Capture failures never fail
// the call.
func (e *Engine) capture(ctx context.Context, method string, u *url.URL, host string, header Headers, body []byte, result *CallResult) {
	captureURL := *u
	if captureURL.Scheme == "" {
		captureURL.Scheme = "http"
	}
	if host != "" {
		captureURL.Host = host
	}
	if captureURL.Host == "" {
		captureURL.Host = DefaultHost
	}

	req, err := http.NewRequestWithContext(ctx, method, captureURL.String(), bytes.NewReader(body))
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to capture exchange", "error", err)
		return
	}
	req.Header = header.HTTPHeader()
	req.ContentLength = int64(len(body))
	if len(body) == 0 {
		req.Body = http.NoBody
	}

	resp := &http.Response{
		Status:        strconv.Itoa(result.StatusCode) + " " + http.StatusText(result.StatusCode),
		StatusCode:    result.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        result.Header.Clone(),
		Trailer:       result.Trailer.Clone(),
		Body:          io.NopCloser(bytes.NewReader(result.Body)),
		ContentLength: int64(len(result.Body)),
		Request:       req,
	}

	err = e.capturer.Capture(ctx, req, resp)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to capture exchange", "error", err, "method", method, "url", captureURL.String())
	}
}

// Close stops the application the engine is bound to. Close passes the
// configured stop timeouts to the application and doesn't guard against being
// called more than once.
func (e *Engine) Close() error {
	e.logger.Debug("Stopping application", "grace_period", e.gracePeriod, "timeout", e.stopTimeout)
	return e.app.Stop(e.gracePeriod, e.stopTimeout)
}
