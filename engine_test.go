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

package inproc_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openpcc/inproc"
	"github.com/stretchr/testify/require"
)

// spyApp records calls instead of running them.
type spyApp struct {
	mu     sync.Mutex
	calls  []spyCall
	result *inproc.CallResult
	err    error
	stops  [][2]time.Duration
}

type spyCall struct {
	method string
	target string
	call   *inproc.Call
}

func (a *spyApp) Handle(_ context.Context, method, target string, setup func(c *inproc.Call)) (*inproc.CallResult, error) {
	c := &inproc.Call{}
	setup(c)

	a.mu.Lock()
	a.calls = append(a.calls, spyCall{method: method, target: target, call: c})
	a.mu.Unlock()

	if a.err != nil {
		return nil, a.err
	}
	if a.result != nil {
		return a.result, nil
	}
	return &inproc.CallResult{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       []byte{},
	}, nil
}

func (a *spyApp) Stop(gracePeriod, timeout time.Duration) error {
	a.stops = append(a.stops, [2]time.Duration{gracePeriod, timeout})
	return nil
}

func (a *spyApp) onlyCall(t *testing.T) spyCall {
	t.Helper()
	require.Len(t, a.calls, 1)
	return a.calls[0]
}

func newSpyEngine(t *testing.T, app *spyApp, opts ...inproc.EngineOption) *inproc.Engine {
	t.Helper()
	engine, err := inproc.NewEngine(app, opts...)
	require.NoError(t, err)
	return engine
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestEngineRunRequest(t *testing.T) {
	t.Run("ok, byte array content with declared type", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		content := inproc.NewByteArrayContent([]byte("hi"), inproc.WithContentType("text/plain"))
		_, err := engine.RunRequest(t.Context(), http.MethodPost, mustURL(t, "/echo"), inproc.Headers{}, content)
		require.NoError(t, err)

		got := app.onlyCall(t)
		require.Equal(t, http.MethodPost, got.method)
		require.Equal(t, "/echo", got.target)
		require.Equal(t, []inproc.HeaderField{
			{Name: "Content-Length", Value: "2"},
			{Name: "Content-Type", Value: "text/plain"},
		}, got.call.Header.Fields())
		require.Equal(t, []byte("hi"), got.call.Body)
	})

	t.Run("ok, caller content length wins over declared length", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		header := inproc.NewHeaders("Content-Length", "5")
		content := inproc.NewByteArrayContent([]byte("hi"))
		_, err := engine.RunRequest(t.Context(), http.MethodPost, mustURL(t, "/"), header, content)
		require.NoError(t, err)

		got := app.onlyCall(t)
		require.Equal(t, []string{"5"}, got.call.Header.Values("Content-Length"))
	})

	t.Run("ok, caller content type wins over declared type", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		header := inproc.NewHeaders("content-type", "application/json")
		content := inproc.NewTextContent("{}", "text/plain")
		_, err := engine.RunRequest(t.Context(), http.MethodPost, mustURL(t, "/"), header, content)
		require.NoError(t, err)

		got := app.onlyCall(t)
		require.Equal(t, []string{"application/json"}, got.call.Header.Values("Content-Type"))
	})

	t.Run("ok, framing headers declared on the content are not copied", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		content := inproc.NewByteArrayContent([]byte("hi"),
			inproc.WithContentHeader("Content-Length", "99"),
			inproc.WithContentHeader("Content-Type", "bogus/type"),
			inproc.WithContentHeader("Content-Encoding", "identity"),
		)
		_, err := engine.RunRequest(t.Context(), http.MethodPost, mustURL(t, "/"), inproc.Headers{}, content)
		require.NoError(t, err)

		got := app.onlyCall(t)
		require.Equal(t, []inproc.HeaderField{
			{Name: "Content-Encoding", Value: "identity"},
			{Name: "Content-Length", Value: "2"},
		}, got.call.Header.Fields())
	})

	t.Run("ok, caller headers come before content headers", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		header := inproc.NewHeaders("Accept", "text/plain", "X-Multi", "1", "X-Multi", "2")
		content := inproc.NewNoContent(inproc.WithContentHeader("X-Content", "yes"))
		_, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "/"), header, content)
		require.NoError(t, err)

		got := app.onlyCall(t)
		require.Equal(t, []inproc.HeaderField{
			{Name: "Accept", Value: "text/plain"},
			{Name: "X-Multi", Value: "1"},
			{Name: "X-Multi", Value: "2"},
			{Name: "X-Content", Value: "yes"},
		}, got.call.Header.Fields())
	})

	// Headers present on both the caller and the content are sent twice. This
	// test documents that behaviour, it is not deduplicated.
	t.Run("ok, duplicate non-framing headers are kept", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		header := inproc.NewHeaders("X-Trace", "caller")
		content := inproc.NewNoContent(inproc.WithContentHeader("X-Trace", "content"))
		_, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "/"), header, content)
		require.NoError(t, err)

		got := app.onlyCall(t)
		require.Equal(t, []string{"caller", "content"}, got.call.Header.Values("X-Trace"))
	})

	t.Run("ok, no content sends no body and no framing headers", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		header := inproc.NewHeaders("Accept", "*/*")
		_, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "/"), header, inproc.NewNoContent())
		require.NoError(t, err)

		got := app.onlyCall(t)
		require.Nil(t, got.call.Body)
		require.False(t, got.call.Header.Has("Content-Length"))
		require.False(t, got.call.Header.Has("Content-Type"))
	})

	t.Run("ok, no content keeps caller framing headers", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		header := inproc.NewHeaders("Content-Length", "0", "Content-Type", "text/plain")
		_, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "/"), header, inproc.NewNoContent())
		require.NoError(t, err)

		got := app.onlyCall(t)
		require.Nil(t, got.call.Body)
		require.Equal(t, []string{"0"}, got.call.Header.Values("Content-Length"))
		require.Equal(t, []string{"text/plain"}, got.call.Header.Values("Content-Type"))
	})

	t.Run("ok, nil content is no content", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		_, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "/"), inproc.Headers{}, nil)
		require.NoError(t, err)
		require.Nil(t, app.onlyCall(t).call.Body)
	})

	t.Run("ok, stream without declared length has no content length", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		content := inproc.NewReaderContent(strings.NewReader("streamed"))
		_, err := engine.RunRequest(t.Context(), http.MethodPut, mustURL(t, "/"), inproc.Headers{}, content)
		require.NoError(t, err)

		got := app.onlyCall(t)
		require.False(t, got.call.Header.Has("Content-Length"))
		require.Equal(t, []byte("streamed"), got.call.Body)
	})

	t.Run("ok, write channel content", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		content := inproc.NewWriteChannelContent(func(_ context.Context, w io.Writer) error {
			_, err := io.WriteString(w, "written")
			return err
		}, inproc.WithContentLength(7))
		_, err := engine.RunRequest(t.Context(), http.MethodPut, mustURL(t, "/"), inproc.Headers{}, content)
		require.NoError(t, err)

		got := app.onlyCall(t)
		require.Equal(t, []string{"7"}, got.call.Header.Values("Content-Length"))
		require.Equal(t, []byte("written"), got.call.Body)
	})

	t.Run("ok, target and host come from the url", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		_, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "http://example.com/search?q=go"), inproc.Headers{}, nil)
		require.NoError(t, err)

		got := app.onlyCall(t)
		require.Equal(t, "/search?q=go", got.target)
		require.Equal(t, "example.com", got.call.Host)
	})

	t.Run("ok, url without path targets root", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		_, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "http://example.com"), inproc.Headers{}, nil)
		require.NoError(t, err)
		require.Equal(t, "/", app.onlyCall(t).target)
	})

	t.Run("fail, protocol upgrade makes no call", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		_, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "/ws"), inproc.Headers{}, inproc.NewProtocolUpgrade())
		require.ErrorIs(t, err, inproc.ErrUnsupportedContentKind)

		kindErr := &inproc.UnsupportedContentKindError{}
		require.ErrorAs(t, err, &kindErr)
		require.Equal(t, "ProtocolUpgrade", kindErr.Kind)
		require.Empty(t, app.calls)
	})

	t.Run("fail, stream error makes no call", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		errRead := errors.New("read failed")
		content := inproc.NewReadChannelContent(func(context.Context) (io.ReadCloser, error) {
			return nil, errRead
		})
		_, err := engine.RunRequest(t.Context(), http.MethodPost, mustURL(t, "/"), inproc.Headers{}, content)
		require.Same(t, errRead, err)
		require.Empty(t, app.calls)
	})

	t.Run("fail, panicking writer makes no call", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		content := inproc.NewWriteChannelContent(func(context.Context, io.Writer) error {
			panic("writer boom")
		})
		_, err := engine.RunRequest(t.Context(), http.MethodPost, mustURL(t, "/"), inproc.Headers{}, content)
		panicErr := &inproc.ContentPanicError{}
		require.ErrorAs(t, err, &panicErr)
		require.Empty(t, app.calls)
	})

	t.Run("fail, application error is returned unchanged", func(t *testing.T) {
		errApp := errors.New("application failed")
		app := &spyApp{err: errApp}
		engine := newSpyEngine(t, app)

		_, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "/"), inproc.Headers{}, nil)
		require.Same(t, errApp, err)
	})
}

func TestEngineExecute(t *testing.T) {
	t.Run("ok, response wraps the call result", func(t *testing.T) {
		app := &spyApp{
			result: &inproc.CallResult{
				StatusCode: http.StatusCreated,
				Header:     http.Header{"Location": {"/items/1"}},
				Trailer:    http.Header{"X-Checksum": {"abc"}},
				Body:       []byte("created"),
			},
		}
		engine := newSpyEngine(t, app)

		req, err := inproc.NewRequest(http.MethodPost, "http://inproc.invalid/items", inproc.NewHeaders("Accept", "text/plain"))
		require.NoError(t, err)

		resp, err := engine.Execute(t.Context(), req, inproc.NewTextContent("item", ""))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.Equal(t, "201 Created", resp.Status())
		require.Equal(t, "/items/1", resp.Header.Get("Location"))
		require.Equal(t, "abc", resp.Trailer.Get("X-Checksum"))
		require.Equal(t, []byte("created"), resp.Body)

		got := app.onlyCall(t)
		require.Equal(t, "/items", got.target)
		require.Equal(t, []inproc.HeaderField{
			{Name: "Accept", Value: "text/plain"},
			{Name: "Content-Length", Value: "4"},
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		}, got.call.Header.Fields())
	})

	t.Run("ok, http response", func(t *testing.T) {
		app := &spyApp{
			result: &inproc.CallResult{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"text/plain"}},
				Body:       []byte("body"),
			},
		}
		engine := newSpyEngine(t, app)

		req, err := inproc.NewRequest("", "/", inproc.Headers{})
		require.NoError(t, err)
		require.Equal(t, http.MethodGet, req.Method())

		resp, err := engine.Execute(t.Context(), req, nil)
		require.NoError(t, err)

		httpResp := resp.HTTPResponse(nil)
		require.Equal(t, "200 OK", httpResp.Status)
		require.Equal(t, int64(4), httpResp.ContentLength)
		body, err := io.ReadAll(httpResp.Body)
		require.NoError(t, err)
		require.Equal(t, []byte("body"), body)
		require.NoError(t, httpResp.Body.Close())
	})
}

func TestClientResponseFlatHeader(t *testing.T) {
	resp := &inproc.ClientResponse{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Accept-Ranges": {"bytes"},
			"Vary":          {"Accept", "Accept-Encoding"},
			"Set-Cookie":    {"a=1", "b=2"},
			"X-Empty":       {},
		},
	}

	require.Equal(t, map[string]string{
		"Accept-Ranges": "bytes",
		"Vary":          "Accept, Accept-Encoding",
		"Set-Cookie":    "a=1",
	}, resp.FlatHeader())
}

func TestNewRequest(t *testing.T) {
	t.Run("ok, request is immutable", func(t *testing.T) {
		header := inproc.NewHeaders("A", "1")
		req, err := inproc.NewRequest(http.MethodGet, "http://example.com/a", header)
		require.NoError(t, err)

		header.Add("B", "2")
		h := req.Header()
		h.Add("C", "3")
		u := req.URL()
		u.Path = "/changed"

		require.Equal(t, 1, req.Header().Len())
		require.Equal(t, "/a", req.URL().Path)
	})

	tests := map[string]struct {
		method string
		url    string
		header inproc.Headers
	}{
		"fail, invalid url": {
			method: http.MethodGet,
			url:    "http://[::1",
		},
		"fail, invalid method": {
			method: "GET /",
			url:    "/",
		},
		"fail, invalid header name": {
			method: http.MethodGet,
			url:    "/",
			header: inproc.NewHeaders("Bad Name", "x"),
		},
		"fail, invalid header value": {
			method: http.MethodGet,
			url:    "/",
			header: inproc.NewHeaders("X-Value", "line\nbreak"),
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := inproc.NewRequest(tc.method, tc.url, tc.header)
			require.Error(t, err)
		})
	}
}

func TestEngineClose(t *testing.T) {
	t.Run("ok, close stops the application with zero timeouts", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app)

		require.NoError(t, engine.Close())
		require.Equal(t, [][2]time.Duration{{0, 0}}, app.stops)
	})

	t.Run("ok, close passes configured timeouts", func(t *testing.T) {
		app := &spyApp{}
		engine := newSpyEngine(t, app, inproc.WithStopTimeouts(time.Second, 2*time.Second))

		require.NoError(t, engine.Close())
		require.NoError(t, engine.Close())
		require.Equal(t, [][2]time.Duration{
			{time.Second, 2 * time.Second},
			{time.Second, 2 * time.Second},
		}, app.stops)
	})
}

func TestNewEngine(t *testing.T) {
	tests := map[string]struct {
		app  inproc.Application
		opts []inproc.EngineOption
	}{
		"fail, nil application": {
			app: nil,
		},
		"fail, nil tracer": {
			app:  &spyApp{},
			opts: []inproc.EngineOption{inproc.WithOTELTracer(nil)},
		},
		"fail, nil logger": {
			app:  &spyApp{},
			opts: []inproc.EngineOption{inproc.WithLogger(nil)},
		},
		"fail, nil capturer": {
			app:  &spyApp{},
			opts: []inproc.EngineOption{inproc.WithCapture(nil)},
		},
		"fail, negative stop timeouts": {
			app:  &spyApp{},
			opts: []inproc.EngineOption{inproc.WithStopTimeouts(-1, 0)},
		},
		"fail, timeout shorter than grace period": {
			app:  &spyApp{},
			opts: []inproc.EngineOption{inproc.WithStopTimeouts(2*time.Second, time.Second)},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := inproc.NewEngine(tc.app, tc.opts...)
			require.Error(t, err)
		})
	}
}

type capturerFunc func(ctx context.Context, req *http.Request, resp *http.Response) error

func (f capturerFunc) Capture(ctx context.Context, req *http.Request, resp *http.Response) error {
	return f(ctx, req, resp)
}

func TestEngineCapture(t *testing.T) {
	t.Run("ok, exchange is captured", func(t *testing.T) {
		app := &spyApp{
			result: &inproc.CallResult{
				StatusCode: http.StatusAccepted,
				Header:     http.Header{"X-Reply": {"yes"}},
				Body:       []byte("reply"),
			},
		}

		var gotReq *http.Request
		var gotReqBody, gotRespBody []byte
		var gotStatus int
		capturer := capturerFunc(func(_ context.Context, req *http.Request, resp *http.Response) error {
			var err error
			gotReq = req
			gotReqBody, err = io.ReadAll(req.Body)
			require.NoError(t, err)
			gotRespBody, err = io.ReadAll(resp.Body)
			require.NoError(t, err)
			gotStatus = resp.StatusCode
			return nil
		})
		engine := newSpyEngine(t, app, inproc.WithCapture(capturer))

		content := inproc.NewTextContent("ping", "")
		_, err := engine.RunRequest(t.Context(), http.MethodPost, mustURL(t, "/ping"), inproc.NewHeaders("X-Req", "1"), content)
		require.NoError(t, err)

		require.NotNil(t, gotReq)
		require.Equal(t, http.MethodPost, gotReq.Method)
		require.Equal(t, "http://inproc.invalid/ping", gotReq.URL.String())
		require.Equal(t, "1", gotReq.Header.Get("X-Req"))
		require.Equal(t, "4", gotReq.Header.Get("Content-Length"))
		require.Equal(t, []byte("ping"), gotReqBody)
		require.Equal(t, http.StatusAccepted, gotStatus)
		require.Equal(t, []byte("reply"), gotRespBody)
	})

	t.Run("ok, captured host is the host the application served", func(t *testing.T) {
		app, err := inproc.NewHandlerApplication(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, r.Host)
		}), inproc.WithHost("api.test"))
		require.NoError(t, err)

		var gotReq *http.Request
		capturer := capturerFunc(func(_ context.Context, req *http.Request, _ *http.Response) error {
			gotReq = req
			return nil
		})
		engine, err := inproc.NewEngine(app, inproc.WithCapture(capturer))
		require.NoError(t, err)

		result, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "/items?page=2"), inproc.Headers{}, nil)
		require.NoError(t, err)
		require.Equal(t, []byte("api.test"), result.Body)

		require.NotNil(t, gotReq)
		require.Equal(t, "http://api.test/items?page=2", gotReq.URL.String())
		require.Equal(t, "api.test", gotReq.Host)
	})

	t.Run("ok, captured host follows the host header", func(t *testing.T) {
		app, err := inproc.NewHandlerApplication(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		require.NoError(t, err)

		var gotReq *http.Request
		capturer := capturerFunc(func(_ context.Context, req *http.Request, _ *http.Response) error {
			gotReq = req
			return nil
		})
		engine, err := inproc.NewEngine(app, inproc.WithCapture(capturer))
		require.NoError(t, err)

		_, err = engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "http://inproc.invalid/"), inproc.NewHeaders("Host", "virtual.test"), nil)
		require.NoError(t, err)
		require.Equal(t, "virtual.test", gotReq.URL.Host)
	})

	t.Run("ok, capture failure is logged and does not fail the call", func(t *testing.T) {
		app := &spyApp{}

		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, nil))
		capturer := capturerFunc(func(context.Context, *http.Request, *http.Response) error {
			return errors.New("disk full")
		})
		engine := newSpyEngine(t, app, inproc.WithCapture(capturer), inproc.WithLogger(logger))

		_, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "/"), inproc.Headers{}, nil)
		require.NoError(t, err)
		require.Contains(t, logs.String(), "Failed to capture exchange")
		require.Contains(t, logs.String(), "disk full")
	})

	t.Run("ok, failed calls are not captured", func(t *testing.T) {
		app := &spyApp{err: errors.New("application failed")}

		called := false
		capturer := capturerFunc(func(context.Context, *http.Request, *http.Response) error {
			called = true
			return nil
		})
		engine := newSpyEngine(t, app, inproc.WithCapture(capturer))

		_, err := engine.RunRequest(t.Context(), http.MethodGet, mustURL(t, "/"), inproc.Headers{}, nil)
		require.Error(t, err)
		require.False(t, called)
	})
}
