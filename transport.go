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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/net/http/httpguts"
)

// defaultUserAgent as added by the http.DefaultTransport when not explicitly overwritten.
// It can be overridden in the same way as with the default transport by setting the
// User-Agent header to nil or by providing a custom value.
const defaultUserAgent = "Go-http-client/1.1"

// Transport is a http.RoundTripper that services requests with an [Engine]
// instead of the network.
type Transport struct {
	engine *Engine
}

var _ http.RoundTripper = &Transport{}

// NewTransport creates a new transport for engine.
func NewTransport(engine *Engine) *Transport {
	return &Transport{engine: engine}
}

// NewClient returns a http client that uses a [Transport] for engine.
func NewClient(engine *Engine) *http.Client {
	return &http.Client{
		Transport: NewTransport(engine),
	}
}

// RoundTrip implements http.RoundTripper.
//
// The request body is read completely before the application is called.
// Protocol upgrade requests fail with an [UnsupportedContentKindError].
func (t *Transport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	defer func() {
		// Close request body as part of the roundtrip contract. Close errors
		// are only reported when the roundtrip itself succeeded.
		if req.Body == nil {
			return
		}

		closeErr := req.Body.Close()
		if closeErr != nil && err == nil {
			err = fmt.Errorf("inproc: failed to close request body: %w", closeErr)
			resp = nil
		}
	}()

	if req.URL == nil {
		return nil, errors.New("inproc: nil request URL")
	}

	u := *req.URL
	if req.Host != "" {
		u.Host = req.Host
	}

	r, err := newRequest(req.Method, &u, adaptDefaultHTTPTransport(req.Header))
	if err != nil {
		return nil, fmt.Errorf("inproc: %w", err)
	}

	cr, err := t.engine.Execute(req.Context(), r, contentFor(req))
	if err != nil {
		return nil, err
	}

	return cr.HTTPResponse(req), nil
}

// adaptDefaultHTTPTransport converts the request headers and adds the exact
// fields that are normally added by the http.DefaultTransport.
func adaptDefaultHTTPTransport(h http.Header) Headers {
	header := HeadersFromHTTP(h)

	val, ok := h["User-Agent"]
	if !ok {
		header.Add("User-Agent", defaultUserAgent)
	} else if val == nil {
		header.Del("User-Agent")
	}

	// just like net/http we strip the transfer-encoding header, the body is
	// always sent with a known length.
	header.Del("Transfer-Encoding")

	return header
}

// contentFor describes the body of req as outgoing content.
func contentFor(req *http.Request) OutgoingContent {
	if isUpgradeRequest(req.Header) {
		return NewProtocolUpgrade()
	}

	if req.Body == nil || req.Body == http.NoBody {
		return NewNoContent()
	}

	var opts []ContentOption
	// for client requests a zero ContentLength with a body means unknown.
	if req.ContentLength > 0 {
		opts = append(opts, WithContentLength(req.ContentLength))
	}

	// RoundTrip closes the body, the content only reads it.
	body := io.NopCloser(req.Body)
	return NewReadChannelContent(func(context.Context) (io.ReadCloser, error) {
		return body, nil
	}, opts...)
}

func isUpgradeRequest(h http.Header) bool {
	return h.Get("Upgrade") != "" && httpguts.HeaderValuesContainsToken(h["Connection"], "Upgrade")
}
