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
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpguts"
)

// Request describes a single client request: method, URL and headers. The
// body is passed separately as [OutgoingContent] when the request is executed.
//
// A Request can't be changed after it is created.
type Request struct {
	method string
	url    *url.URL
	header Headers
}

// NewRequest creates a request. An empty method defaults to GET. header is
// copied.
func NewRequest(method, rawURL string, header Headers) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	return newRequest(method, u, header)
}

func newRequest(method string, u *url.URL, header Headers) (*Request, error) {
	if method == "" {
		method = http.MethodGet
	}
	if !httpguts.ValidHeaderFieldName(method) {
		return nil, fmt.Errorf("invalid method %q", method)
	}

	for name, value := range header.All() {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("invalid header field name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("invalid header field value for %q", name)
		}
	}

	clone := *u
	return &Request{
		method: method,
		url:    &clone,
		header: header.Clone(),
	}, nil
}

// Method returns the request method.
func (r *Request) Method() string {
	return r.method
}

// URL returns a copy of the request URL.
func (r *Request) URL() *url.URL {
	clone := *r.url
	return &clone
}

// Header returns a copy of the request headers.
func (r *Request) Header() Headers {
	return r.header.Clone()
}
