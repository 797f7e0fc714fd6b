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
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ClientResponse is the response returned to the client. It shares its
// headers and body with the [CallResult] it was made from.
type ClientResponse struct {
	StatusCode int
	Header     http.Header
	Trailer    http.Header
	Body       []byte
}

func newClientResponse(result *CallResult) *ClientResponse {
	return &ClientResponse{
		StatusCode: result.StatusCode,
		Header:     result.Header,
		Trailer:    result.Trailer,
		Body:       result.Body,
	}
}

// Status returns the status line text, e.g. "200 OK".
func (r *ClientResponse) Status() string {
	return strconv.Itoa(r.StatusCode) + " " + http.StatusText(r.StatusCode)
}

// FlatHeader returns the headers with one value per name. Multiple values of
// a name are joined with ", ", which is equivalent for all list-based fields.
// Set-Cookie can't be combined and keeps its first value only.
func (r *ClientResponse) FlatHeader() map[string]string {
	flat := make(map[string]string, len(r.Header))
	for name, vals := range r.Header {
		if len(vals) == 0 {
			continue
		}
		if name == "Set-Cookie" {
			flat[name] = vals[0]
			continue
		}
		flat[name] = strings.Join(vals, ", ")
	}
	return flat
}

// HTTPResponse converts the response to a http.Response for req. The body is
// read from memory and closing it is a noop.
//
// Like the net/http client, a response to a HEAD request reports the length
// announced in its Content-Length header, or -1 when there is none.
func (r *ClientResponse) HTTPResponse(req *http.Request) *http.Response {
	contentLength := int64(len(r.Body))
	if req != nil && req.Method == http.MethodHead {
		contentLength = -1
		if n, err := strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64); err == nil {
			contentLength = n
		}
	}

	return &http.Response{
		Status:        r.Status(),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.Header,
		Trailer:       r.Trailer,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: contentLength,
		Request:       req,
	}
}
