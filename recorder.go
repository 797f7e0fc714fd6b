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
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseRecorder captures a handler's response the way net/http would
// write it, but keeps the whole body in memory.
type responseRecorder struct {
	header      http.Header // active header so we can track trailers being added.
	body        *bytes.Buffer
	statusCode  int
	wroteHeader bool
	// snapshot of header at the time WriteHeader was called.
	sentHeader http.Header
	// the body of a HEAD response is only used for its length and type.
	isHead bool
}

func newResponseRecorder(method string) *responseRecorder {
	return &responseRecorder{
		header: http.Header{},
		body:   &bytes.Buffer{},
		isHead: method == http.MethodHead,
	}
}

var (
	_ http.ResponseWriter = (*responseRecorder)(nil)
	_ http.Flusher        = (*responseRecorder)(nil)
)

func (w *responseRecorder) Header() http.Header {
	return w.header
}

func (w *responseRecorder) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	if !bodyAllowedForStatus(w.statusCode) {
		return 0, http.ErrBodyNotAllowed
	}
	return w.body.Write(p)
}

func (w *responseRecorder) WriteHeader(c int) {
	if w.wroteHeader {
		return
	}

	// 1xx responses are informational, the final response follows.
	if c >= 100 && c <= 199 {
		return
	}

	w.wroteHeader = true
	w.statusCode = c
	w.sentHeader = w.header.Clone()
}

// Flush is a noop, the full body is returned once the handler is done.
func (*responseRecorder) Flush() {}

// finish stops recording and returns the result.
func (w *responseRecorder) finish() *CallResult {
	w.WriteHeader(http.StatusOK)

	hdr := w.sentHeader
	result := &CallResult{
		StatusCode: w.statusCode,
		Header:     hdr,
	}

	if bodyAllowedForStatus(w.statusCode) {
		if contentLen, ok := w.knownContentLength(); ok {
			hdr.Set("Content-Length", strconv.FormatInt(contentLen, 10))
		} else {
			hdr.Del("Content-Length")
		}
	} else {
		hdr.Del("Content-Length")
	}

	// automatically sniff content-type when possible.
	if contentType, ok := w.sniffContentType(); ok {
		hdr.Set("Content-Type", contentType)
	}

	// set Date header unless the handler explicitly set it to nil.
	if _, ok := hdr["Date"]; !ok {
		hdr.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	// move the announced trailers to the result, the body is complete so their
	// final values are known.
	if hdr.Get("Trailer") != "" {
		result.Trailer = w.trailerFromHeaderVals(hdr.Values("Trailer"))
		hdr.Del("Trailer")
		for name := range result.Trailer {
			result.Trailer[name] = w.header.Values(name)
		}
	}
	// handlers may also declare trailers after writing the header.
	for name, vals := range w.header {
		after, ok := strings.CutPrefix(name, http.TrailerPrefix)
		if !ok {
			continue
		}
		delete(hdr, name)
		if result.Trailer == nil {
			result.Trailer = make(http.Header)
		}
		result.Trailer[http.CanonicalHeaderKey(after)] = vals
	}

	hdr.Del("Transfer-Encoding")

	result.Body = w.body.Bytes()
	if result.Body == nil || w.isHead {
		result.Body = emptyBody[:0:0]
	}
	return result
}

func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent:
		return false
	case status == http.StatusNotModified:
		return false
	default:
	}
	return true
}

func (w *responseRecorder) knownContentLength() (int64, bool) {
	// Order of the checks below is important to match behaviour of net/http.

	if w.sentHeader.Get("Transfer-Encoding") == "chunked" {
		return 0, false
	}

	// response with a trailer never have a known content length.
	if w.sentHeader.Get("Trailer") != "" {
		return 0, false
	}

	// explicit content-length, use it if a valid string.
	if cl := w.sentHeader.Get("Content-Length"); cl != "" {
		contentLen, err := strconv.ParseInt(cl, 10, 64)
		if err == nil {
			return contentLen, true
		}
	}

	// net/http doesn't announce a length for HEAD responses without writes.
	if w.isHead && w.body.Len() == 0 {
		return 0, false
	}

	// fall back to using the buffer length (like the http.Server).
	return int64(w.body.Len()), true
}

func (w *responseRecorder) sniffContentType() (string, bool) {
	// don't sniff when a content-type has been provided.
	if _, ok := w.sentHeader["Content-Type"]; ok {
		return "", false
	}

	// net/http server does not add a sniffed content type for empty bodies.
	if w.body.Len() == 0 {
		return "", false
	}

	if w.sentHeader.Get("Transfer-Encoding") == "chunked" {
		return "", false
	}

	return http.DetectContentType(w.body.Bytes()), true
}

func (*responseRecorder) trailerFromHeaderVals(vals []string) http.Header {
	if len(vals) == 0 {
		return nil
	}

	trailer := make(http.Header)
	for _, val := range vals {
		for name := range strings.SplitSeq(val, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			trailer[http.CanonicalHeaderKey(name)] = nil
		}
	}

	return trailer
}
