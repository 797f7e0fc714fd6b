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

// Package capture records in-process HTTP exchanges to a compact binary log
// and reads them back.
//
// Requests and responses are stored as Binary HTTP messages (RFC 9292). A
// capture starts with a short magic header, followed by one record per
// exchange. Each record holds three fields, each prefixed with its length as
// a QUIC variable-length integer (RFC 9000, section 16):
//
//	exchange id (16 byte UUID) | request message | response message
//
// A [Writer] can be passed to an inproc.Engine with inproc.WithCapture, a
// [Reader] decodes the records and [Replay] sends captured requests again.
package capture

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
)

// magic starts every capture, the last byte is the format version.
var magic = []byte{'I', 'N', 'P', 'C', 'A', 'P', 0x01}

// maxFieldLen limits the size of a single record field.
const maxFieldLen = 64 << 20

// ErrInvalidCapture indicates the data is not a valid capture.
var ErrInvalidCapture = errors.New("invalid capture")

// Exchange is a captured request and its response. The bodies have been read
// into memory, Request.Body and Response.Body read from the same bytes.
type Exchange struct {
	ID           uuid.UUID
	Request      *http.Request
	RequestBody  []byte
	Response     *http.Response
	ResponseBody []byte
}
