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

package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go/quicvarint"
)

// Writer writes exchanges to an io.Writer. It is safe for concurrent use,
// every exchange is written as a single record.
type Writer struct {
	codec *codec
	newID func() uuid.UUID

	mu          sync.Mutex
	w           io.Writer
	wroteHeader bool
}

// NewWriter creates a writer that writes a capture to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		codec: newCodec(),
		newID: uuid.New,
		w:     w,
	}
}

// Capture encodes req and resp and writes them as a single record. Both
// bodies are consumed.
func (w *Writer) Capture(_ context.Context, req *http.Request, resp *http.Response) error {
	_, err := w.WriteExchange(req, resp)
	return err
}

// WriteExchange writes req and resp as a single record and returns the ID
// of the new record. Both bodies are consumed.
func (w *Writer) WriteExchange(req *http.Request, resp *http.Response) (uuid.UUID, error) {
	reqMsg, err := w.codec.encodeRequest(req)
	if err != nil {
		return uuid.Nil, err
	}

	respMsg, err := w.codec.encodeResponse(resp)
	if err != nil {
		return uuid.Nil, err
	}

	id := w.newID()
	rec := appendField(nil, id[:])
	rec = appendField(rec, reqMsg)
	rec = appendField(rec, respMsg)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.wroteHeader {
		_, err = w.w.Write(magic)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to write capture header: %w", err)
		}
		w.wroteHeader = true
	}

	_, err = w.w.Write(rec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to write record: %w", err)
	}

	return id, nil
}

func appendField(b, field []byte) []byte {
	b = quicvarint.Append(b, uint64(len(field)))
	return append(b, field...)
}
