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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go/quicvarint"
)

// Reader reads exchanges from a capture.
type Reader struct {
	codec      *codec
	r          *bufio.Reader
	readHeader bool
}

// NewReader creates a reader for the capture in r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		codec: newCodec(),
		r:     bufio.NewReader(r),
	}
}

// Next returns the next exchange. Next returns io.EOF when there are no more
// exchanges. An empty input is an empty capture.
func (r *Reader) Next(ctx context.Context) (*Exchange, error) {
	if !r.readHeader {
		err := r.readMagic()
		if err != nil {
			return nil, err
		}
		r.readHeader = true
	}

	idField, err := r.readField()
	if err != nil {
		// a clean end of the capture.
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	id, err := uuid.FromBytes(idField)
	if err != nil {
		return nil, fmt.Errorf("%w: bad exchange id: %w", ErrInvalidCapture, err)
	}

	reqMsg, err := r.readField()
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	respMsg, err := r.readField()
	if err != nil {
		return nil, unexpectedEOF(err)
	}

	req, reqBody, err := r.codec.decodeRequest(ctx, reqMsg)
	if err != nil {
		return nil, fmt.Errorf("exchange %s: %w", id, err)
	}
	resp, respBody, err := r.codec.decodeResponse(ctx, respMsg)
	if err != nil {
		return nil, fmt.Errorf("exchange %s: %w", id, err)
	}
	resp.Request = req

	return &Exchange{
		ID:           id,
		Request:      req,
		RequestBody:  reqBody,
		Response:     resp,
		ResponseBody: respBody,
	}, nil
}

// All reads all remaining exchanges.
func (r *Reader) All(ctx context.Context) ([]*Exchange, error) {
	var exchanges []*Exchange
	for {
		ex, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return exchanges, nil
		}
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
	}
}

func (r *Reader) readMagic() error {
	b := make([]byte, len(magic))
	_, err := io.ReadFull(r.r, b)
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if err != nil {
		return fmt.Errorf("%w: failed to read header: %w", ErrInvalidCapture, err)
	}
	if !bytes.Equal(b, magic) {
		return fmt.Errorf("%w: unknown header %x", ErrInvalidCapture, b)
	}
	return nil
}

// readField reads a length-prefixed field. It returns io.EOF only when the
// input ends before the length prefix.
func (r *Reader) readField() ([]byte, error) {
	n, err := quicvarint.Read(r.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: failed to read field length: %w", ErrInvalidCapture, err)
	}
	if n > maxFieldLen {
		return nil, fmt.Errorf("%w: field of %d bytes exceeds maximum of %d", ErrInvalidCapture, n, maxFieldLen)
	}

	b := make([]byte, n)
	_, err = io.ReadFull(r.r, b)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated field: %w", ErrInvalidCapture, unexpectedEOF(err))
	}
	return b, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
