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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/openpcc/bhttp"
)

// maxEncodedChunkLen bounds the chunks of indeterminate-length messages.
const maxEncodedChunkLen = 16384

// codec converts between http messages and their Binary HTTP encoding.
type codec struct {
	reqEncoder  *bhttp.RequestEncoder
	reqDecoder  *bhttp.RequestDecoder
	respEncoder *bhttp.ResponseEncoder
	respDecoder *bhttp.ResponseDecoder
}

func newCodec() *codec {
	return &codec{
		reqEncoder: &bhttp.RequestEncoder{
			MaxEncodedChunkLen: maxEncodedChunkLen,
		},
		reqDecoder: &bhttp.RequestDecoder{},
		respEncoder: &bhttp.ResponseEncoder{
			MaxEncodedChunkLen: maxEncodedChunkLen,
			MapFunc: func(hr *http.Response) (*bhttp.Response, error) {
				br, err := bhttp.MapFromHTTP1Response(hr)
				if err != nil {
					return nil, err
				}

				// match what net/http server does for responses.
				if !bodyAllowedForStatus(br.FinalStatusCode) {
					br.ContentLength = 0
					br.KnownLength = true
					br.FinalHeader.Del("Content-Length")
				}

				return br, nil
			},
		},
		respDecoder: &bhttp.ResponseDecoder{},
	}
}

func (c *codec) encodeRequest(req *http.Request) ([]byte, error) {
	msg, err := c.reqEncoder.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to bhttp encode request: %w", err)
	}

	b, err := io.ReadAll(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded request: %w", err)
	}
	return b, nil
}

func (c *codec) encodeResponse(resp *http.Response) ([]byte, error) {
	msg, err := c.respEncoder.EncodeResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to bhttp encode response: %w", err)
	}

	b, err := io.ReadAll(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded response: %w", err)
	}
	return b, nil
}

// decodeRequest decodes a request and buffers its body.
func (c *codec) decodeRequest(ctx context.Context, b []byte) (*http.Request, []byte, error) {
	req, err := c.reqDecoder.DecodeRequest(ctx, bytes.NewReader(b))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode request from bhttp: %w", err)
	}

	body, err := readBody(req.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	return req, body, nil
}

// decodeResponse decodes a response and buffers its body.
func (c *codec) decodeResponse(ctx context.Context, b []byte) (*http.Response, []byte, error) {
	resp, err := c.respDecoder.DecodeResponse(ctx, bytes.NewReader(b))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode response from bhttp: %w", err)
	}

	body, err := readBody(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, body, nil
}

func readBody(rc io.ReadCloser) ([]byte, error) {
	if rc == nil {
		return []byte{}, nil
	}
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return b, rc.Close()
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
