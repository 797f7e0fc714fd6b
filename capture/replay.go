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
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ReplayFunc receives a captured exchange together with the response to
// sending its request again. The body of resp is closed after ReplayFunc
// returns.
type ReplayFunc func(ex *Exchange, resp *http.Response) error

// Replay sends every request in the capture through rt, in the order they
// were captured. It stops at the first error.
func Replay(ctx context.Context, rt http.RoundTripper, r *Reader, fn ReplayFunc) error {
	for {
		ex, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		err = replayOne(ctx, rt, ex, fn)
		if err != nil {
			return fmt.Errorf("exchange %s: %w", ex.ID, err)
		}
	}
}

func replayOne(ctx context.Context, rt http.RoundTripper, ex *Exchange, fn ReplayFunc) (err error) {
	req := ex.Request.Clone(ctx)
	// decoded requests are server-side requests.
	req.RequestURI = ""
	req.ContentLength = int64(len(ex.RequestBody))
	req.Body = http.NoBody
	if len(ex.RequestBody) > 0 {
		req.Body = io.NopCloser(bytes.NewReader(ex.RequestBody))
	}

	resp, err := rt.RoundTrip(req)
	if err != nil {
		return fmt.Errorf("failed to replay request: %w", err)
	}
	defer func() {
		err = errors.Join(err, resp.Body.Close())
	}()

	return fn(ex, resp)
}
