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
	"context"
	"io"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// emptyBody is shared by all materialized NoContent values. It has zero
// capacity, so appending to it never writes into shared memory.
var emptyBody = make([]byte, 0)

// Materialize turns content into bytes.
//
// Streams are drained to completion before Materialize returns. Failures of
// the stream or writer are returned as-is. [ProtocolUpgrade] content fails
// with an [UnsupportedContentKindError].
func Materialize(ctx context.Context, content OutgoingContent) ([]byte, error) {
	return materializeTraced(ctx, noop.Tracer{}, content)
}

func materializeTraced(ctx context.Context, tracer trace.Tracer, content OutgoingContent) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "inproc.Materialize", trace.WithAttributes(
		attribute.String("content.kind", content.Kind()),
	))
	defer span.End()

	m := &materializer{ctx: ctx, tracer: tracer}
	content.accept(m)
	if m.err != nil {
		span.RecordError(m.err)
		return nil, m.err
	}

	span.SetAttributes(attribute.Int("content.bytes", len(m.b)))
	return m.b, nil
}

// materializer is the content visitor that produces the body bytes.
type materializer struct {
	ctx    context.Context
	tracer trace.Tracer
	b      []byte
	err    error
}

var _ contentVisitor = (*materializer)(nil)

func (m *materializer) visitNoContent(*NoContent) {
	m.b = emptyBody[:0:0]
}

func (m *materializer) visitByteArray(c *ByteArrayContent) {
	m.b = c.Bytes()
}

func (m *materializer) visitReadChannel(c *ReadChannelContent) {
	if c.open == nil {
		m.err = &NilContentFuncError{Kind: c.Kind()}
		return
	}

	rc, err := c.open(m.ctx)
	if err != nil {
		m.err = err
		return
	}

	r := newTracedReader(m.ctx, m.tracer, rc, "inproc.ReadChannelReader")
	b, err := io.ReadAll(r)
	closeErr := r.Close()
	switch {
	case err != nil:
		m.err = err
	case closeErr != nil:
		m.err = closeErr
	default:
		m.b = b
	}
}

func (m *materializer) visitWriteChannel(c *WriteChannelContent) {
	if c.write == nil {
		m.err = &NilContentFuncError{Kind: c.Kind()}
		return
	}

	pReader, pWriter := io.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// a nil error closes the pipe normally, which ends the read below.
		pWriter.CloseWithError(runWriter(m.ctx, c.write, pWriter))
	}()

	var buf bytes.Buffer
	_, err := buf.ReadFrom(newTracedReader(m.ctx, m.tracer, pReader, "inproc.WriteChannelReader"))
	if err != nil {
		// unblock a writer that is still writing.
		pReader.CloseWithError(err)
	}

	// note: the writer goroutine must be done before the bytes are used.
	<-done

	if err != nil {
		m.err = err
		return
	}
	m.b = buf.Bytes()
}

// runWriter calls write and recovers a panic into a [*ContentPanicError].
func runWriter(ctx context.Context, write func(context.Context, io.Writer) error, w io.Writer) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &ContentPanicError{Value: v, Stack: debug.Stack()}
		}
	}()

	return write(ctx, w)
}

func (m *materializer) visitProtocolUpgrade(c *ProtocolUpgrade) {
	m.err = &UnsupportedContentKindError{Kind: c.Kind()}
}
