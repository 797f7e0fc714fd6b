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
	"io"
)

// OutgoingContent describes a request body before it is turned into bytes.
//
// The set of implementations is closed: [NoContent], [ByteArrayContent],
// [ReadChannelContent], [WriteChannelContent] and [ProtocolUpgrade].
type OutgoingContent interface {
	// Kind names the content variant.
	Kind() string
	// ContentLength returns the declared length of the content, if any.
	ContentLength() (int64, bool)
	// ContentType returns the declared content type, or an empty string.
	ContentType() string
	// Headers returns the headers declared by the content itself.
	Headers() Headers

	accept(v contentVisitor)
}

// contentVisitor has one method per content variant. Adding a variant adds a
// method here, so every visitor stops compiling until it handles the variant.
type contentVisitor interface {
	visitNoContent(c *NoContent)
	visitByteArray(c *ByteArrayContent)
	visitReadChannel(c *ReadChannelContent)
	visitWriteChannel(c *WriteChannelContent)
	visitProtocolUpgrade(c *ProtocolUpgrade)
}

// ContentOption declares metadata on outgoing content.
type ContentOption func(info *contentInfo)

// WithContentLength declares the content length. Negative lengths are ignored.
func WithContentLength(n int64) ContentOption {
	return func(info *contentInfo) {
		if n < 0 {
			return
		}
		info.length = n
		info.hasLength = true
	}
}

// WithContentType declares the content type.
func WithContentType(contentType string) ContentOption {
	return func(info *contentInfo) {
		info.contentType = contentType
	}
}

// WithContentHeader adds a header that is sent along with the content.
func WithContentHeader(name, value string) ContentOption {
	return func(info *contentInfo) {
		info.header.Add(name, value)
	}
}

// contentInfo is the metadata shared by all content variants.
type contentInfo struct {
	length      int64
	hasLength   bool
	contentType string
	header      Headers
}

func newContentInfo(opts []ContentOption) contentInfo {
	var info contentInfo
	for _, opt := range opts {
		opt(&info)
	}
	return info
}

func (i *contentInfo) ContentLength() (int64, bool) {
	return i.length, i.hasLength
}

func (i *contentInfo) ContentType() string {
	return i.contentType
}

func (i *contentInfo) Headers() Headers {
	return i.header.Clone()
}

// NoContent is content without a body.
type NoContent struct {
	contentInfo
}

// NewNoContent creates content without a body.
func NewNoContent(opts ...ContentOption) *NoContent {
	return &NoContent{contentInfo: newContentInfo(opts)}
}

func (*NoContent) Kind() string { return "NoContent" }

func (c *NoContent) accept(v contentVisitor) { v.visitNoContent(c) }

// ByteArrayContent is content that is already in memory.
type ByteArrayContent struct {
	contentInfo
	b []byte
}

// NewByteArrayContent creates content from b. The declared length defaults
// to len(b). b is not copied.
func NewByteArrayContent(b []byte, opts ...ContentOption) *ByteArrayContent {
	opts = append([]ContentOption{WithContentLength(int64(len(b)))}, opts...)
	return &ByteArrayContent{
		contentInfo: newContentInfo(opts),
		b:           b,
	}
}

// NewTextContent creates byte array content from text with the given content
// type. An empty content type becomes text/plain with a utf-8 charset.
func NewTextContent(text, contentType string, opts ...ContentOption) *ByteArrayContent {
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	opts = append([]ContentOption{WithContentType(contentType)}, opts...)
	return NewByteArrayContent([]byte(text), opts...)
}

// Bytes returns the content bytes.
func (c *ByteArrayContent) Bytes() []byte {
	return c.b
}

func (*ByteArrayContent) Kind() string { return "ByteArrayContent" }

func (c *ByteArrayContent) accept(v contentVisitor) { v.visitByteArray(c) }

// ReadChannelContent is content read lazily from a stream.
type ReadChannelContent struct {
	contentInfo
	open func(ctx context.Context) (io.ReadCloser, error)
}

// NewReadChannelContent creates content that is read from the stream returned
// by open. The stream is opened once per materialization and closed after it
// has been drained. Materializing content with a nil open fails with a
// [*NilContentFuncError].
func NewReadChannelContent(open func(ctx context.Context) (io.ReadCloser, error), opts ...ContentOption) *ReadChannelContent {
	return &ReadChannelContent{
		contentInfo: newContentInfo(opts),
		open:        open,
	}
}

// NewReaderContent creates read channel content from a single reader. The
// reader is closed after draining if it implements io.Closer.
func NewReaderContent(r io.Reader, opts ...ContentOption) *ReadChannelContent {
	return NewReadChannelContent(func(context.Context) (io.ReadCloser, error) {
		if rc, ok := r.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(r), nil
	}, opts...)
}

func (*ReadChannelContent) Kind() string { return "ReadChannelContent" }

func (c *ReadChannelContent) accept(v contentVisitor) { v.visitReadChannel(c) }

// WriteChannelContent is content produced by a procedure that writes into a
// sink.
type WriteChannelContent struct {
	contentInfo
	write func(ctx context.Context, w io.Writer) error
}

// NewWriteChannelContent creates content produced by write. The sink passed to
// write is read concurrently, so write may produce any amount of data. A
// panic in write is returned as a [*ContentPanicError].
func NewWriteChannelContent(write func(ctx context.Context, w io.Writer) error, opts ...ContentOption) *WriteChannelContent {
	return &WriteChannelContent{
		contentInfo: newContentInfo(opts),
		write:       write,
	}
}

func (*WriteChannelContent) Kind() string { return "WriteChannelContent" }

func (c *WriteChannelContent) accept(v contentVisitor) { v.visitWriteChannel(c) }

// ProtocolUpgrade is a request to switch protocols. It has no byte
// representation and can't be sent in-process.
type ProtocolUpgrade struct {
	contentInfo
}

// NewProtocolUpgrade creates protocol upgrade content.
func NewProtocolUpgrade(opts ...ContentOption) *ProtocolUpgrade {
	return &ProtocolUpgrade{contentInfo: newContentInfo(opts)}
}

func (*ProtocolUpgrade) Kind() string { return "ProtocolUpgrade" }

func (c *ProtocolUpgrade) accept(v contentVisitor) { v.visitProtocolUpgrade(c) }
