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
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedContentKind is matched by [UnsupportedContentKindError].
	ErrUnsupportedContentKind = errors.New("unsupported content kind")
	// ErrApplicationStopped is returned for calls made after an application was stopped.
	ErrApplicationStopped = errors.New("application stopped")
	// ErrStopTimeout is returned by Stop when calls are still running after the timeout.
	ErrStopTimeout = errors.New("timed out waiting for in-flight calls")
)

// UnsupportedContentKindError is returned when content has no byte
// representation and can't be sent in-process.
type UnsupportedContentKindError struct {
	// Kind is the name of the content variant, see [OutgoingContent.Kind].
	Kind string
}

func (e *UnsupportedContentKindError) Error() string {
	return "inproc: unsupported content kind " + e.Kind
}

func (*UnsupportedContentKindError) Is(target error) bool {
	return target == ErrUnsupportedContentKind
}

// HandlerPanicError is returned by a [HandlerApplication] when its handler
// panics.
type HandlerPanicError struct {
	Value any
	Stack []byte
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("inproc: handler panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *HandlerPanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// ContentPanicError is returned when the procedure of a
// [WriteChannelContent] panics.
type ContentPanicError struct {
	Value any
	Stack []byte
}

func (e *ContentPanicError) Error() string {
	return fmt.Sprintf("inproc: content writer panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *ContentPanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// NilContentFuncError is returned when stream content was created without
// the function that produces its bytes.
type NilContentFuncError struct {
	Kind string
}

func (e *NilContentFuncError) Error() string {
	return "inproc: " + e.Kind + " has no content function"
}
