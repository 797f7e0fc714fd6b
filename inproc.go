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

// Package inproc is an in-process HTTP transport double.
//
// An [Engine] services client requests by calling an [Application] directly,
// without opening a socket. Request bodies are described as [OutgoingContent]
// and materialized to bytes before the call is made, and the application's
// fully buffered response is returned as a [ClientResponse].
//
// Most users will want a [Transport], which plugs an Engine into a regular
// [net/http.Client]:
//
//	app, err := inproc.NewHandlerApplication(mux)
//	if err != nil {
//		// handle error
//	}
//	engine, err := inproc.NewEngine(app)
//	if err != nil {
//		// handle error
//	}
//	defer engine.Close()
//
//	client := inproc.NewClient(engine)
//	resp, err := client.Get("http://inproc.invalid/health")
package inproc

const (
	// DefaultHost is the host used for in-process calls whose URL has no host.
	//
	// The .invalid TLD guarantees the name is never routable.
	DefaultHost = "inproc.invalid"

	headerContentLength = "Content-Length"
	headerContentType   = "Content-Type"
)

// isFramingHeader reports whether name is a header that describes the body
// and requires a single resolved value.
func isFramingHeader(name string) bool {
	return equalFold(name, headerContentLength) || equalFold(name, headerContentType)
}
