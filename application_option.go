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

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// defaultRemoteAddr is the RemoteAddr of in-process requests, taken from the
// documentation address range like httptest does.
const defaultRemoteAddr = "192.0.2.1:1234"

type applicationCfg struct {
	host         string
	remoteAddr   string
	reqValidator RequestValidator
	tracer       trace.Tracer
}

func defaultApplicationConfig() *applicationCfg {
	return &applicationCfg{
		host:       DefaultHost,
		remoteAddr: defaultRemoteAddr,
		tracer:     noop.Tracer{},
	}
}

// ApplicationOption configures a [HandlerApplication].
type ApplicationOption func(cfg *applicationCfg) error

// WithHost sets the host used for calls that don't provide one.
func WithHost(host string) ApplicationOption {
	return func(cfg *applicationCfg) error {
		if host == "" {
			return errors.New("empty host")
		}
		cfg.host = host
		return nil
	}
}

// WithRemoteAddr sets the RemoteAddr the handler sees.
func WithRemoteAddr(addr string) ApplicationOption {
	return func(cfg *applicationCfg) error {
		cfg.remoteAddr = addr
		return nil
	}
}

// WithRequestValidator provides a validator that runs before the handler. By
// default requests are not validated.
func WithRequestValidator(validator RequestValidator) ApplicationOption {
	return func(cfg *applicationCfg) error {
		cfg.reqValidator = validator
		return nil
	}
}

// WithApplicationTracer provides an otel tracer for the application.
func WithApplicationTracer(tracer trace.Tracer) ApplicationOption {
	return func(cfg *applicationCfg) error {
		if tracer == nil {
			return errors.New("nil tracer")
		}
		cfg.tracer = tracer
		return nil
	}
}
