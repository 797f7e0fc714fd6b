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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type engineCfg struct {
	tracer      trace.Tracer
	logger      *slog.Logger
	capturer    Capturer
	gracePeriod time.Duration
	stopTimeout time.Duration
}

func defaultEngineConfig() *engineCfg {
	return &engineCfg{
		tracer: noop.Tracer{},
		logger: slog.Default(),
	}
}

// EngineOption allows for the configuration of Engines.
type EngineOption func(cfg *engineCfg) error

// WithOTELTracer provides a custom otel tracer for the engine to use for tracing.
func WithOTELTracer(tracer trace.Tracer) EngineOption {
	return func(cfg *engineCfg) error {
		if tracer == nil {
			return errors.New("nil tracer")
		}
		cfg.tracer = tracer
		return nil
	}
}

// WithLogger provides a custom logger. Calls are logged at debug level.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(cfg *engineCfg) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		cfg.logger = logger
		return nil
	}
}

// WithCapture records every successful exchange with c.
func WithCapture(c Capturer) EngineOption {
	return func(cfg *engineCfg) error {
		if c == nil {
			return errors.New("nil capturer")
		}
		cfg.capturer = c
		return nil
	}
}

// WithStopTimeouts sets the grace period and timeout passed to the
// application when the engine is closed. Both default to zero.
func WithStopTimeouts(gracePeriod, timeout time.Duration) EngineOption {
	return func(cfg *engineCfg) error {
		if gracePeriod < 0 || timeout < 0 {
			return fmt.Errorf("stop timeouts should be positive, got %v and %v", gracePeriod, timeout)
		}
		if timeout < gracePeriod {
			return fmt.Errorf("stop timeout %v is shorter than grace period %v", timeout, gracePeriod)
		}
		cfg.gracePeriod = gracePeriod
		cfg.stopTimeout = timeout
		return nil
	}
}
