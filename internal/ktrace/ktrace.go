// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ktrace wraps each dispatched syscall in an OTel span.
package ktrace

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "pintos/syscall"

// NewProvider builds a trace.TracerProvider that writes human-readable
// spans to w, the way a kernel boot in verbose mode might dump syscall
// spans to stderr for debugging.
func NewProvider(w io.Writer) (*trace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("ktrace: build exporter: %w", err)
	}
	return trace.NewTracerProvider(trace.WithBatcher(exp)), nil
}

// StartSyscall opens a span named after the syscall being dispatched, to
// be closed by the caller once the call returns.
func StartSyscall(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "syscall."+name)
}
