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

// Package kmetrics is the kernel's OTel metric surface: counters and
// histograms for page faults, evictions, swap I/O, free-map exhaustion,
// and dispatched syscalls.
package kmetrics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// StateKey annotates a page-fault or eviction event with the
	// supplemental-entry state it resolved against.
	StateKey = "page_state"

	// SyscallKey annotates a dispatched syscall by name.
	SyscallKey = "syscall"
)

var vmMeter = otel.Meter("pintos_vm")
var syscallMeter = otel.Meter("pintos_syscall")

// Handle is the kernel's metrics surface, satisfied by *otelMetrics or a
// no-op stand-in for tests that don't want to wire a MeterProvider.
type Handle interface {
	PageFault(ctx context.Context, state string)
	Eviction(ctx context.Context, swappedOut bool)
	SwapIO(ctx context.Context, write bool, latency time.Duration)
	FreeMapExhausted(ctx context.Context)
	Syscall(ctx context.Context, name string, latency time.Duration)
}

type otelMetrics struct {
	pageFaultCount      metric.Int64Counter
	evictionCount       metric.Int64Counter
	swapIOCount         metric.Int64Counter
	swapIOLatency       metric.Float64Histogram
	freeMapExhaustCount metric.Int64Counter
	syscallCount        metric.Int64Counter
	syscallLatency      metric.Float64Histogram
}

// New builds a Handle wired to whatever otel.SetMeterProvider installed
// globally.
func New() (Handle, error) {
	pageFaultCount, err1 := vmMeter.Int64Counter("vm/page_fault_count",
		metric.WithDescription("The cumulative number of page faults resolved, by source state."))
	evictionCount, err2 := vmMeter.Int64Counter("vm/eviction_count",
		metric.WithDescription("The cumulative number of frames reclaimed by the clock sweep."))
	swapIOCount, err3 := vmMeter.Int64Counter("vm/swap_io_count",
		metric.WithDescription("The cumulative number of swap reads and writes."))
	swapIOLatency, err4 := vmMeter.Float64Histogram("vm/swap_io_latency",
		metric.WithDescription("The distribution of swap I/O latencies."), metric.WithUnit("us"))
	freeMapExhaustCount, err5 := vmMeter.Int64Counter("fs/free_map_exhausted_count",
		metric.WithDescription("The cumulative number of allocations that failed because the free-map was exhausted."))
	syscallCount, err6 := syscallMeter.Int64Counter("syscall/count",
		metric.WithDescription("The cumulative number of syscalls dispatched, by name."))
	syscallLatency, err7 := syscallMeter.Float64Histogram("syscall/latency",
		metric.WithDescription("The distribution of syscall dispatch latencies."), metric.WithUnit("us"))

	if err := errors.Join(err1, err2, err3, err4, err5, err6, err7); err != nil {
		return nil, err
	}

	return &otelMetrics{
		pageFaultCount:      pageFaultCount,
		evictionCount:       evictionCount,
		swapIOCount:         swapIOCount,
		swapIOLatency:       swapIOLatency,
		freeMapExhaustCount: freeMapExhaustCount,
		syscallCount:        syscallCount,
		syscallLatency:      syscallLatency,
	}, nil
}

func (o *otelMetrics) PageFault(ctx context.Context, state string) {
	o.pageFaultCount.Add(ctx, 1, metric.WithAttributes(attribute.String(StateKey, state)))
}

func (o *otelMetrics) Eviction(ctx context.Context, swappedOut bool) {
	o.evictionCount.Add(ctx, 1, metric.WithAttributes(attribute.Bool("swapped_out", swappedOut)))
}

func (o *otelMetrics) SwapIO(ctx context.Context, write bool, latency time.Duration) {
	o.swapIOCount.Add(ctx, 1, metric.WithAttributes(attribute.Bool("write", write)))
	o.swapIOLatency.Record(ctx, float64(latency.Microseconds()), metric.WithAttributes(attribute.Bool("write", write)))
}

func (o *otelMetrics) FreeMapExhausted(ctx context.Context) {
	o.freeMapExhaustCount.Add(ctx, 1)
}

func (o *otelMetrics) Syscall(ctx context.Context, name string, latency time.Duration) {
	o.syscallCount.Add(ctx, 1, metric.WithAttributes(attribute.String(SyscallKey, name)))
	o.syscallLatency.Record(ctx, float64(latency.Microseconds()), metric.WithAttributes(attribute.String(SyscallKey, name)))
}

// noopHandle implements Handle with no side effects, for callers (mostly
// tests) that don't want to stand up a MeterProvider.
type noopHandle struct{}

// NewNoop returns a Handle that discards every measurement.
func NewNoop() Handle { return noopHandle{} }

func (noopHandle) PageFault(context.Context, string)             {}
func (noopHandle) Eviction(context.Context, bool)                 {}
func (noopHandle) SwapIO(context.Context, bool, time.Duration)    {}
func (noopHandle) FreeMapExhausted(context.Context)               {}
func (noopHandle) Syscall(context.Context, string, time.Duration) {}
