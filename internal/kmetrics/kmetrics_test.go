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

package kmetrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/cs439kernel/pintos-go/internal/kmetrics"
)

// collect gathers every instrument name recorded so far.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestOTelInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	h, err := kmetrics.New()
	require.NoError(t, err)

	ctx := context.Background()
	h.PageFault(ctx, "zero-fill")
	h.PageFault(ctx, "swap-resident")
	h.Eviction(ctx, true)
	h.SwapIO(ctx, true, 120*time.Microsecond)
	h.FreeMapExhausted(ctx)
	h.Syscall(ctx, "write", 40*time.Microsecond)

	names := collect(t, reader)
	for _, want := range []string{
		"vm/page_fault_count",
		"vm/eviction_count",
		"vm/swap_io_count",
		"vm/swap_io_latency",
		"fs/free_map_exhausted_count",
		"syscall/count",
		"syscall/latency",
	} {
		assert.True(t, names[want], "missing instrument %q", want)
	}
}

func TestNoopHandleIsSilent(t *testing.T) {
	h := kmetrics.NewNoop()
	ctx := context.Background()

	// Nothing to assert beyond "does not panic with no provider set up".
	h.PageFault(ctx, "disk-backed")
	h.Eviction(ctx, false)
	h.SwapIO(ctx, false, time.Microsecond)
	h.FreeMapExhausted(ctx)
	h.Syscall(ctx, "read", time.Microsecond)
}
