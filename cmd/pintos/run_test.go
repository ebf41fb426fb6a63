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

package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs439kernel/pintos-go/internal/block"
	"github.com/cs439kernel/pintos-go/internal/kernel"
	"github.com/cs439kernel/pintos-go/internal/kernelcfg"
)

func bootTestKernel(t *testing.T) *kernel.Kernel {
	t.Helper()

	fsDev := block.NewMemDevice(8192)
	require.NoError(t, kernel.Format(fsDev))

	cfg := kernelcfg.Default()
	cfg.Memory.UserFrames = 8
	cfg.Memory.KernelFrames = 2
	cfg.Log.Level = "OFF"

	k, err := kernel.Boot(kernel.BootConfig{
		Cfg:        cfg,
		FSDev:      fsDev,
		SwapDev:    block.NewMemDevice(16 * 8),
		ConsoleIn:  bytes.NewReader(nil),
		ConsoleOut: io.Discard,
	})
	require.NoError(t, err)
	return k
}

func TestRunScriptFileCycle(t *testing.T) {
	k := bootTestKernel(t)
	defer k.Shutdown()

	script := `
# create, write, read back
create f 0
open f
write 2 hello
seek 2 0
read 2 5
filesize 2
close 2
`
	var out bytes.Buffer
	require.NoError(t, runScript(k, strings.NewReader(script), &out))

	got := out.String()
	assert.Contains(t, got, "create f: true")
	assert.Contains(t, got, "open f: 2")
	assert.Contains(t, got, "write 2: 5")
	assert.Contains(t, got, `read 2: 5 "hello"`)
	assert.Contains(t, got, "filesize 2: 5")
	assert.Contains(t, got, "close 2: ok")
}

func TestRunScriptDirectories(t *testing.T) {
	k := bootTestKernel(t)
	defer k.Shutdown()

	script := `
mkdir /a
mkdir /a/b
chdir /a
create b/c 0
remove b
remove b/c
remove b
ls
`
	var out bytes.Buffer
	require.NoError(t, runScript(k, strings.NewReader(script), &out))

	got := out.String()
	assert.Contains(t, got, "mkdir /a: true")
	assert.Contains(t, got, "chdir /a: true")
	assert.Contains(t, got, "create b/c: true")
	// First remove of the non-empty directory fails, then contents and
	// directory go in order.
	assert.Contains(t, got, "remove b: false")
	assert.Contains(t, got, "remove b/c: true")
	assert.Contains(t, got, "remove b: true")
}

func TestRunScriptHaltStops(t *testing.T) {
	k := bootTestKernel(t)
	defer k.Shutdown()

	script := `
halt
echo unreachable
`
	var out bytes.Buffer
	require.NoError(t, runScript(k, strings.NewReader(script), &out))
	assert.NotContains(t, out.String(), "unreachable")
}

func TestRunScriptUnknownCommandFails(t *testing.T) {
	k := bootTestKernel(t)
	defer k.Shutdown()

	var out bytes.Buffer
	err := runScript(k, strings.NewReader("frobnicate\n"), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}
