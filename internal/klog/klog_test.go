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

package klog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type KlogTest struct {
	suite.Suite

	buf bytes.Buffer
}

func TestKlogSuite(t *testing.T) {
	suite.Run(t, new(KlogTest))
}

func (t *KlogTest) SetupTest() {
	t.buf.Reset()
}

func (t *KlogTest) jsonLogger(level slog.Level) *slog.Logger {
	return slog.New(createJSONOrTextHandler(&t.buf, "json", level))
}

func (t *KlogTest) TestSeverityFieldNames() {
	logger := t.jsonLogger(LevelTrace)

	cases := []struct {
		log  func(msg string, args ...any)
		want string
	}{
		{func(msg string, args ...any) { logger.Log(context.Background(), LevelTrace, msg) }, "TRACE"},
		{logger.Debug, "DEBUG"},
		{logger.Info, "INFO"},
		{logger.Warn, "WARNING"},
		{logger.Error, "ERROR"},
	}

	for _, tc := range cases {
		t.buf.Reset()
		tc.log("message")

		var entry map[string]any
		t.Require().NoError(json.Unmarshal(t.buf.Bytes(), &entry))
		t.Assert().Equal(tc.want, entry["severity"])
		t.Assert().Equal("message", entry["msg"])
	}
}

func (t *KlogTest) TestLevelFiltering() {
	logger := t.jsonLogger(LevelWarn)

	logger.Info("dropped")
	t.Assert().Zero(t.buf.Len())

	logger.Warn("kept")
	t.Assert().NotZero(t.buf.Len())
}

func (t *KlogTest) TestTextHandler() {
	logger := slog.New(createJSONOrTextHandler(&t.buf, "text", LevelInfo))
	logger.Info("hello", "key", "value")

	out := t.buf.String()
	t.Assert().Contains(out, "severity=INFO")
	t.Assert().Contains(out, "key=value")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, parseLevel("TRACE"))
	assert.Equal(t, LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, LevelInfo, parseLevel("INFO"))
	assert.Equal(t, LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, LevelError, parseLevel("ERROR"))
	assert.Equal(t, levelOff, parseLevel("OFF"))
	assert.Equal(t, LevelInfo, parseLevel("bogus"), "unknown levels default to INFO")
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New("xml", "INFO", "")
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	logger, err := New("text", "INFO", "")
	require.NoError(t, err)

	ctx := WithContext(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
