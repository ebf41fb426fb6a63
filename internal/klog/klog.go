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

// Package klog is the kernel's logger factory: a log/slog logger with a
// "severity" field carrying TRACE/DEBUG/INFO/WARNING/ERROR rather than
// slog's default level names, selectable between a text and a JSON handler
// at boot, with optional rotation to a file via
// gopkg.in/natefinch/lumberjack.v2 when a log file path is given.
package klog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, offset from slog's four built-in levels so TRACE can
// sit below DEBUG.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	levelOff   = slog.Level(100)
)

var severityNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

func severityAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		name, ok := severityNames[level]
		if !ok {
			name = level.String()
		}
		return slog.String("severity", name)
	}
	return a
}

// parseLevel maps a kernelcfg.LogConfig.Level string to a slog.Level.
func parseLevel(s string) slog.Level {
	switch s {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "OFF":
		return levelOff
	default:
		return LevelInfo
	}
}

// createJSONOrTextHandler picks a handler by format, both routed through
// severityAttr so the "severity" field is named and valued the same
// regardless of handler kind.
func createJSONOrTextHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: severityAttr}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// New builds a kernel-wide logger. format is "text" or "json"; level is
// one of TRACE/DEBUG/INFO/WARNING/ERROR/OFF; path is a file path to
// rotate logs into via lumberjack, or empty for stderr.
func New(format, level, path string) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if path != "" {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}

	lv := parseLevel(level)
	if lv == levelOff {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("klog: unknown format %q", format)
	}

	return slog.New(createJSONOrTextHandler(w, format, lv)), nil
}

// contextKey is unexported so no other package can collide with it when
// stashing a logger on a context.Context.
type contextKey struct{}

// WithContext attaches l to ctx, letting deeply-nested calls (page-fault
// resolution, eviction, syscall dispatch) log without threading a logger
// parameter through every signature.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger attached to ctx, or slog.Default() if
// none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
