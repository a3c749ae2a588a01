/*
Copyright 2025 RedisGate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log provides the shared logr.Logger construction for all RedisGate
// binaries. Library packages accept a logr.Logger by injection and never build
// their own.
package log

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures logger construction.
type Options struct {
	// Development selects the console encoder with human-readable timestamps.
	// Production uses JSON.
	Development bool

	// Level is the minimum enabled level expressed as logr verbosity:
	// 0 = info, higher values enable increasingly verbose output.
	Level int

	// ServiceName is attached to every entry as the "service" field.
	ServiceName string
}

// NewLogger builds a zap-backed logr.Logger.
func NewLogger(opts Options) logr.Logger {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	// logr verbosity V(n) maps to zap level -n.
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-opts.Level))

	zl, err := cfg.Build()
	if err != nil {
		// Config above is static; Build only fails on invalid output paths.
		panic(err)
	}

	if opts.ServiceName != "" {
		zl = zl.With(zap.String("service", opts.ServiceName))
	}

	return zapr.NewLogger(zl)
}

// Sync flushes any buffered log entries. Call via defer in main.
func Sync(logger logr.Logger) {
	if underlier, ok := logger.GetSink().(zapr.Underlier); ok {
		_ = underlier.GetUnderlying().Sync()
	}
}
