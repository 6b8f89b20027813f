// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package rlog provides the leveled diagnostics the rasterizer
// cache needs: geometric invariant violations are critical,
// missing reinterpreters are warnings, hash collisions are
// errors. None of these ever stop an operation — they are
// observability only, so a package-level logger (rather than one
// threaded through every constructor) keeps call sites
// uncluttered, the same way driver registration logs with a bare
// log.Printf (driver/driver.go).
package rlog

import (
	"os"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// SetLogger replaces the package logger. Embedding emulators can
// call this to redirect diagnostics into their own log sink.
func SetLogger(l zerolog.Logger) { logger = l }

// Critical logs a geometric invariant violation (non-aligned
// tiled surface, stride < width, mip level out of range). The
// operation that triggered it must still return absent/false to
// its caller rather than panic — the next draw call retries.
func Critical(msg string, fields map[string]any) {
	ev := logger.Error()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Warn logs a missing-reinterpreter condition: two formats of
// equal bit-width occupy the same interval but no converter is
// registered. The interval is simply left unvalidated this pass.
func Warn(msg string, fields map[string]any) {
	ev := logger.Warn()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Error logs a discovery-time or decode-time failure: a custom
// texture hash collision, or a PNG/DDS/KTX parse failure.
func Error(msg string, fields map[string]any) {
	ev := logger.Error()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
