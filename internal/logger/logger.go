// Package logger provides the process-wide structured logger, adapted
// directly from the teacher's internal/logger/logger.go: a package-level
// zerolog.Logger plus component-scoped child loggers, swapping the
// teacher's web-app components (Security/WebSocket/Database) for this
// design's plugin-core ones.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var Log zerolog.Logger

// Initialize configures the global logger. pretty=true gives human-readable
// console output (local development); false emits JSON (production).
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("component", "clusterwrap").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

func init() {
	// Sane default so packages that log before Initialize runs (e.g. in
	// tests) don't panic on a zero-value Logger.
	Log = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func GetLogger() *zerolog.Logger { return &Log }

func scoped(component string) *zerolog.Logger {
	l := Log.With().Str("subsystem", component).Logger()
	return &l
}

// Topology scopes logs from the host list provider (C6).
func Topology() *zerolog.Logger { return scoped("topology") }

// Failover scopes logs from the failover plugin (C12).
func Failover() *zerolog.Logger { return scoped("failover") }

// Monitoring scopes logs from the EFM background monitors (C13).
func Monitoring() *zerolog.Logger { return scoped("monitoring") }

// Auth scopes logs from the auth plugins (C11).
func Auth() *zerolog.Logger { return scoped("auth") }

// RWSplit scopes logs from the read/write splitting plugin (C14).
func RWSplit() *zerolog.Logger { return scoped("rwsplit") }

// Chain scopes logs from the plugin chain's dispatch (C8).
func Chain() *zerolog.Logger { return scoped("chain") }
