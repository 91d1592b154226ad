package logging

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/NotCoffee418/hlw8032_meter/pkg/hlw8032"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLogLevel overrides the configured level when set.
const EnvLogLevel = "HLW8032_LOG_LEVEL"

// New builds a logger writing to w. Format is "console" or "json".
// Unknown levels fall back to info.
func New(w io.Writer, level, format string) zerolog.Logger {
	if env := os.Getenv(EnvLogLevel); env != "" {
		level = env
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = w
	if strings.ToLower(format) != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// SetDefault installs l as the package-level zerolog logger.
func SetDefault(l zerolog.Logger) {
	log.Logger = l
	zerolog.SetGlobalLevel(l.GetLevel())
}

// Diagnostics routes meter conditions to l. Checksum failures and division
// by zero are warnings; anything else is logged at debug.
func Diagnostics(l zerolog.Logger) hlw8032.Diagnostics {
	return hlw8032.DiagnosticsFunc(func(err error) {
		switch {
		case errors.Is(err, hlw8032.ErrChecksum):
			l.Warn().Err(err).Msg("HLW8032 frame discarded")
		case errors.Is(err, hlw8032.ErrDivisionByZero):
			l.Warn().Err(err).Msg("HLW8032 measurement unavailable")
		default:
			l.Debug().Err(err).Msg("HLW8032 diagnostic")
		}
	})
}
