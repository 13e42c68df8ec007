// Package logging builds the slog logger used by the command line.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	FormatEnv = "LOG_FORMAT"
	LevelEnv  = "LOG_LEVEL"
)

// Options select the handler. Verbose lowers the level to at least debug.
type Options struct {
	JSON    bool
	Level   slog.Level
	Verbose bool
}

// OptionsFromEnv reads LOG_FORMAT (text or json) and LOG_LEVEL, which takes
// any slog level name such as debug, WARN or error+2. Unset means text at info.
func OptionsFromEnv() (Options, error) {
	var o Options
	switch format := strings.ToLower(strings.TrimSpace(os.Getenv(FormatEnv))); format {
	case "", "text":
	case "json":
		o.JSON = true
	default:
		return Options{}, fmt.Errorf("%s: unknown format %q, want text or json", FormatEnv, format)
	}
	if level := strings.TrimSpace(os.Getenv(LevelEnv)); level != "" {
		if err := o.Level.UnmarshalText([]byte(level)); err != nil {
			return Options{}, fmt.Errorf("%s: %w", LevelEnv, err)
		}
	}
	return o, nil
}

func New(w io.Writer, o Options) *slog.Logger {
	level := o.Level
	if o.Verbose {
		level = min(level, slog.LevelDebug)
	}
	opts := &slog.HandlerOptions{Level: level}
	if o.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
