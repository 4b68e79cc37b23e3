// Package lgr holds the process-wide structured logger.
package lgr

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/natefinch/lumberjack"
)

// Logger is replaced by Configure. It is usable before that with env-derived options.
var Logger = New(OptionsFromEnv())

type Options struct {
	Level  slog.Level
	Format string // console or json
	Color  bool

	// File, when set, receives JSON records through a rolling writer.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	Writer io.Writer // defaults to stdout
}

func OptionsFromEnv() Options {
	opts := Options{
		Level:      parseLevel(os.Getenv("LOG_LEVEL")),
		Format:     strings.ToLower(os.Getenv("LOG_FORMAT")),
		File:       os.Getenv("LOG_FILE"),
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 7,
	}

	fd := os.Stdout.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	if opts.Format == "" {
		opts.Format = "console"
	}
	opts.Color = tty && os.Getenv("NO_COLOR") == ""
	return opts
}

// Configure rebuilds the global logger, typically after the .env file was loaded.
func Configure(opts Options) {
	Logger = New(opts)
	slog.SetDefault(Logger)
}

func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: replaceAttr,
	}

	var h slog.Handler
	if opts.Format == "json" {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = newPrettyHandler(w, opts.Level, opts.Color)
	}

	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB, // MB
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays, // days
			Compress:   true,
		}
		h = fanout{h, slog.NewJSONHandler(file, handlerOpts)}
	}

	return slog.New(traceHandler{h})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
