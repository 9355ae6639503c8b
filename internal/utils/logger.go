package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSink configures an optional rotating log file written alongside stdout.
type FileSink struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewLoggerWithSink returns a slog.Logger for the desired verbosity and format. When sink.Path is set the output
// is also teed into a rotating file.
func NewLoggerWithSink(level string, json bool, sink FileSink) *slog.Logger {
	handlerLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		handlerLevel = slog.LevelDebug
	case "warn":
		handlerLevel = slog.LevelWarn
	case "error":
		handlerLevel = slog.LevelError
	}

	var out io.Writer = os.Stdout
	if sink.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   sink.Path,
			MaxSize:    orDefault(sink.MaxSizeMB, 100),
			MaxBackups: orDefault(sink.MaxBackups, 5),
			MaxAge:     orDefault(sink.MaxAgeDays, 30),
			Compress:   sink.Compress,
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: handlerLevel})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: handlerLevel})
	}

	return slog.New(handler)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
