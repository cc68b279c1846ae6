package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

const LevelTrace slog.Level = -8

// NewLogger returns a logger writing text records to w. When file is not
// empty, records are also written as JSON to a size-rotated file.
func NewLogger(w io.Writer, level slog.Level, file string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   true,
		ReplaceAttr: replaceAttr,
	}

	handler := slog.Handler(slog.NewTextHandler(w, opts))
	if file != "" {
		handler = slogmulti.Fanout(handler, slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}, opts))
	}

	return slog.New(handler)
}

func replaceAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.LevelKey:
		switch attr.Value.Any().(slog.Level) {
		case LevelTrace:
			attr.Value = slog.StringValue("TRACE")
		}
	case slog.SourceKey:
		source := attr.Value.Any().(*slog.Source)
		source.File = filepath.Base(source.File)
	}
	return attr
}

type key string

func Trace(msg string, args ...any) {
	TraceContext(context.WithValue(context.TODO(), key("skip"), 1), msg, args...)
}

func TraceContext(ctx context.Context, msg string, args ...any) {
	if logger := slog.Default(); logger.Enabled(ctx, LevelTrace) {
		skip, _ := ctx.Value(key("skip")).(int)
		pc, _, _, _ := runtime.Caller(1 + skip)
		record := slog.NewRecord(time.Now(), LevelTrace, msg, pc)
		record.Add(args...)
		logger.Handler().Handle(ctx, record)
	}
}
