// Package log provides the subsystem-tagged structured loggers shared by
// the coordinator and worker binaries.
package log

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

var (
	once     sync.Once
	base     *slog.Logger
	levelVar slog.LevelVar
	levels   = map[string]slog.Level{
		"error": slog.LevelError,
		"warn":  slog.LevelWarn,
		"info":  slog.LevelInfo,
		"debug": slog.LevelDebug,
	}
)

// Init sets the process-wide log level. The handler itself is built
// lazily on first use (the package-level sub-loggers below force that at
// import time), so Init only adjusts the shared level var — which is why
// calling it after the sub-loggers exist still takes effect.
func Init(levelName string) {
	lvl, ok := levels[levelName]
	if !ok {
		lvl = slog.LevelInfo
	}
	levelVar.Set(lvl)
}

func root() *slog.Logger {
	once.Do(func() {
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &levelVar})
		base = slog.New(h)
	})
	return base
}

// Sub returns a sub-logger tagged with the given subsystem name, the way
// the coordinator and worker each get their own named channel.
func Sub(subsystem string) *slog.Logger {
	return root().With("subsystem", subsystem)
}

// Coordinator is the sub-logger for coordinator-side chunk lifecycle code.
var Coordinator = Sub("coordinator")

// Worker is the sub-logger for worker-node runtime code (pool, caches,
// pub/sub client).
var Worker = Sub("worker")

// Sim is the sub-logger for the simulation kernel and rotation engine.
var Sim = Sub("sim")

// WithContext attaches a request/chunk-scoped trace id to log lines,
// mirroring the teacher's per-exchange sub-logger convention.
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return l.With("trace_id", id)
	}
	return l
}

type traceIDKey struct{}

// ContextWithTraceID stashes a trace id for WithContext to pick up later.
func ContextWithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}
