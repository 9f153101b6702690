// Package logging defines the structured-logging interface shared by the
// server, the sweep scheduler, and the auditor. The only implementation ships
// in this package and wraps log/slog.
package logging

import "context"

// Logger logs structured key-value pairs at three levels. Variadic args
// alternate keys and values:
//
//	log.Info(ctx, "group created", "group_id", id, "slots", n)
type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a derived logger carrying the given pairs on every record.
	With(args ...any) Logger
}
