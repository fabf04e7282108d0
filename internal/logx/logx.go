package logx

import (
	"context"

	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	sessionKey contextKey = iota
	shipKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with the session name unless the context
// logger already carries it.
func WithSession(ctx context.Context, name schema.SessionName) pslog.Logger {
	log := pslog.Ctx(ctx)
	if current, ok := ctx.Value(sessionKey).(schema.SessionName); ok && current == name {
		return log
	}
	return log.With("session", name.Display())
}

// WithShip annotates the logger with the remote ship when known.
func WithShip(log pslog.Logger, ship string) pslog.Logger {
	if ship != "" {
		log = log.With("ship", "~"+schema.NormalizeShip(ship))
	}
	return log
}

// WithTask annotates the logger with the kind of an outbound task.
func WithTask(log pslog.Logger, task schema.SessionTask) pslog.Logger {
	log = log.With("task", string(task.Kind))
	if task.Kind == schema.TaskBelt {
		log = log.With("belt", task.Belt.String())
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, name schema.SessionName) context.Context {
	if ctx == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, name)
}

// ContextWithShip stores the ship marker on the context.
func ContextWithShip(ctx context.Context, ship string) context.Context {
	if ctx == nil || ship == "" {
		return ctx
	}
	return context.WithValue(ctx, shipKey, ship)
}

// ShipFromContext returns the ship marker, if any.
func ShipFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ship, _ := ctx.Value(shipKey).(string)
	return ship
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, name schema.SessionName) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, name)
}

// CopyContextFields copies session/ship markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if name, ok := src.Value(sessionKey).(schema.SessionName); ok {
		dst = ContextWithSession(dst, name)
	}
	if ship, ok := src.Value(shipKey).(string); ok && ship != "" {
		dst = ContextWithShip(dst, ship)
	}
	return dst
}
