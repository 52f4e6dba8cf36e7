// Package logx is a small zerolog wrapper shared by infrastructure that runs
// below the app's slog service (storage, config manager, supervisor).
//
// The zero Logger value is a no-op, so dependencies can accept a Logger
// without nil checks.
package logx
