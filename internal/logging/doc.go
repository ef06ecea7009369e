// Package logging assembles structured slog loggers shared across fieldsync
// components.
//
// It centralizes level and output plumbing, exposes typed attribute helpers
// with standardized field names, and provides a no-op logger for tests and
// wiring code that cannot fail. Prefer these constructors over hand-rolled
// slog setup so every component emits data with the same shape.
package logging
