// Package logging builds the slog loggers used by the daemon and CLI.
//
// It provides a console handler that renders one line per record with a
// component prefix and flattened key=value attributes, a JSON handler for
// machine consumption, and small helpers (attr constructors, NewNop,
// NewComponentLogger) so call sites stay uniform.
package logging
