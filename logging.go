package transport

import (
	"io"
	"log/slog"
)

// Logger is the narrow logging capability the engine needs. *slog.Logger
// satisfies it directly; it is declared as an interface so tests can
// substitute a recording logger without depending on slog's handler
// internals.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger mirrors the package-level default logger pattern used
// elsewhere in the example corpus (an operational logger reachable without
// explicit wiring, overridable via EngineOption). A discarding text
// handler means the engine never requires a logger to be supplied to run,
// matching the teacher's optional ClientConfig.OnClose field.
func defaultLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTextLogger returns a *slog.Logger writing leveled, structured text to
// w -- the logger applications typically pass via WithLogger in
// production, as opposed to the no-op default.
func NewTextLogger(w io.Writer, level slog.Level) Logger {
	lv := new(slog.LevelVar)
	lv.Set(level)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv}))
}
