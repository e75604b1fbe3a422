package logging

import (
	"io"
	"log/slog"
)

// combineHandlers drops nil handlers and joins the rest. A single survivor is
// returned as is.
func combineHandlers(handlers ...slog.Handler) slog.Handler {
	var live []slog.Handler
	for _, h := range handlers {
		if h != nil {
			live = append(live, h)
		}
	}
	switch len(live) {
	case 0:
		return slog.DiscardHandler
	case 1:
		return live[0]
	}
	return slog.NewMultiHandler(live...)
}

// TeeLogger mirrors everything base logs into extra handlers. The CLI uses
// it to copy one sync run into a dedicated file.
func TeeLogger(base *slog.Logger, extra ...slog.Handler) *slog.Logger {
	if base != nil {
		extra = append([]slog.Handler{base.Handler()}, extra...)
	}
	return slog.New(combineHandlers(extra...))
}

// NewFileHandler appends JSON records at or above level to path. The returned
// function closes the file.
func NewFileHandler(path, level string) (slog.Handler, func() error, error) {
	writer, err := openWriters([]string{path})
	if err != nil {
		return nil, nil, err
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(level))
	closeFn := func() error { return nil }
	if c, ok := writer.(io.Closer); ok {
		closeFn = c.Close
	}
	return newJSONHandler(writer, levelVar, false), closeFn, nil
}
