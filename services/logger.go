package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type PrettyHandlerOptions struct {
	SlogOpts slog.HandlerOptions
}

// PrettyHandler writes one coloured line per record for reading in a
// terminal: time, level, message, then the attributes as indented JSON.
type PrettyHandler struct {
	slog.Handler
	opts  PrettyHandlerOptions
	out   io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
	group string
}

func NewPrettyHandler(out io.Writer, opts PrettyHandlerOptions) *PrettyHandler {
	return &PrettyHandler{
		Handler: slog.NewJSONHandler(out, &opts.SlogOpts),
		opts:    opts,
		out:     out,
		mu:      &sync.Mutex{},
	}
}

func (h *PrettyHandler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	switch {
	case r.Level <= slog.LevelDebug:
		level = color.MagentaString(level)
	case r.Level <= slog.LevelInfo:
		level = color.BlueString(level)
	case r.Level <= slog.LevelWarn:
		level = color.YellowString(level)
	default:
		level = color.RedString(level)
	}

	fields := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		fields[a.Key] = attrValue(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[h.qualify(a.Key)] = attrValue(a)
		return true
	})

	var extra string
	if len(fields) > 0 {
		b, err := json.MarshalIndent(fields, "", "  ")
		if err != nil {
			return err
		}
		extra = " " + string(b)
	}

	line := fmt.Sprintf("%s %s %s%s\n",
		r.Time.Format("[15:04:05.000]"), level, color.CyanString(r.Message), color.WhiteString(extra))
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line)
	return err
}

// WithAttrs keys attrs under the groups opened so far, the same as record
// attrs.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.Handler = h.Handler.WithAttrs(attrs)
	out.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		a.Key = h.qualify(a.Key)
		out.attrs = append(out.attrs, a)
	}
	return &out
}

func (h *PrettyHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func attrValue(a slog.Attr) any {
	v := a.Value.Any()
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return v
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	out := *h
	out.Handler = h.Handler.WithGroup(name)
	if out.group != "" {
		name = out.group + "." + name
	}
	out.group = name
	return &out
}

// ParseLevel accepts debug, info, warn and error in any case. Anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the pretty handler on w, or JSON lines when pretty is
// off.
func NewLogger(w io.Writer, level string, pretty bool) *slog.Logger {
	opts := slog.HandlerOptions{Level: ParseLevel(level)}
	if pretty {
		return slog.New(NewPrettyHandler(w, PrettyHandlerOptions{SlogOpts: opts}))
	}
	return slog.New(slog.NewJSONHandler(w, &opts))
}

// SetupLogging installs the default slog logger: the pretty handler on
// stdout in development and JSON lines otherwise.
func SetupLogging(level string, pretty bool) *slog.Logger {
	logger := NewLogger(os.Stdout, level, pretty)
	slog.SetDefault(logger)
	return logger
}
