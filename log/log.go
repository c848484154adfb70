// Package log provides the slog loggers used by multisip.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
)

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.PIIFormatter("password"),
	slogformatter.FormatByType(func(req *sip.Request) slog.Value {
		attrs := []slog.Attr{
			slog.String("method", req.Method.String()),
			slog.String("uri", req.Recipient.String()),
		}
		if cid := req.CallID(); cid != nil {
			attrs = append(attrs, slog.String("call_id", cid.Value()))
		}
		return slog.GroupValue(attrs...)
	}),
	slogformatter.FormatByType(func(res *sip.Response) slog.Value {
		return slog.GroupValue(
			slog.Int("status", int(res.StatusCode)),
			slog.String("reason", res.Reason),
		)
	}),
)

// Format selects the handler used by [New].
type Format string

const (
	FormatConsole Format = "console"
	FormatDev     Format = "dev"
	FormatJSON    Format = "json"
	FormatText    Format = "text"
)

// New creates a logger writing to w in the given format.
// Unknown formats fall back to [FormatConsole].
func New(w io.Writer, format Format, level slog.Leveler) *slog.Logger {
	var h slog.Handler
	switch format {
	case FormatDev:
		h = devslog.NewHandler(w, &devslog.Options{
			HandlerOptions: &slog.HandlerOptions{
				AddSource: true,
				Level:     level,
			},
			SortKeys:   true,
			TimeFormat: time.RFC3339Nano,
		})
	case FormatJSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case FormatText:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		h = console.NewHandler(w, &console.HandlerOptions{
			AddSource:  true,
			Level:      level,
			TimeFormat: time.RFC3339Nano,
		})
	}
	return slog.New(newHandler(h))
}

// ParseLevel parses "debug", "info", "warn" or "error" (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, errtrace.Wrap(fmt.Errorf("parse log level %q: %w", s, err))
	}
	return lvl, nil
}

// Def is a default logger.
var Def = New(os.Stdout, FormatConsole, slog.LevelDebug)

// Dev is a developer logger.
var Dev = New(os.Stdout, FormatDev, slog.LevelDebug)

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

// Noop is a noop logger.
var Noop = slog.New(noopHandler{})

var defLog atomic.Pointer[slog.Logger]

func init() { defLog.Store(Def) }

// Default returns the package default logger used when no logger is configured.
func Default() *slog.Logger { return defLog.Load() }

// SetDefault replaces the package default logger. Nil resets it to [Def].
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = Def
	}
	defLog.Store(l)
}

type stringerValue struct{ v fmt.Stringer }

func (v stringerValue) LogValue() slog.Value {
	if v.v == nil {
		return slog.StringValue("<nil>")
	}
	return slog.StringValue(v.v.String())
}

// StringerValue returns a value logger that renders v via its String method lazily.
func StringerValue(v fmt.Stringer) slog.LogValuer { return stringerValue{v} }
