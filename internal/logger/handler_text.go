package logger

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// textTimeFormat keeps milliseconds so packet exchanges can be ordered.
const textTimeFormat = "2006-01-02 15:04:05.000"

// textHandler writes one line per record:
//
//	2026-01-02 15:04:05.000 [INFO] Connected role=server peer=00:11:22:33:44:55 mtu=8192
//
// Byte slices print as hex, which suits Target, Who and session IDs.
type textHandler struct {
	level slog.Leveler
	w     io.Writer
	mu    *sync.Mutex
	color bool

	// prefix holds the attributes added by WithAttrs, already formatted.
	prefix []byte
	group  string
}

func newTextHandler(w io.Writer, level slog.Leveler, color bool) *textHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &textHandler{level: level, w: w, mu: &sync.Mutex{}, color: color}
}

func (h *textHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = r.Time.AppendFormat(buf, textTimeFormat)
	buf = append(buf, ' ')
	buf = h.appendLevel(buf, r.Level)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)
	buf = append(buf, h.prefix...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.group, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *textHandler) appendLevel(buf []byte, l slog.Level) []byte {
	name, code := "[ERROR]", ansiRed
	switch {
	case l < slog.LevelInfo:
		name, code = "[DEBUG]", ansiGray
	case l < slog.LevelWarn:
		name, code = "[INFO]", ansiGreen
	case l < slog.LevelError:
		name, code = "[WARN]", ansiYellow
	}
	if !h.color {
		return append(buf, name...)
	}
	return append(append(append(buf, code...), name...), ansiReset...)
}

func (h *textHandler) appendAttr(buf []byte, group string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, key, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	if h.color {
		buf = append(append(append(buf, ansiCyan...), key...), ansiReset...)
	} else {
		buf = append(buf, key...)
	}
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendString(buf, v.String())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	}
	switch x := v.Any().(type) {
	case []byte:
		return hex.AppendEncode(buf, x)
	case error:
		return appendString(buf, x.Error())
	}
	return appendString(buf, v.String())
}

func appendString(buf []byte, s string) []byte {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.prefix = append([]byte(nil), h.prefix...)
	for _, a := range attrs {
		c.prefix = h.appendAttr(c.prefix, h.group, a)
	}
	return &c
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	if c.group != "" {
		c.group += "." + name
	} else {
		c.group = name
	}
	return &c
}
