package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBold    = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// prettyHandler is the development console format. Each record becomes
//
//	15:04:05.000 INFO  ws.session.open      [sess 1b4e28ba user 7] key=value ...
//
// Chat traffic is summarized instead of listed: sender/receiver collapse into
// "7→9", message ids into "#42", and http.request into "GET /route 404 12ms".
type prettyHandler struct {
	w      io.Writer
	level  slog.Leveler
	color  bool
	attrs  []prettyField
	prefix string
	mu     *sync.Mutex
}

// prettyField is a flattened attribute with its group path folded into key.
type prettyField struct {
	key string
	val slog.Value
}

const eventWidth = 22

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.level = opts.Level
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	floor := slog.LevelInfo
	if h.level != nil {
		floor = h.level.Level()
	}
	return level >= floor
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append([]prettyField(nil), h.attrs...)
	for _, a := range attrs {
		cp.attrs = flatten(cp.attrs, h.prefix, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	fields := append([]prettyField(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		fields = flatten(fields, h.prefix, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(h.paint(ts.Format("15:04:05.000"), ansiDim))
	b.WriteByte(' ')
	b.WriteString(h.levelLabel(r.Level))
	b.WriteByte(' ')
	b.WriteString(h.paint(fmt.Sprintf("%-*s", eventWidth, r.Message), eventColor(r.Message)))

	rest := fields
	var summary []string
	if r.Message == "http.request" {
		summary, rest = h.httpSummary(rest)
	} else {
		summary, rest = h.chatSummary(rest)
	}
	if len(summary) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(summary, " "))
		b.WriteByte(']')
	}

	for _, f := range rest {
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		v := quoteIfNeeded(valueString(f.val))
		if f.key == "err" {
			v = h.paint(v, ansiRed)
		}
		b.WriteString(v)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// chatSummary pulls the identifiers every chat and realtime event carries
// into a compact headline.
func (h *prettyHandler) chatSummary(fields []prettyField) ([]string, []prettyField) {
	var out []string

	sender, hasSender := take(&fields, "sender_id")
	receiver, hasReceiver := take(&fields, "receiver_id")
	if msgID, ok := take(&fields, "message_id"); ok {
		out = append(out, h.paint("#"+valueString(msgID), ansiBold))
	}
	switch {
	case hasSender && hasReceiver:
		out = append(out, valueString(sender)+"→"+valueString(receiver))
	case hasSender:
		out = append(out, "from "+valueString(sender))
	case hasReceiver:
		out = append(out, "to "+valueString(receiver))
	}
	if sess, ok := take(&fields, "session_id"); ok {
		out = append(out, "sess "+shortID(valueString(sess)))
	}
	if user, ok := take(&fields, "user_id"); ok {
		u := "user " + valueString(user)
		if friend, ok := take(&fields, "friend_id"); ok {
			u += " ↔ " + valueString(friend)
		}
		out = append(out, u)
	}
	if dropped, ok := take(&fields, "dropped"); ok {
		if n, _ := valueInt(dropped); n > 0 {
			out = append(out, h.paint("dropped "+valueString(dropped), ansiYellow))
		}
	}
	return out, fields
}

func (h *prettyHandler) httpSummary(fields []prettyField) ([]string, []prettyField) {
	var out []string

	if m, ok := take(&fields, "method"); ok {
		out = append(out, strings.ToUpper(valueString(m)))
	}
	route, hasRoute := take(&fields, "route")
	path, hasPath := take(&fields, "path")
	switch {
	case hasRoute && valueString(route) != "":
		out = append(out, valueString(route))
	case hasPath:
		out = append(out, valueString(path))
	}
	if st, ok := take(&fields, "status"); ok {
		if n, ok := valueInt(st); ok {
			out = append(out, h.paint(strconv.FormatInt(n, 10), classColor(statusClass(int(n)))))
		}
	}
	if d, ok := take(&fields, "duration_ms"); ok {
		if n, ok := valueInt(d); ok {
			out = append(out, h.durationLabel(n))
		}
	}
	for _, k := range []string{"status_class", "result", "user_agent", "remote", "bytes"} {
		take(&fields, k)
	}
	return out, fields
}

func (h *prettyHandler) levelLabel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return h.paint("ERROR", ansiRed)
	case l >= slog.LevelWarn:
		return h.paint("WARN ", ansiYellow)
	case l >= slog.LevelInfo:
		return h.paint("INFO ", ansiBlue)
	default:
		return h.paint("DEBUG", ansiMagenta)
	}
}

func (h *prettyHandler) durationLabel(ms int64) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return h.paint(s, ansiRed)
	case ms >= 250:
		return h.paint(s, ansiYellow)
	default:
		return s
	}
}

func (h *prettyHandler) paint(s, code string) string {
	if !h.color || code == "" || s == "" {
		return s
	}
	return code + s + ansiReset
}

// eventColor groups events by subsystem prefix.
func eventColor(event string) string {
	domain, _, _ := strings.Cut(event, ".")
	switch domain {
	case "chat":
		return ansiGreen
	case "ws", "topic":
		return ansiCyan
	case "friends":
		return ansiMagenta
	case "api", "http":
		return ansiBlue
	default:
		return ansiBold
	}
}

func classColor(class string) string {
	switch class {
	case "2xx":
		return ansiGreen
	case "3xx":
		return ansiCyan
	case "4xx":
		return ansiYellow
	case "5xx":
		return ansiRed
	default:
		return ""
	}
}

func flatten(dst []prettyField, prefix string, a slog.Attr) []prettyField {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = flatten(dst, p, ga)
		}
		return dst
	}
	return append(dst, prettyField{key: prefix + a.Key, val: a.Value})
}

// take removes the first field named key and returns its value.
func take(fields *[]prettyField, key string) (slog.Value, bool) {
	for i, f := range *fields {
		if f.key == key {
			*fields = append((*fields)[:i:i], (*fields)[i+1:]...)
			return f.val, true
		}
	}
	return slog.Value{}, false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func valueInt(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	default:
		n, err := strconv.ParseInt(v.String(), 10, 64)
		return n, err == nil
	}
}

func valueString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
