package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiCyan   = "\033[36m"
)

// Attribute keys the terminal handler lifts out of the attribute list.
const (
	keyDocument = "document_id"
	keySession  = "session_id"
	keyScale    = "scale"
	keyRange    = "range"
	keyChunk    = "chunk"
)

// shortSession is how many characters of a session id are printed.
const shortSession = 8

// TerminalHandler formats log records as coloured terminal output. The
// document and session a record belongs to become a tag before the
// message, and the scale and page range it concerns are printed right after
// it. A document id carried by the context is used when no attribute names
// one.
//
// Output format:
//
//	15:04:05.000 INF handbook/1a2b3c4d range committed @1.00 [1,8] evicted=0
type TerminalHandler struct {
	writer io.Writer
	level  slog.Leveler
	tag    recordTag
	attrs  []slog.Attr
	groups []string
	mu     *sync.Mutex
}

// recordTag holds the lifted attributes of one record.
type recordTag struct {
	document string
	session  string
	scale    string
	rng      string
	chunk    string
}

func (t *recordTag) take(key string, v slog.Value) bool {
	switch key {
	case keyDocument:
		t.document = v.String()
	case keySession:
		t.session = v.String()
	case keyScale:
		t.scale = v.String()
	case keyRange:
		t.rng = v.String()
	case keyChunk:
		t.chunk = v.String()
	default:
		return false
	}
	return true
}

// owner renders "document/session", either part optional.
func (t recordTag) owner() string {
	session := t.session
	if len(session) > shortSession {
		session = session[:shortSession]
	}
	switch {
	case t.document != "" && session != "":
		return t.document + "/" + session
	case t.document != "":
		return t.document
	default:
		return session
	}
}

// locator renders "@scale range". A bare chunk key stands in when neither
// scale nor range is known.
func (t recordTag) locator() string {
	switch {
	case t.scale != "" && t.rng != "":
		return "@" + t.scale + " " + t.rng
	case t.scale != "":
		return "@" + t.scale
	case t.rng != "":
		return t.rng
	case t.chunk != "":
		return "@" + t.chunk
	}
	return ""
}

func newTerminalHandler(w io.Writer, opts *slog.HandlerOptions) *TerminalHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &TerminalHandler{
		writer: w,
		level:  level,
		mu:     &sync.Mutex{},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle writes one line for r.
func (h *TerminalHandler) Handle(ctx context.Context, r slog.Record) error {
	tag := h.tag
	attrs := slices.Clone(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		attrs = collect(&tag, attrs, a, h.groups)
		return true
	})
	if tag.document == "" && ctx != nil {
		tag.document = DocumentID(ctx)
	}

	var buf bytes.Buffer
	buf.Grow(256)

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	writeStyled(&buf, ansiDim, ts.Format("15:04:05.000"))
	buf.WriteByte(' ')

	color, label := levelStyle(r.Level)
	writeStyled(&buf, color, label)
	buf.WriteByte(' ')

	if owner := tag.owner(); owner != "" {
		writeStyled(&buf, ansiBlue, owner)
		buf.WriteByte(' ')
	}

	writeStyled(&buf, ansiBold, r.Message)

	if loc := tag.locator(); loc != "" {
		buf.WriteByte(' ')
		writeStyled(&buf, ansiCyan, loc)
	}

	for _, a := range attrs {
		appendAttr(&buf, a)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		next.attrs = collect(&next.tag, next.attrs, a, h.groups)
	}
	return next
}

// WithGroup returns a handler that qualifies later attribute keys with name.
// Grouped attributes are never lifted into the tag.
func (h *TerminalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.groups = append(slices.Clone(h.groups), name)
	return next
}

func (h *TerminalHandler) clone() *TerminalHandler {
	return &TerminalHandler{
		writer: h.writer,
		level:  h.level,
		tag:    h.tag,
		attrs:  slices.Clone(h.attrs),
		groups: h.groups,
		mu:     h.mu,
	}
}

// collect lifts a top-level tag attribute into tag and otherwise appends a
// with its key qualified by groups. Groups are flattened.
func collect(tag *recordTag, attrs []slog.Attr, a slog.Attr, groups []string) []slog.Attr {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return attrs
	}

	if a.Value.Kind() == slog.KindGroup {
		prefix := groups
		if a.Key != "" {
			prefix = append(slices.Clone(groups), a.Key)
		}
		for _, ga := range a.Value.Group() {
			attrs = collect(tag, attrs, ga, prefix)
		}
		return attrs
	}

	if len(groups) == 0 && tag.take(a.Key, a.Value) {
		return attrs
	}
	if len(groups) > 0 {
		a.Key = strings.Join(groups, ".") + "." + a.Key
	}
	return append(attrs, a)
}

func writeStyled(buf *bytes.Buffer, style, s string) {
	buf.WriteString(style)
	buf.WriteString(s)
	buf.WriteString(ansiReset)
}

func levelStyle(level slog.Level) (string, string) {
	switch {
	case level < slog.LevelInfo:
		return ansiCyan, "DBG"
	case level < slog.LevelWarn:
		return ansiGreen, "INF"
	case level < slog.LevelError:
		return ansiYellow, "WRN"
	default:
		return ansiRed, "ERR"
	}
}

func appendAttr(buf *bytes.Buffer, a slog.Attr) {
	buf.WriteByte(' ')
	writeStyled(buf, ansiDim, a.Key+"=")
	if a.Key == "error" || a.Key == "err" {
		writeStyled(buf, ansiRed, formatAttrValue(a.Value))
		return
	}
	buf.WriteString(formatAttrValue(a.Value))
}

func formatAttrValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if strings.ContainsAny(s, " \t\n\"\\") {
			return fmt.Sprintf("%q", s)
		}
		return s
	case slog.KindDuration:
		d := v.Duration()
		if d >= time.Millisecond {
			d = d.Round(time.Millisecond)
		}
		return d.String()
	}
	return v.String()
}
