package pipeline

import (
	"context"
	"log/slog"
	"regexp"
)

type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// redactionRules is ordered from most specific to least specific, matching
// the precedence a human reviewer would apply by hand.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`(?i)(API_KEY|SECRET|PASSWORD|TOKEN|CREDENTIAL)=\S+`), `$1=[REDACTED]`},
	{regexp.MustCompile(`(sk-|api-|key-)[a-zA-Z0-9]{20,}`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), "[REDACTED_JWT]"},
	{regexp.MustCompile(`(?i)(Bearer\s+)[a-zA-Z0-9_-]{20,}`), `$1[REDACTED_TOKEN]`},
	{regexp.MustCompile(`(?i)(X-API-Key[:\s]+)[a-zA-Z0-9_-]{16,}`), `$1[REDACTED_KEY]`},
	{regexp.MustCompile(`AKIA[A-Z0-9]{16,}`), "[REDACTED_AWS_KEY]"},
	{regexp.MustCompile(`(https?://[^:]+:)[^@]+(@)`), `$1[REDACTED]$2`},
	{regexp.MustCompile(`(?i)(Basic\s+)[A-Za-z0-9+/=]{20,}`), `$1[REDACTED_BASE64]`},
}

// RedactSensitive scrubs API keys, passwords, tokens, and credentials from
// text before it reaches logs or error messages.
func RedactSensitive(text string) string {
	for _, rule := range redactionRules {
		text = rule.pattern.ReplaceAllString(text, rule.replacement)
	}
	return text
}

// redactingHandler wraps a slog.Handler and redacts every string-valued
// attribute (and the message itself) before it reaches the underlying
// handler, so credentials embedded in an error or a log field never reach
// the run log regardless of which package or stage emitted them.
type redactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next so every record it handles has been run
// through RedactSensitive first.
func NewRedactingHandler(next slog.Handler) slog.Handler {
	return &redactingHandler{next: next}
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, RedactSensitive(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, nr)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, RedactSensitive(v.String()))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, RedactSensitive(err.Error()))
		}
	}
	return a
}
