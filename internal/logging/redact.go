package logging

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// sensitiveKeyPatterns lists substrings that mark an attribute key as secret.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"private_key",
	"mnemonic",
	"api_key",
}

// ethPrivateKeyPattern matches 0x-prefixed 32-byte hex strings.
var ethPrivateKeyPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{64}\b`)

// rpcKeySegmentPattern matches provider keys carried in RPC URL paths such as
// /v2/<key> or /v3/<key>.
var rpcKeySegmentPattern = regexp.MustCompile(`/(v[0-9])/[A-Za-z0-9_\-]{16,}`)

// urlInTextPattern finds URLs embedded in free-form strings.
var urlInTextPattern = regexp.MustCompile(`(?:https?|wss?)://[^\s"']+`)

var sensitiveQueryParams = []string{"apikey", "api_key", "key", "token", "access_token"}

// RedactingHandler wraps an slog.Handler and masks secrets before they are
// written.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler creates a RedactingHandler around inner.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, Redact(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(key, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}

	switch a.Value.Kind() {
	case slog.KindString:
		if v := Redact(a.Value.String()); v != a.Value.String() {
			return slog.String(a.Key, v)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		redacted := make([]any, len(attrs))
		for i, inner := range attrs {
			redacted[i] = redactAttr(inner)
		}
		return slog.Group(a.Key, redacted...)
	}
	return a
}

// Redact masks private keys and RPC credentials inside s.
func Redact(s string) string {
	s = ethPrivateKeyPattern.ReplaceAllStringFunc(s, func(match string) string {
		return match[:6] + "..." + match[len(match)-4:]
	})
	return urlInTextPattern.ReplaceAllStringFunc(s, RedactURL)
}

// RedactURL hides credentials in an RPC URL: user info, provider keys in the
// path, and key-like query parameters.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if u.User != nil {
		u.User = url.User("REDACTED")
	}
	u.Path = rpcKeySegmentPattern.ReplaceAllString(u.Path, "/$1/REDACTED")
	u.RawPath = ""

	q := u.Query()
	changed := false
	for _, name := range sensitiveQueryParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// EnableRedaction wraps the current global logger with a RedactingHandler.
func EnableRedaction() {
	mu.Lock()
	defer mu.Unlock()

	handler := defaultLogger.Handler()
	if _, ok := handler.(*RedactingHandler); ok {
		return
	}
	defaultLogger = slog.New(NewRedactingHandler(handler))
}
