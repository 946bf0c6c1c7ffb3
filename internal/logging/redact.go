package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// secretKeys are substrings of attribute keys whose values are never logged.
var secretKeys = []string{"password", "secret", "private_key", "signer_key", "credential"}

var (
	// rpcKeyPattern matches provider API keys in RPC URL paths
	// (https://host/v3/<key>, wss://host/ws/v3/<key>).
	rpcKeyPattern = regexp.MustCompile(`(/v[0-9]+/)([A-Za-z0-9_-]{16,})`)

	// rawHexPattern matches hex blobs longer than a request id. Raw
	// transactions and merkle proofs are logged by length only.
	rawHexPattern = regexp.MustCompile(`\b[0-9a-fA-F]{65,}\b`)
)

// RedactingHandler scrubs secrets from attributes before handing records to
// the wrapped handler. Request ids (0x + 64 hex) pass through unchanged.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps inner.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(scrub(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = scrub(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(scrubbed)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

// scrub returns a with secret values replaced. Groups are scrubbed member by member.
func scrub(a slog.Attr) slog.Attr {
	if isSecretKey(a.Key) {
		return slog.String(a.Key, redacted)
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		members := v.Group()
		scrubbed := make([]slog.Attr, len(members))
		for i, m := range members {
			scrubbed[i] = scrub(m)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(scrubbed...)}
	case slog.KindString:
		if s := scrubString(v.String()); s != v.String() {
			return slog.String(a.Key, s)
		}
	}
	return a
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	for _, k := range secretKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// scrubString shortens RPC API keys and raw hex blobs found in s.
func scrubString(s string) string {
	s = rpcKeyPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := rpcKeyPattern.FindStringSubmatch(match)
		return parts[1] + parts[2][:4] + "..."
	})
	return rawHexPattern.ReplaceAllStringFunc(s, func(match string) string {
		return match[:8] + "..." + redacted
	})
}

// EnableRedaction wraps the global logger in a RedactingHandler unless it
// already is one.
func EnableRedaction() {
	mu.Lock()
	defer mu.Unlock()

	if _, ok := defaultLogger.Handler().(*RedactingHandler); ok {
		return
	}
	defaultLogger = slog.New(NewRedactingHandler(defaultLogger.Handler()))
}
