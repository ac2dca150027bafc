package logging

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// sensitiveKeyPatterns lists substrings that indicate a log attribute key holds a secret value.
// Values logged under these keys will be fully redacted.
var sensitiveKeyPatterns = []string{
	"mnemonic",
	"password",
	"passphrase",
	"secret",
	"private_key",
	"seed",
}

// ethPrivateKeyPattern matches Ethereum-style private keys (0x followed by 64 hex chars).
// Transaction and operation hashes share the shape, so values logged under
// hash-like keys are exempt (see hashKeys).
var ethPrivateKeyPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{64}\b`)

// bareKeyPattern matches 64 hex chars without a 0x prefix.
var bareKeyPattern = regexp.MustCompile(`\b[0-9a-fA-F]{64}\b`)

// phrasePattern matches runs of 12 or more lowercase words, the shape of a BIP-39 phrase.
var phrasePattern = regexp.MustCompile(`\b(?:[a-z]{3,8} ){11,23}[a-z]{3,8}\b`)

// rpcKeyPattern matches provider API keys embedded in RPC URL paths
// (infura /v3/<key>, alchemy /v2/<key>).
var rpcKeyPattern = regexp.MustCompile(`(/v[0-9]/)([A-Za-z0-9_-]{16,})`)

// hashKeys are attribute keys whose 32-byte hex values are public.
var hashKeys = []string{"tx", "hash", "operation_id", "id", "salt", "predecessor", "slot", "uuid", "role"}

// RedactingHandler wraps an slog.Handler and redacts sensitive values before they
// are passed to the inner handler.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler creates a RedactingHandler that wraps the given inner handler.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

// Enabled reports whether the inner handler handles records at the given level.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts sensitive attribute values and forwards the record to the inner handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	var redacted []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		redacted = append(redacted, redactAttr(a))
		return true
	})

	newRecord := slog.NewRecord(r.Time, r.Level, redactString(r.Message, false), r.PC)
	newRecord.AddAttrs(redacted...)

	return h.inner.Handle(ctx, newRecord)
}

// WithAttrs returns a new handler with the given attributes redacted.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup returns a new handler with the given group name.
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

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		out := make([]any, 0, len(group))
		for _, g := range group {
			out = append(out, redactAttr(g))
		}
		return slog.Group(a.Key, out...)
	}

	if a.Value.Kind() == slog.KindString {
		val := a.Value.String()
		redacted := redactString(val, isHashKey(key))
		if redacted != val {
			return slog.String(a.Key, redacted)
		}
	}

	return a
}

func isHashKey(key string) bool {
	for _, k := range hashKeys {
		if key == k || strings.HasSuffix(key, "_"+k) {
			return true
		}
	}
	return false
}

// redactString scans a string value and replaces known secret patterns.
func redactString(val string, hashValue bool) string {
	if !hashValue {
		val = ethPrivateKeyPattern.ReplaceAllStringFunc(val, func(match string) string {
			return match[:6] + "..." + match[len(match)-4:]
		})
		val = bareKeyPattern.ReplaceAllString(val, "[REDACTED]")
	}

	val = phrasePattern.ReplaceAllString(val, "[REDACTED MNEMONIC]")

	if strings.Contains(val, "://") {
		val = redactURL(val)
	}

	return val
}

// redactURL masks API keys carried in RPC endpoint paths, query strings and
// userinfo.
func redactURL(val string) string {
	val = rpcKeyPattern.ReplaceAllStringFunc(val, func(match string) string {
		parts := rpcKeyPattern.FindStringSubmatch(match)
		key := parts[2]
		return parts[1] + key[:4] + "...[REDACTED]"
	})

	u, err := url.Parse(val)
	if err != nil || u.Host == "" {
		return val
	}
	changed := false
	if u.User != nil {
		u.User = url.User("redacted")
		changed = true
	}
	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") {
			q.Set(k, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return val
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// RedactURL returns the endpoint with embedded credentials masked, for printing.
func RedactURL(endpoint string) string {
	return redactURL(endpoint)
}
