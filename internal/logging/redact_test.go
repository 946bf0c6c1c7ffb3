package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// newTestRedactingLogger creates a RedactingHandler wrapping a JSON handler
// that writes to the given buffer.
func newTestRedactingLogger(buf *bytes.Buffer) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewRedactingHandler(inner))
}

func TestRedact_NormalValuesPassThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf)

	requestID := "0x" + strings.Repeat("ab", 32)
	logger.Info("redeem request created",
		"request_id", requestID,
		"provider", "0x1111111111111111111111111111111111111111",
		"amount", "150000",
		"height", 42,
	)

	output := buf.String()
	for _, expected := range []string{requestID, "0x1111111111111111111111111111111111111111", "150000", "42"} {
		if !strings.Contains(output, expected) {
			t.Errorf("expected output to contain %q, got: %s", expected, output)
		}
	}
	if strings.Contains(output, "[REDACTED]") {
		t.Errorf("normal values should not be redacted, got: %s", output)
	}
}

func TestRedact_SensitiveKeys(t *testing.T) {
	for _, key := range []string{"password", "db_secret", "private_key", "signer_key", "credentials"} {
		t.Run(key, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newTestRedactingLogger(&buf)

			logger.Info("config", key, "super-sensitive")

			output := buf.String()
			if strings.Contains(output, "super-sensitive") {
				t.Errorf("value under %q leaked: %s", key, output)
			}
			if !strings.Contains(output, "[REDACTED]") {
				t.Errorf("expected redaction marker, got: %s", output)
			}
		})
	}
}

func TestRedact_RPCURLKey(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf)

	logger.Info("dialing", "rpc_url", "https://mainnet.infura.io/v3/0123456789abcdef0123456789abcdef")

	output := buf.String()
	if strings.Contains(output, "0123456789abcdef0123456789abcdef") {
		t.Errorf("rpc api key leaked: %s", output)
	}
	if !strings.Contains(output, "https://mainnet.infura.io/v3/0123...") {
		t.Errorf("expected shortened key, got: %s", output)
	}
}

func TestRedact_LongHex(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf)

	raw := strings.Repeat("de", 40)
	logger.Warn("unexpected payload", "detail", "tx "+raw)

	output := buf.String()
	if strings.Contains(output, raw) {
		t.Errorf("long hex should be redacted: %s", output)
	}
	if !strings.Contains(output, raw[:8]+"...[REDACTED]") {
		t.Errorf("expected prefix and marker, got: %s", output)
	}
}

func TestRedact_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf).With("signer_key", "abcd")

	logger.Info("hello")
	if strings.Contains(buf.String(), "abcd") {
		t.Errorf("WithAttrs should redact: %s", buf.String())
	}
}

func TestEnableRedaction_NoDoubleWrap(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	EnableRedaction()
	first := Logger().Handler()
	EnableRedaction()
	if Logger().Handler() != first {
		t.Error("EnableRedaction should not wrap twice")
	}

	Info("x", "password", "hunter2")
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("password leaked: %s", buf.String())
	}
}

func TestRedact_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf)

	logger.Info("chain configured", slog.Group("chain",
		slog.String("signer_key_file", "/keys/hot.hex"),
		slog.String("ws_endpoint", "wss://eth.example/ws/v3/abcdefghijklmnop1234"),
		slog.Uint64("finality_depth", 12),
	))

	output := buf.String()
	if strings.Contains(output, "/keys/hot.hex") {
		t.Errorf("grouped secret leaked: %s", output)
	}
	if strings.Contains(output, "abcdefghijklmnop1234") {
		t.Errorf("grouped rpc key leaked: %s", output)
	}
	if !strings.Contains(output, `"finality_depth":12`) {
		t.Errorf("expected untouched group member, got: %s", output)
	}
}
