package chain

import (
	"io"
	"log/slog"
	"testing"

	"github.com/vaultbridge/redeemer/internal/logging"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	logging.Setup(io.Discard, "json", slog.LevelError)
	goleak.VerifyTestMain(m)
}
