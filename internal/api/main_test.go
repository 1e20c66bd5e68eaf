package api

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/wastelandfi/wasteland/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Discard()
	goleak.VerifyTestMain(m)
}
