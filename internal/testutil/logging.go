package testutil

import (
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

// TestLogger returns a logger that writes through t.Log. Debug output is
// only enabled under go test -v.
func TestLogger(t testing.TB) *log.Logger {
	t.Helper()

	logger := log.NewWithOptions(tbWriter{t}, log.Options{
		Formatter: log.LogfmtFormatter,
		Prefix:    t.Name(),
	})
	if testing.Verbose() {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

type tbWriter struct {
	t testing.TB
}

func (w tbWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

var _ io.Writer = tbWriter{}
