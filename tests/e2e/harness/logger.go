package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

var errTestFailed = errors.New("e2e test failed")

// StepLogger writes numbered test steps through t.Log. It is also an
// io.Writer, so loggers and reporters can write into the test output.
type StepLogger struct {
	t     testing.TB
	out   io.Writer
	start time.Time

	mu   sync.Mutex
	line bytes.Buffer
}

// NewStepLogger returns a StepLogger writing to t.Log.
func NewStepLogger(t testing.TB) *StepLogger {
	return &StepLogger{t: t, start: time.Now()}
}

// newStepLoggerTo returns a StepLogger writing to w instead of t.Log.
func newStepLoggerTo(t testing.TB, w io.Writer) *StepLogger {
	return &StepLogger{t: t, out: w, start: time.Now()}
}

// Step logs "[STEP n] msg".
func (l *StepLogger) Step(n int, format string, args ...any) {
	l.t.Helper()
	l.emit(fmt.Sprintf("[STEP %d] %s", n, fmt.Sprintf(format, args...)))
}

// Result logs "  -> msg" under the current step.
func (l *StepLogger) Result(format string, args ...any) {
	l.t.Helper()
	l.emit("  -> " + fmt.Sprintf(format, args...))
}

// Info logs "[E2E] msg".
func (l *StepLogger) Info(format string, args ...any) {
	l.t.Helper()
	l.emit("[E2E] " + fmt.Sprintf(format, args...))
}

// LedgerState logs the recorded result and open team counts.
func (l *StepLogger) LedgerState(results, leaked int) {
	l.t.Helper()
	l.emit(fmt.Sprintf("  [ledger] results=%d leaked_teams=%d", results, leaked))
}

// Elapsed logs the time since the logger was created.
func (l *StepLogger) Elapsed() {
	l.t.Helper()
	l.emit(fmt.Sprintf("[E2E] elapsed %s", time.Since(l.start).Round(time.Millisecond)))
}

// Write buffers p and logs every complete line.
func (l *StepLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	l.line.Write(p)
	var lines []string
	for {
		data := l.line.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(data[:i]))
		l.line.Next(i + 1)
	}
	l.mu.Unlock()

	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			l.emit(line)
		}
	}
	return len(p), nil
}

func (l *StepLogger) emit(msg string) {
	l.t.Helper()
	if l.out != nil {
		l.mu.Lock()
		fmt.Fprintln(l.out, msg)
		l.mu.Unlock()
		return
	}
	l.t.Log(msg)
}
