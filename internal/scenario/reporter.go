package scenario

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Reporter prints numbered steps and results for humans. It is safe for
// concurrent use so parallel suites can share one output.
type Reporter struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time

	header lipgloss.Style
	step   lipgloss.Style
	pass   lipgloss.Style
	fail   lipgloss.Style
	dim    lipgloss.Style
}

// NewReporter returns a Reporter writing to w. Colors are used only when w
// is a terminal that supports them.
func NewReporter(w io.Writer) *Reporter {
	re := lipgloss.NewRenderer(w)
	return &Reporter{
		w:      w,
		start:  time.Now(),
		header: re.NewStyle().Bold(true),
		step:   re.NewStyle().Foreground(lipgloss.Color("12")),
		pass:   re.NewStyle().Foreground(lipgloss.Color("10")),
		fail:   re.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		dim:    re.NewStyle().Faint(true),
	}
}

// Scenario announces the start of a scenario.
func (r *Reporter) Scenario(name string) {
	if r == nil {
		return
	}
	r.printf("%s\n", r.header.Render("● "+name))
}

// Step prints a numbered step.
func (r *Reporter) Step(n int, format string, args ...any) {
	if r == nil {
		return
	}
	r.printf("  %s %s\n", r.step.Render(fmt.Sprintf("[%d]", n)), fmt.Sprintf(format, args...))
}

// Result prints the outcome of a scenario.
func (r *Reporter) Result(res Result) {
	if r == nil {
		return
	}
	if res.Passed() {
		r.printf("  %s %s\n", r.pass.Render("✓"), r.dim.Render(res.Duration.Round(time.Millisecond).String()))
		return
	}
	r.printf("  %s %s\n", r.fail.Render("✗ "+string(res.ErrorKind)), res.Error)
	if res.Diff != "" {
		for _, line := range strings.Split(strings.TrimRight(res.Diff, "\n"), "\n") {
			r.printf("      %s\n", line)
		}
	}
}

// Summary prints the suite totals.
func (r *Reporter) Summary(rep *Report) {
	if r == nil || rep == nil {
		return
	}
	if rep.SuiteError != "" {
		r.printf("%s %s\n", r.fail.Render("suite setup failed:"), rep.SuiteError)
		return
	}
	passed := len(rep.Results) - rep.Failed()
	line := fmt.Sprintf("%d passed, %d failed", passed, rep.Failed())
	style := r.pass
	if rep.Failed() > 0 {
		style = r.fail
	}
	r.printf("\n%s %s\n", style.Render(line), r.dim.Render("in "+time.Since(r.start).Round(time.Millisecond).String()))
}

func (r *Reporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}
