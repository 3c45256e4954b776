package scenario

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// DefaultPipelineOrder is the creation order, and so the expected
// dashboard order, of the ordering scenario.
var DefaultPipelineOrder = []string{"first", "second", "third", "fourth", "fifth"}

// DOM contract of the dashboard.
const (
	DashboardPath        = "/dashboard"
	PipelineCardSelector = ".dashboard-pipeline"
	PipelineNameSelector = ".dashboard-pipeline-name"
)

// ScrapeNamesScript returns the innerText of every pipeline name on the
// dashboard in document order.
const ScrapeNamesScript = `Array.from(document.querySelectorAll('` + PipelineNameSelector + `')).map((e) => e.innerText)`

// NthCardSelector selects the n-th pipeline card (1-based). It matches
// only once at least n cards are rendered.
func NthCardSelector(n int) string {
	return fmt.Sprintf("%s:nth-child(%d)", PipelineCardSelector, n)
}

// SetPipelineCommand is the fly command that creates pipeline from fixture.
func SetPipelineCommand(pipeline, fixturePath string) string {
	return fmt.Sprintf("set-pipeline -n -p %s -c %s", pipeline, fixturePath)
}

// OrderPipelinesCommand is the fly command that orders a team's pipelines.
func OrderPipelinesCommand(pipelines []string) string {
	var sb strings.Builder
	sb.WriteString("order-pipelines")
	for _, p := range pipelines {
		sb.WriteString(" -p ")
		sb.WriteString(p)
	}
	return sb.String()
}

// CompareOrder returns nil if actual equals expected element by element,
// and an *OrderMismatchError otherwise. Order matters; nothing is sorted.
func CompareOrder(expected, actual []string) error {
	if slices.Equal(expected, actual) {
		return nil
	}

	return &OrderMismatchError{
		Expected: slices.Clone(expected),
		Actual:   slices.Clone(actual),
		Diff:     cmp.Diff(expected, actual),
	}
}

// Reversed returns a reversed copy of names.
func Reversed(names []string) []string {
	out := slices.Clone(names)
	slices.Reverse(out)
	return out
}
