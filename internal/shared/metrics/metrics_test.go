package metrics

import (
	"strings"
	"testing"
)

func TestRenderIncludesLabelledCounters(t *testing.T) {
	IncTicketTerminal("DONE")
	IncTicketTerminal("DONE")
	IncPLEPhaseError("validate")

	out := Render()
	for _, want := range []string{
		"# TYPE tickets_terminal_total counter",
		`tickets_terminal_total{status="DONE"} `,
		`ple_phase_errors_total{phase="validate"} `,
		"# TYPE ticket_polls_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := &histogram{name: "wait_ms", help: "test", bounds: []float64{10, 100}, hits: make([]uint64, 2)}
	h.observe(5)
	h.observe(50)
	h.observe(500)

	var b strings.Builder
	h.writeTo(&b)
	out := b.String()
	for _, want := range []string{
		`wait_ms_bucket{le="10"} 1`,
		`wait_ms_bucket{le="100"} 2`,
		`wait_ms_bucket{le="+Inf"} 3`,
		"wait_ms_sum 555",
		"wait_ms_count 3",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
