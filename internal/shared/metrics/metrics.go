// Package metrics keeps the agent's process-wide counters and renders them
// in the Prometheus text format on /metrics.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

type counter struct {
	name, help string
	mu         sync.Mutex
	label      string
	values     map[string]uint64
}

func newCounter(name, help, label string) *counter {
	return &counter{name: name, help: help, label: label, values: map[string]uint64{}}
}

func (c *counter) inc(labelValue string) {
	c.mu.Lock()
	c.values[labelValue]++
	c.mu.Unlock()
}

func (c *counter) writeTo(w io.Writer) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		if c.label == "" {
			lines = append(lines, fmt.Sprintf("%s %d", c.name, c.values[k]))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s{%s=%q} %d", c.name, c.label, k, c.values[k]))
	}
	c.mu.Unlock()

	if c.label == "" && len(lines) == 0 {
		lines = append(lines, c.name+" 0")
	}
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

// histogram buckets are upper bounds in milliseconds.
type histogram struct {
	name, help string
	mu         sync.Mutex
	bounds     []float64
	hits       []uint64
	sum        float64
	count      uint64
}

func (h *histogram) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		h.hits[i]++
	}
}

func (h *histogram) writeTo(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
	var running uint64
	for i, b := range h.bounds {
		running += h.hits[i]
		fmt.Fprintf(w, "%s_bucket{le=%q} %d\n", h.name, strconv.FormatFloat(b, 'f', -1, 64), running)
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
	fmt.Fprintf(w, "%s_sum %s\n%s_count %d\n", h.name, strconv.FormatFloat(h.sum, 'f', -1, 64), h.name, h.count)
}

var (
	created   = newCounter("tickets_created_total", "Tickets created on the backend", "")
	polls     = newCounter("ticket_polls_total", "Ticket status polls", "")
	timeouts  = newCounter("ticket_poll_timeouts_total", "Poll sequences that used up their attempt budget", "")
	downloads = newCounter("ticket_downloads_total", "Ticket output files downloaded", "")
	terminal  = newCounter("tickets_terminal_total", "Tickets observed in a terminal status", "status")
	pleErrors = newCounter("ple_phase_errors_total", "PLE workflow failures by phase", "phase")

	pollWait = &histogram{
		name:   "ticket_poll_wait_ms",
		help:   "Time from first poll to terminal status in milliseconds",
		bounds: []float64{1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000},
		hits:   make([]uint64, 8),
	}
)

func IncTicketsCreated()              { created.inc("") }
func IncTicketPolls()                 { polls.inc("") }
func IncPollTimeouts()                { timeouts.inc("") }
func IncDownloads()                   { downloads.inc("") }
func IncTicketTerminal(status string) { terminal.inc(status) }
func IncPLEPhaseError(phase string)   { pleErrors.inc(phase) }

// ObservePollWaitMs records a poll-to-terminal duration. Negative values
// count as zero.
func ObservePollWaitMs(ms float64) {
	if ms < 0 {
		ms = 0
	}
	pollWait.observe(ms)
}

// Render returns every metric in exposition order.
func Render() string {
	var b strings.Builder
	for _, c := range []*counter{created, polls, timeouts, downloads, terminal, pleErrors} {
		c.writeTo(&b)
	}
	pollWait.writeTo(&b)
	return b.String()
}

func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain; version=0.0.4", []byte(Render()))
	}
}
