package score

import (
	"fmt"
	"strings"
	"sync"
)

// Labels used by the reference-vs-best comparison.
const (
	LabelReference = "reference"
	LabelBest      = "best"
)

var (
	reportPhases = []string{"P", "S"}
	reportLabels = []string{LabelReference, LabelBest}
)

// Collector accumulates MatchCounts per phase and configuration label.
// It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	counts map[string]map[string]MatchCounts
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{counts: make(map[string]map[string]MatchCounts)}
}

// Add accumulates counts for phase and label.
func (c *Collector) Add(phase, label string, counts MatchCounts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byLabel, ok := c.counts[phase]
	if !ok {
		byLabel = make(map[string]MatchCounts)
		c.counts[phase] = byLabel
	}
	byLabel[label] = byLabel[label].Add(counts)
}

// Counts returns the accumulated counts for phase and label.
func (c *Collector) Counts(phase, label string) MatchCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[phase][label]
}

// Metrics returns the metrics for phase and label, and false when nothing was
// collected for that pair.
func (c *Collector) Metrics(phase, label string) (PickMetrics, bool) {
	counts := c.Counts(phase, label)
	if counts.IsZero() {
		return PickMetrics{}, false
	}
	return counts.Metrics(), true
}

// TableHeader is the first line of the comparison table.
const TableHeader = "Phase  Config      F1      TPR      FPR(FP/(TP+FP))   Confusion [TN FP; FN TP]"

// FormatTable renders the aligned reference-vs-best table for P and S.
func FormatTable(c *Collector) string {
	rows := []string{TableHeader, strings.Repeat("-", len(TableHeader))}
	for _, phase := range reportPhases {
		for _, label := range reportLabels {
			m, ok := c.Metrics(phase, label)
			if !ok {
				continue
			}
			cm := fmt.Sprintf("[%d %d; %d %d]", m.Confusion[0][0], m.Confusion[0][1], m.Confusion[1][0], m.Confusion[1][1])
			rows = append(rows, fmt.Sprintf("%-5s  %-9s  %.4f  %.4f  %.4f  %s", phase, label, m.F1, m.TPR, m.FPRProxy, cm))
		}
	}
	if len(rows) == 2 {
		rows = append(rows, "No comparable reference-vs-best evaluation samples were collected.")
	}
	return strings.Join(rows, "\n")
}
