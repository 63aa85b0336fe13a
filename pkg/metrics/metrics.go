// Package metrics holds the Prometheus collectors for request compilation and
// response parsing.
package metrics

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Namespace prefixes every collector in this package.
const Namespace = "llamabridge"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	CompilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "compiles_total",
			Help:      "Total number of chat requests compiled, by negotiated format",
		},
		[]string{"format", "outcome"},
	)

	ParsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "parses_total",
			Help:      "Total number of completions parsed, by format",
		},
		[]string{"format", "outcome"},
	)

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls extracted from completions",
		},
		[]string{"format"},
	)

	PromptBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "prompt_bytes",
			Help:      "Size of compiled prompts in bytes",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(CompilesTotal, ParsesTotal, ToolCallsTotal, PromptBytes)
}

// Outcome maps an error to its outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// WriteText writes this package's metric families from g in the Prometheus
// text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), Namespace+"_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
