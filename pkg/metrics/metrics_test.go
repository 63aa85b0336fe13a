package metrics

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParsesTotal(t *testing.T) {
	ParsesTotal.Reset()

	ParsesTotal.WithLabelValues("hermes-2-pro", OutcomeOK).Inc()
	ParsesTotal.WithLabelValues("hermes-2-pro", OutcomeOK).Inc()
	ParsesTotal.WithLabelValues("generic", OutcomeError).Inc()

	count := testutil.ToFloat64(ParsesTotal.WithLabelValues("hermes-2-pro", OutcomeOK))
	if count != 2 {
		t.Errorf("Expected 2 hermes parses, got %f", count)
	}

	count = testutil.ToFloat64(ParsesTotal.WithLabelValues("generic", OutcomeError))
	if count != 1 {
		t.Errorf("Expected 1 failed generic parse, got %f", count)
	}
}

func TestOutcome(t *testing.T) {
	if got := Outcome(nil); got != OutcomeOK {
		t.Errorf("Outcome(nil) = %s", got)
	}
	if got := Outcome(errors.New("boom")); got != OutcomeError {
		t.Errorf("Outcome(err) = %s", got)
	}
}

func TestWriteText(t *testing.T) {
	reg := prometheus.NewRegistry()
	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "unrelated_total", Help: "x"})
	reg.MustRegister(ToolCallsTotal, other)
	ToolCallsTotal.Reset()
	ToolCallsTotal.WithLabelValues("llama-3.x").Add(3)
	other.Inc()

	var buf bytes.Buffer
	if err := WriteText(&buf, reg); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `llamabridge_tool_calls_total{format="llama-3.x"} 3`) {
		t.Errorf("missing tool call counter in:\n%s", out)
	}
	if strings.Contains(out, "unrelated_total") {
		t.Errorf("foreign metric leaked into output:\n%s", out)
	}
}
