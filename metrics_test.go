package tsnsched

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSynthCollectorRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSynthCollector(reg)
	if err != nil {
		t.Fatalf("NewSynthCollector: %v", err)
	}
	second, err := NewSynthCollector(reg)
	if err != nil {
		t.Fatalf("second NewSynthCollector: %v", err)
	}

	first.observeSolve(outcomeSolved, 0.25, 10, 7)
	if got := testutil.ToFloat64(second.Solves.WithLabelValues(outcomeSolved)); got != 1 {
		t.Fatalf("second collector sees %v solves, want the 1 recorded through the first", got)
	}
	if got := testutil.ToFloat64(second.Constraints); got != 7 {
		t.Fatalf("constraints gauge = %v, want 7", got)
	}
}

func TestNilSynthCollectorIsSilent(t *testing.T) {
	var c *SynthCollector
	c.observeSolve(outcomeFailure, 1, 1, 1)
	c.setPorts(4)
}

func TestSynthCollectorWritesTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSynthCollector(reg)
	if err != nil {
		t.Fatalf("NewSynthCollector: %v", err)
	}
	c.setPorts(3)

	filename := filepath.Join(t.TempDir(), "tsnsched.prom")
	if err := c.WriteToTextfile(filename); err != nil {
		t.Fatalf("WriteToTextfile: %v", err)
	}
	text, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(text), "tsnsched_scheduled_ports 3") {
		t.Fatalf("textfile lacks the ports gauge:\n%s", text)
	}
}
