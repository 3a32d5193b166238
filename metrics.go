package tsnsched

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// solve outcomes, used as the "outcome" label
const (
	outcomeSolved  = "solved"
	outcomeUnsat   = "unsatisfiable"
	outcomeFailure = "error"
)

// SynthCollector bundles Prometheus metrics describing schedule synthesis
type SynthCollector struct {
	gatherer prometheus.Gatherer

	Solves         *prometheus.CounterVec
	SolveDurations prometheus.Histogram

	Unknowns    prometheus.Gauge
	Constraints prometheus.Gauge
	Ports       prometheus.Gauge
}

// NewSynthCollector registers synthesis metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSynthCollector(reg prometheus.Registerer) (*SynthCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	solves, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnsched_solves_total",
		Help: "Total number of schedule solves, labeled by outcome.",
	}, []string{"outcome"}), "tsnsched_solves_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tsnsched_solve_duration_seconds",
		Help:    "Wall-clock time of one schedule solve, in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}), "tsnsched_solve_duration_seconds")
	if err != nil {
		return nil, err
	}

	unknowns, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsnsched_session_unknowns",
		Help: "Number of unknowns declared in the last solving session.",
	}), "tsnsched_session_unknowns")
	if err != nil {
		return nil, err
	}
	constraints, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsnsched_session_constraints",
		Help: "Number of constraints added to the last solving session.",
	}), "tsnsched_session_constraints")
	if err != nil {
		return nil, err
	}
	ports, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsnsched_scheduled_ports",
		Help: "Number of egress ports in the last synthesized schedule.",
	}), "tsnsched_scheduled_ports")
	if err != nil {
		return nil, err
	}

	return &SynthCollector{
		gatherer:       gatherer,
		Solves:         solves,
		SolveDurations: durations,
		Unknowns:       unknowns,
		Constraints:    constraints,
		Ports:          ports,
	}, nil
}

// Gatherer returns the gatherer the collector's metrics can be read from
func (c *SynthCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// WriteToTextfile stores the gathered metrics in the Prometheus text format,
// for pickup by a node exporter textfile collector
func (c *SynthCollector) WriteToTextfile(filename string) error {
	return prometheus.WriteToTextfile(filename, c.Gatherer())
}

// observeSolve records one solve. A nil collector records nothing.
func (c *SynthCollector) observeSolve(outcome string, seconds float64, unknowns, constraints int) {
	if c == nil {
		return
	}
	c.Solves.WithLabelValues(outcome).Inc()
	c.SolveDurations.Observe(seconds)
	c.Unknowns.Set(float64(unknowns))
	c.Constraints.Set(float64(constraints))
}

func (c *SynthCollector) setPorts(n int) {
	if c == nil {
		return
	}
	c.Ports.Set(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
