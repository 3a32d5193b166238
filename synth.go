package tsnsched

// synth.go builds a schedule for a topology and its flows.
//
// Every egress port that some flow leaves through gets a Cycle. The cycles are
// materialized in one solving session, cycles carried over from a prior schedule
// are bound to their earlier values, and each cycle then gets its structural
// constraints:
//   - the cycle duration lies within the port's bounds
//   - the first cycle starts where the port says
//   - every active window lies inside the cycle, and is at least long enough
//     for its priority's traffic and no longer than the port allows
//   - active windows are laid out back to back, never overlapping
//   - windows recorded earlier keep their durations
//
// The session minimizes the sum of cycle durations, window durations and window starts,
// which packs windows toward the start of their cycle. The solved values are copied back
// into the cycles and described as a ScheduleDesc.

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slices"

	"github.com/iti/tsnsched/internal/logging"
	"github.com/iti/tsnsched/solver"
)

const tracerName = "github.com/iti/tsnsched"

// replayTol is how far a replayed value may drift from its persisted one
const replayTol = 1e-6

// Synthesizer turns topologies and flow lists into schedules
type Synthesizer struct {
	log        logging.Logger
	metrics    *SynthCollector
	tracer     trace.Tracer
	solverOpts []solver.Option
}

// SynthOption customizes a Synthesizer at construction
type SynthOption func(*Synthesizer)

// WithLogger sets the synthesizer's logger; the solving sessions it opens log through it too
func WithLogger(l logging.Logger) SynthOption {
	return func(syn *Synthesizer) { syn.log = logging.OrNoop(l) }
}

// WithMetrics records every solve in c
func WithMetrics(c *SynthCollector) SynthOption {
	return func(syn *Synthesizer) { syn.metrics = c }
}

// WithSolverOptions passes options on to every solving session
func WithSolverOptions(opts ...solver.Option) SynthOption {
	return func(syn *Synthesizer) { syn.solverOpts = append(syn.solverOpts, opts...) }
}

// NewSynthesizer is a constructor
func NewSynthesizer(opts ...SynthOption) *Synthesizer {
	syn := &Synthesizer{log: logging.Noop(), tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(syn)
	}
	return syn
}

// window identifies one slot of one priority
type window struct {
	prt, slot int
}

// portModel gathers what the synthesizer knows about one port while solving
type portModel struct {
	cycle *Cycle

	// demand, in microseconds per cycle, by priority
	need map[int]float64

	// priorities that get windows, descending
	active []int

	// true when the cycle came from a prior schedule and was bound
	bound bool
}

// Synthesize computes a schedule carrying every flow of fl over topo. When prior is not nil,
// ports it describes keep their cycle duration, first start and windows, and only
// new windows are placed. A kept window too short for grown demand makes the instance
// unsatisfiable. An unsatisfiable instance yields an error wrapping ErrUnsatisfiable.
func (syn *Synthesizer) Synthesize(ctx context.Context, topo *TopoCfg, fl *FlowList, prior *ScheduleDesc) (*ScheduleDesc, error) {
	ctx, span := syn.tracer.Start(ctx, "Synthesize", trace.WithAttributes(
		attribute.String("topology", topo.Name),
		attribute.Int("flows", len(fl.Flows)),
		attribute.Bool("incremental", prior != nil)))
	defer span.End()

	sched, err := syn.synthesize(ctx, topo, fl, prior)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("ports", len(sched.Cycles)))
	return sched, nil
}

func (syn *Synthesizer) synthesize(ctx context.Context, topo *TopoCfg, fl *FlowList, prior *ScheduleDesc) (*ScheduleDesc, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	rt := CreateRouter(topo)
	flows, err := CreateFlows(topo, fl, rt)
	if err != nil {
		return nil, err
	}
	demand := AggregateDemand(topo, flows)

	ports := make([]string, 0, len(demand))
	for port := range demand {
		ports = append(ports, port)
	}
	slices.Sort(ports)

	sess := solver.NewSession(topo.Name, append([]solver.Option{solver.WithLogger(syn.log)}, syn.solverOpts...)...)
	models := make([]*portModel, 0, len(ports))
	for _, port := range ports {
		pm, err := syn.buildPort(ctx, sess, topo, port, demand[port].Need, prior)
		if err != nil {
			return nil, err
		}
		if err := addStructure(sess, pm); err != nil {
			return nil, err
		}
		models = append(models, pm)
	}

	model, err := syn.solve(ctx, sess, models)
	if err != nil {
		return nil, fmt.Errorf("synthesize %s: %w", topo.Name, err)
	}

	sched := CreateScheduleDesc(topo.Name)
	for _, pm := range models {
		if err := pm.cycle.Resolve(model, pm.active); err != nil {
			return nil, err
		}
		if err := pm.cycle.Detach(); err != nil {
			return nil, err
		}
		cd, err := DescribeCycle(pm.cycle)
		if err != nil {
			return nil, err
		}
		sched.Cycles = append(sched.Cycles, cd)
	}
	syn.metrics.setPorts(len(sched.Cycles))

	syn.log.Info(ctx, "schedule synthesized",
		logging.String("topology", topo.Name),
		logging.Int("flows", len(flows)),
		logging.Int("ports", len(sched.Cycles)),
		logging.Float("objective", solver.FloatFromRat(model.Objective())))
	return sched, nil
}

// buildPort creates, materializes and (for ports of the prior schedule) binds the cycle of a port
func (syn *Synthesizer) buildPort(ctx context.Context, sess *solver.Session, topo *TopoCfg, port string, need map[int]float64,
	prior *ScheduleDesc) (*portModel, error) {

	pm := &portModel{need: need}
	var err error
	if cd, present := prior.Cycle(port); present {
		pm.cycle, err = cd.CreateCycle()
		pm.bound = true
	} else {
		pd, _ := topo.Port(port)
		pm.cycle, err = pd.CreateCycle()
	}
	if err != nil {
		return nil, err
	}

	prts := pm.cycle.UsedPriorities()
	for prt := range need {
		if prt >= pm.cycle.NumOfPrts() {
			return nil, fmt.Errorf("%w: priority %d on port %q with %d priorities", ErrOutOfRange, prt, port, pm.cycle.NumOfPrts())
		}
		if !slices.Contains(prts, prt) {
			prts = append(prts, prt)
		}
	}
	slices.SortFunc(prts, func(a, b int) int { return b - a })
	pm.active = prts

	if err := pm.cycle.Materialize(sess); err != nil {
		return nil, err
	}
	if pm.bound {
		if err := pm.cycle.Bind(sess); err != nil {
			return nil, err
		}
		syn.log.Debug(ctx, "port bound to prior schedule",
			logging.String("port", port), logging.Int("priorities", len(pm.cycle.UsedPriorities())))
	}
	return pm, nil
}

// layout orders the active windows of a port. Windows already recorded keep the order of
// their starts; new windows follow, slot by slot, higher priorities first.
func (pm *portModel) layout() []window {
	cycle := pm.cycle
	recorded := make([]window, 0)
	fresh := make([]window, 0)
	for slotIdx := 0; slotIdx < cycle.NumOfSlots(); slotIdx++ {
		for _, prt := range pm.active {
			if cycle.IsUsed(prt) {
				recorded = append(recorded, window{prt: prt, slot: slotIdx})
			} else {
				fresh = append(fresh, window{prt: prt, slot: slotIdx})
			}
		}
	}
	slices.SortStableFunc(recorded, func(a, b window) int {
		sa, _ := cycle.SlotStart(a.prt, a.slot)
		sb, _ := cycle.SlotStart(b.prt, b.slot)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	})
	return append(recorded, fresh...)
}

// addStructure adds the structural constraints of a port's cycle
func addStructure(sess *solver.Session, pm *portModel) error {
	cycle := pm.cycle
	durationVar, err := cycle.CycleDurationVar()
	if err != nil {
		return err
	}
	startVar, err := cycle.FirstCycleStartVar()
	if err != nil {
		return err
	}
	maxSlot, err := cycle.MaximumSlotDurationExpr()
	if err != nil {
		return err
	}
	d := durationVar.Expr()

	constraints := []solver.Constraint{
		solver.Ge(d, solver.ConstFloat(cycle.LowerBoundCycleTime())),
		solver.Le(d, solver.ConstFloat(cycle.UpperBoundCycleTime())),
		solver.Eq(startVar.Expr(), solver.ConstFloat(cycle.FirstCycleStart())),
	}

	var prevEnd solver.LinExpr
	for idx, w := range pm.layout() {
		sv, err := cycle.SlotStartVar(w.prt, w.slot)
		if err != nil {
			return err
		}
		dv, err := cycle.SlotDurationVar(w.prt, w.slot)
		if err != nil {
			return err
		}
		start, dur := sv.Expr(), dv.Expr()
		end := start.Plus(dur)
		perSlot := pm.need[w.prt] / float64(cycle.NumOfSlots())

		constraints = append(constraints,
			solver.Ge(start, solver.ConstFloat(0)),
			solver.Ge(dur, solver.ConstFloat(perSlot)),
			solver.Le(dur, maxSlot),
			solver.Le(end, d))
		if idx > 0 {
			constraints = append(constraints, solver.Ge(start, prevEnd))
		}
		// a recorded window is kept whole by Resolve, so its solved length must match
		if cycle.IsUsed(w.prt) {
			recorded, _ := cycle.SlotDuration(w.prt, w.slot)
			constraints = append(constraints, solver.Eq(dur, solver.ConstFloat(recorded)))
		}
		prevEnd = end
	}

	for _, c := range constraints {
		if err := sess.AddConstraint(c); err != nil {
			return fmt.Errorf("port %q: %w", cycle.PortName(), err)
		}
	}
	return nil
}

// solve minimizes the total of cycle durations, window durations and window starts, and
// solves the session
func (syn *Synthesizer) solve(ctx context.Context, sess *solver.Session, models []*portModel) (*solver.Model, error) {
	terms := make([]solver.LinExpr, 0)
	for _, pm := range models {
		dv, _ := pm.cycle.CycleDurationVar()
		terms = append(terms, dv.Expr())
		for _, w := range pm.layout() {
			sv, _ := pm.cycle.SlotStartVar(w.prt, w.slot)
			wv, _ := pm.cycle.SlotDurationVar(w.prt, w.slot)
			terms = append(terms, sv.Expr(), wv.Expr())
		}
	}
	if err := sess.Minimize(solver.Sum(terms...)); err != nil {
		return nil, err
	}

	began := time.Now()
	model, err := sess.Solve(ctx)
	elapsed := time.Since(began).Seconds()

	outcome := outcomeSolved
	switch {
	case errors.Is(err, solver.ErrUnsatisfiable):
		outcome = outcomeUnsat
	case err != nil:
		outcome = outcomeFailure
	}
	syn.metrics.observeSolve(outcome, elapsed, sess.NumVars(), len(sess.Constraints()))

	if err != nil {
		syn.log.Warn(ctx, "no schedule found",
			logging.String("session", sess.Name()), logging.String("outcome", outcome), logging.Err(err))
		return nil, err
	}
	return model, nil
}

// Replay checks that a persisted schedule still carries the flows of fl over topo. Every
// recorded value of every cycle is pinned, so the session is satisfiable exactly when the
// schedule is. The resolved cycles are returned, in the schedule's order.
func (syn *Synthesizer) Replay(ctx context.Context, topo *TopoCfg, fl *FlowList, sched *ScheduleDesc) ([]*Cycle, error) {
	ctx, span := syn.tracer.Start(ctx, "Replay", trace.WithAttributes(
		attribute.String("schedule", sched.Name),
		attribute.Int("ports", len(sched.Cycles))))
	defer span.End()

	cycles, err := syn.replay(ctx, topo, fl, sched)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return cycles, nil
}

func (syn *Synthesizer) replay(ctx context.Context, topo *TopoCfg, fl *FlowList, sched *ScheduleDesc) ([]*Cycle, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	flows, err := CreateFlows(topo, fl, CreateRouter(topo))
	if err != nil {
		return nil, err
	}
	demand := AggregateDemand(topo, flows)

	// every port carrying traffic needs a cycle
	errs := []error{}
	for port := range demand {
		if _, present := sched.Cycle(port); !present {
			errs = append(errs, fmt.Errorf("%w: schedule %q has no cycle for port %q", ErrNotFound, sched.Name, port))
		}
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}

	sess := solver.NewSession(sched.Name, append([]solver.Option{solver.WithLogger(syn.log)}, syn.solverOpts...)...)
	models := make([]*portModel, 0, len(sched.Cycles))
	for _, cd := range sched.Cycles {
		need := map[int]float64{}
		if pdm, present := demand[cd.Port]; present {
			need = pdm.Need
		}
		pm, err := syn.buildPort(ctx, sess, topo, cd.Port, need, sched)
		if err != nil {
			return nil, err
		}
		if err := addStructure(sess, pm); err != nil {
			return nil, err
		}
		models = append(models, pm)
	}

	model, err := syn.solve(ctx, sess, models)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", sched.Name, err)
	}

	cycles := make([]*Cycle, 0, len(models))
	for idx, pm := range models {
		if err := pm.cycle.Resolve(model, pm.active); err != nil {
			return nil, err
		}
		if err := pm.cycle.Detach(); err != nil {
			return nil, err
		}
		if err := checkReplayed(pm.cycle, &sched.Cycles[idx]); err != nil {
			return nil, err
		}
		cycles = append(cycles, pm.cycle)
	}
	syn.log.Info(ctx, "schedule replayed",
		logging.String("schedule", sched.Name), logging.Int("ports", len(cycles)))
	return cycles, nil
}

// checkReplayed compares a re-solved cycle with the description it was built from
func checkReplayed(cycle *Cycle, cd *CycleDesc) error {
	if math.Abs(cycle.CycleDuration()-cd.Duration) > replayTol {
		return fmt.Errorf("%w: port %q cycle duration replayed as %v, recorded %v", ErrInvalidState,
			cd.Port, cycle.CycleDuration(), cd.Duration)
	}
	for _, sud := range cd.Slots {
		for slotIdx := range sud.Starts {
			start, err := cycle.SlotStart(sud.Priority, slotIdx)
			if err != nil {
				return err
			}
			if math.Abs(start-sud.Starts[slotIdx]) > replayTol {
				return fmt.Errorf("%w: port %q priority %d slot %d replayed at %v, recorded %v", ErrInvalidState,
					cd.Port, sud.Priority, slotIdx, start, sud.Starts[slotIdx])
			}
		}
	}
	return nil
}
