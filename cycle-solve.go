package tsnsched

// cycle-solve.go moves a Cycle between its symbolic and concrete forms:
//   - Materialize declares the cycle's unknowns in a solving session
//   - Bind pins the unknowns whose concrete values are already known
//   - Resolve copies concrete values back out of a solved model

import (
	"fmt"

	"github.com/iti/tsnsched/solver"
)

// SolvingSession is the part of a solving session a Cycle needs to put itself into
// symbolic form. *solver.Session satisfies it.
type SolvingSession interface {
	NextModelInstanceID() int
	DeclareRealUnknown(name string) (solver.Var, error)
	DeclareRealConstant(value float64) (solver.LinExpr, error)
	AddConstraint(c solver.Constraint) error
}

// SolvedModel is the part of a solver model a Cycle reads its values from.
// *solver.Model satisfies it.
type SolvedModel interface {
	Float64(v solver.Var) (float64, error)
}

// Materialize declares the cycle's unknowns in sess: the cycle duration and first cycle
// start, the maximum slot duration as a constant, and a start and a duration unknown for
// every (priority, slot) pair, used or not. No constraints are added here.
//
// A cycle is materialized at most once; a second call fails with ErrInvalidState and
// leaves the existing tables alone. If a declaration fails midway the cycle is unchanged,
// though the names already declared stay reserved in sess.
func (cycle *Cycle) Materialize(sess SolvingSession) error {
	if cycle.state != CycleConstructed {
		return fmt.Errorf("%w: cycle of port %q is already %s", ErrInvalidState, cycle.portName, cycle.state)
	}
	if len(cycle.portName) == 0 {
		return fmt.Errorf("%w: cycle has no port name", ErrConfiguration)
	}

	instanceID := sess.NextModelInstanceID()

	durationVar, err := sess.DeclareRealUnknown(CycleDurationName(instanceID))
	if err != nil {
		return fmt.Errorf("materialize port %q: %w", cycle.portName, err)
	}
	startVar, err := sess.DeclareRealUnknown(CycleStartName(instanceID))
	if err != nil {
		return fmt.Errorf("materialize port %q: %w", cycle.portName, err)
	}
	maxSlot, err := sess.DeclareRealConstant(cycle.maximumSlotDuration)
	if err != nil {
		return fmt.Errorf("materialize port %q: %w", cycle.portName, err)
	}

	starts := make([][]solver.Var, cycle.numOfPrts)
	durations := make([][]solver.Var, cycle.numOfPrts)
	for prt := 0; prt < cycle.numOfPrts; prt++ {
		starts[prt] = make([]solver.Var, cycle.numOfSlots)
		durations[prt] = make([]solver.Var, cycle.numOfSlots)
		for slotIdx := 0; slotIdx < cycle.numOfSlots; slotIdx++ {
			starts[prt][slotIdx], err = sess.DeclareRealUnknown(SlotVarName(cycle.portName, prt, slotIdx, SlotStartAttr))
			if err != nil {
				return fmt.Errorf("materialize port %q: %w", cycle.portName, err)
			}
			durations[prt][slotIdx], err = sess.DeclareRealUnknown(SlotVarName(cycle.portName, prt, slotIdx, SlotDurationAttr))
			if err != nil {
				return fmt.Errorf("materialize port %q: %w", cycle.portName, err)
			}
		}
	}

	cycle.instanceID = instanceID
	cycle.cycleDurationVar = durationVar
	cycle.firstCycleStartVar = startVar
	cycle.maximumSlotDurationVar = maxSlot
	cycle.slotStartVar = starts
	cycle.slotDurationVar = durations
	cycle.state = CycleMaterialized
	return nil
}

// Bind adds to sess an equality tying each unknown to its already-known concrete value:
// the cycle duration (when known), the first cycle start, and the start of every slot of
// every recorded priority. Slot durations are not pinned, and neither is anything of an
// unused priority, so a re-solve may re-derive them.
func (cycle *Cycle) Bind(sess SolvingSession) error {
	if cycle.state != CycleMaterialized {
		if err := cycle.checkMaterialized(); err != nil {
			return err
		}
		return fmt.Errorf("%w: cycle of port %q is already %s", ErrInvalidState, cycle.portName, cycle.state)
	}

	constraints := []solver.Constraint{}
	if cycle.cycleDurationKnown {
		constraints = append(constraints, solver.Eq(cycle.cycleDurationVar.Expr(), solver.ConstFloat(cycle.cycleDuration)))
	}
	constraints = append(constraints, solver.Eq(cycle.firstCycleStartVar.Expr(), solver.ConstFloat(cycle.firstCycleStart)))

	for _, prt := range cycle.UsedPriorities() {
		use := cycle.slotsUsed[prt]
		for slotIdx := 0; slotIdx < cycle.numOfSlots; slotIdx++ {
			constraints = append(constraints,
				solver.Eq(cycle.slotStartVar[prt][slotIdx].Expr(), solver.ConstFloat(use.starts[slotIdx])))
		}
	}

	for _, c := range constraints {
		if err := sess.AddConstraint(c); err != nil {
			return fmt.Errorf("bind port %q: %w", cycle.portName, err)
		}
	}
	cycle.state = CycleBound
	return nil
}

// Resolve reads the cycle duration, the first cycle start, and the slot windows of the
// priorities in used from a solved model. Priorities recorded earlier keep their values.
func (cycle *Cycle) Resolve(model SolvedModel, used []int) error {
	if cycle.state != CycleMaterialized && cycle.state != CycleBound {
		if err := cycle.checkMaterialized(); err != nil {
			return err
		}
		return fmt.Errorf("%w: cycle of port %q is already %s", ErrInvalidState, cycle.portName, cycle.state)
	}

	duration, err := model.Float64(cycle.cycleDurationVar)
	if err != nil {
		return fmt.Errorf("resolve port %q: %w", cycle.portName, err)
	}
	first, err := model.Float64(cycle.firstCycleStartVar)
	if err != nil {
		return fmt.Errorf("resolve port %q: %w", cycle.portName, err)
	}
	if duration < cycle.lowerBoundCycleTime-boundEps || duration > cycle.upperBoundCycleTime+boundEps {
		return fmt.Errorf("%w: solved cycle duration %v outside [%v, %v] on port %q", ErrConfiguration,
			duration, cycle.lowerBoundCycleTime, cycle.upperBoundCycleTime, cycle.portName)
	}

	type resolvedWindow struct{ starts, durations []float64 }
	windows := make(map[int]resolvedWindow, len(used))
	for _, prt := range used {
		if prt < 0 || prt >= cycle.numOfPrts {
			return fmt.Errorf("%w: priority %d not in [0, %d)", ErrOutOfRange, prt, cycle.numOfPrts)
		}
		w := resolvedWindow{starts: make([]float64, cycle.numOfSlots), durations: make([]float64, cycle.numOfSlots)}
		for slotIdx := 0; slotIdx < cycle.numOfSlots; slotIdx++ {
			if w.starts[slotIdx], err = model.Float64(cycle.slotStartVar[prt][slotIdx]); err != nil {
				return fmt.Errorf("resolve port %q: %w", cycle.portName, err)
			}
			if w.durations[slotIdx], err = model.Float64(cycle.slotDurationVar[prt][slotIdx]); err != nil {
				return fmt.Errorf("resolve port %q: %w", cycle.portName, err)
			}
			if d := w.durations[slotIdx]; d < -boundEps || d > cycle.maximumSlotDuration+boundEps {
				return fmt.Errorf("%w: solved duration %v of priority %d slot %d not in [0, %v] on port %q",
					ErrConfiguration, d, prt, slotIdx, cycle.maximumSlotDuration, cycle.portName)
			}
		}
		windows[prt] = w
	}

	cycle.cycleDuration = duration
	cycle.cycleDurationKnown = true
	cycle.firstCycleStart = first
	cycle.cycleStart = first
	for _, prt := range used {
		if err := cycle.RecordSlotUsage(prt, windows[prt].starts, windows[prt].durations); err != nil {
			return fmt.Errorf("resolve port %q: %w", cycle.portName, err)
		}
	}
	cycle.state = CycleResolved
	return nil
}

// Detach drops the symbolic half of a resolved cycle, so that it no longer refers to
// the session it was solved in
func (cycle *Cycle) Detach() error {
	if cycle.state != CycleResolved {
		return fmt.Errorf("%w: only a resolved cycle can be detached, port %q is %s", ErrInvalidState, cycle.portName, cycle.state)
	}
	cycle.cycleDurationVar = solver.Var{}
	cycle.firstCycleStartVar = solver.Var{}
	cycle.maximumSlotDurationVar = solver.LinExpr{}
	cycle.slotStartVar = nil
	cycle.slotDurationVar = nil
	return nil
}
