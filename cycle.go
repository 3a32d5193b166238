package tsnsched

// cycle.go holds the Cycle, the per-port description of a repeating TSN
// transmission schedule. A Cycle carries its values in two forms: as unknowns
// of a solving session (after Materialize) and as concrete float64 values
// (after Resolve, or when loaded from a persisted schedule).
//
// There is no direct reference from a cycle to the flows that use it. A
// priority's time window is reached through the priority itself, and only
// priorities that were recorded as used have concrete windows. Unused
// priorities still get unknowns, so that the caller downstream decides which
// priorities matter.

import (
	"fmt"
	"math"
	"math/big"

	"golang.org/x/exp/slices"

	"github.com/iti/tsnsched/solver"
)

const (
	// DefaultNumOfPrts is the number of 802.1Q traffic classes
	DefaultNumOfPrts = 8

	// DefaultNumOfSlots is the number of windows each priority gets per cycle
	DefaultNumOfSlots = 1

	// slack allowed when checking solver output against bounds
	boundEps = 1e-9
)

// CycleState tags where a Cycle is in its lifecycle
type CycleState int

const (
	// CycleConstructed has bounds but no unknowns
	CycleConstructed CycleState = iota
	// CycleMaterialized has its unknowns declared in a session
	CycleMaterialized
	// CycleBound has had its known concrete values pinned by equality constraints
	CycleBound
	// CycleResolved has concrete values copied back from a solved model
	CycleResolved
)

var cycleStateToStr map[CycleState]string = map[CycleState]string{
	CycleConstructed:  "constructed",
	CycleMaterialized: "materialized",
	CycleBound:        "bound",
	CycleResolved:     "resolved",
}

func (cs CycleState) String() string {
	return cycleStateToStr[cs]
}

// slotUse holds the concrete windows of one used priority, indexed by slot
type slotUse struct {
	starts    []float64
	durations []float64
}

// Cycle contains all properties of a TSN cycle on one port
type Cycle struct {
	portName string
	state    CycleState

	upperBoundCycleTime float64
	lowerBoundCycleTime float64
	firstCycleStart     float64
	maximumSlotDuration float64

	numOfPrts  int
	numOfSlots int

	// concrete values, valid once resolved (or loaded)
	cycleDuration      float64
	cycleDurationKnown bool
	cycleStart         float64
	slotsUsed          map[int]*slotUse

	// symbolic values, valid once materialized
	instanceID             int
	cycleDurationVar       solver.Var
	firstCycleStartVar     solver.Var
	maximumSlotDurationVar solver.LinExpr
	slotStartVar           [][]solver.Var
	slotDurationVar        [][]solver.Var
}

// CreateCycle is a constructor. It fixes the bounds on the cycle duration, where the
// first cycle starts, and the longest any one priority slot may last. The cycle has
// DefaultNumOfPrts priorities with DefaultNumOfSlots slots each until changed.
func CreateCycle(portName string, upperBoundCycleTime, lowerBoundCycleTime, firstCycleStart,
	maximumSlotDuration float64) (*Cycle, error) {

	errs := []error{}
	for _, v := range []float64{upperBoundCycleTime, lowerBoundCycleTime, firstCycleStart, maximumSlotDuration} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("bound %v is not finite", v))
		}
	}
	if lowerBoundCycleTime < 0 {
		errs = append(errs, fmt.Errorf("lower bound %v is negative", lowerBoundCycleTime))
	}
	if lowerBoundCycleTime > upperBoundCycleTime {
		errs = append(errs, fmt.Errorf("lower bound %v exceeds upper bound %v", lowerBoundCycleTime, upperBoundCycleTime))
	}
	if maximumSlotDuration < 0 {
		errs = append(errs, fmt.Errorf("maximum slot duration %v is negative", maximumSlotDuration))
	}
	if firstCycleStart < 0 {
		errs = append(errs, fmt.Errorf("first cycle start %v is negative", firstCycleStart))
	}
	if err := ReportErrs(errs); err != nil {
		return nil, fmt.Errorf("%w: cycle of port %q: %v", ErrConfiguration, portName, err)
	}

	cycle := new(Cycle)
	cycle.portName = portName
	cycle.state = CycleConstructed
	cycle.upperBoundCycleTime = upperBoundCycleTime
	cycle.lowerBoundCycleTime = lowerBoundCycleTime
	cycle.firstCycleStart = firstCycleStart
	cycle.cycleStart = firstCycleStart
	cycle.maximumSlotDuration = maximumSlotDuration
	cycle.numOfPrts = DefaultNumOfPrts
	cycle.numOfSlots = DefaultNumOfSlots
	cycle.slotsUsed = make(map[int]*slotUse)
	return cycle, nil
}

// SetPortName names the port the cycle belongs to. The name is part of every slot
// unknown, so it can only change before materialization.
func (cycle *Cycle) SetPortName(portName string) error {
	if cycle.state != CycleConstructed {
		return fmt.Errorf("%w: port name of a %s cycle is fixed", ErrInvalidState, cycle.state)
	}
	cycle.portName = portName
	return nil
}

// SetNumOfPrts changes the priority domain to [0, numOfPrts)
func (cycle *Cycle) SetNumOfPrts(numOfPrts int) error {
	if err := cycle.checkResizable(numOfPrts); err != nil {
		return err
	}
	cycle.numOfPrts = numOfPrts
	return nil
}

// SetNumOfSlots changes the slot-index domain to [0, numOfSlots)
func (cycle *Cycle) SetNumOfSlots(numOfSlots int) error {
	if err := cycle.checkResizable(numOfSlots); err != nil {
		return err
	}
	cycle.numOfSlots = numOfSlots
	return nil
}

func (cycle *Cycle) checkResizable(n int) error {
	if cycle.state != CycleConstructed {
		return fmt.Errorf("%w: cannot resize a %s cycle", ErrInvalidState, cycle.state)
	}
	if len(cycle.slotsUsed) > 0 {
		return fmt.Errorf("%w: cannot resize a cycle with recorded slots", ErrInvalidState)
	}
	if n < 1 {
		return fmt.Errorf("%w: size %d must be positive", ErrConfiguration, n)
	}
	return nil
}

// SetCycleDuration records a known concrete cycle duration, e.g. from a persisted schedule
func (cycle *Cycle) SetCycleDuration(cycleDuration float64) error {
	if cycleDuration < cycle.lowerBoundCycleTime || cycleDuration > cycle.upperBoundCycleTime {
		return fmt.Errorf("%w: cycle duration %v outside [%v, %v] on port %q", ErrConfiguration,
			cycleDuration, cycle.lowerBoundCycleTime, cycle.upperBoundCycleTime, cycle.portName)
	}
	cycle.cycleDuration = cycleDuration
	cycle.cycleDurationKnown = true
	return nil
}

// SetCycleStart records the concrete start of the cycle
func (cycle *Cycle) SetCycleStart(cycleStart float64) {
	cycle.cycleStart = cycleStart
}

// RecordSlotUsage stores the concrete slot starts and durations of priority prt. The first
// recording of a priority wins: later calls for the same priority change nothing.
func (cycle *Cycle) RecordSlotUsage(prt int, starts, durations []float64) error {
	if prt < 0 || prt >= cycle.numOfPrts {
		return fmt.Errorf("%w: priority %d not in [0, %d)", ErrOutOfRange, prt, cycle.numOfPrts)
	}
	if _, present := cycle.slotsUsed[prt]; present {
		return nil
	}
	if len(starts) != cycle.numOfSlots || len(durations) != cycle.numOfSlots {
		return fmt.Errorf("%w: priority %d needs %d starts and durations, got %d and %d",
			ErrConfiguration, prt, cycle.numOfSlots, len(starts), len(durations))
	}
	for idx, st := range starts {
		if math.IsNaN(st) || math.IsInf(st, 0) {
			return fmt.Errorf("%w: priority %d slot %d start %v is not finite", ErrConfiguration, prt, idx, st)
		}
	}
	for idx, d := range durations {
		if d < -boundEps || d > cycle.maximumSlotDuration+boundEps {
			return fmt.Errorf("%w: priority %d slot %d duration %v not in [0, %v]",
				ErrConfiguration, prt, idx, d, cycle.maximumSlotDuration)
		}
	}

	cycle.slotsUsed[prt] = &slotUse{
		starts:    append([]float64{}, starts...),
		durations: append([]float64{}, durations...),
	}
	return nil
}

// CycleStartAt returns the time at which repetition n of the cycle begins. Any n below 1
// (negative indices included) yields the first cycle start.
func (cycle *Cycle) CycleStartAt(n int) float64 {
	if n >= 1 {
		return cycle.firstCycleStart + float64(n)*cycle.cycleDuration
	}
	return cycle.firstCycleStart
}

// SlotStart returns the recorded start of slot index of priority prt
func (cycle *Cycle) SlotStart(prt, index int) (float64, error) {
	use, err := cycle.slotUseAt(prt, index)
	if err != nil {
		return 0, err
	}
	return use.starts[index], nil
}

// SlotDuration returns the recorded duration of slot index of priority prt
func (cycle *Cycle) SlotDuration(prt, index int) (float64, error) {
	use, err := cycle.slotUseAt(prt, index)
	if err != nil {
		return 0, err
	}
	return use.durations[index], nil
}

func (cycle *Cycle) slotUseAt(prt, index int) (*slotUse, error) {
	use, present := cycle.slotsUsed[prt]
	if !present {
		return nil, fmt.Errorf("%w: priority %d has no recorded slots on port %q", ErrNotFound, prt, cycle.portName)
	}
	if index < 0 || index >= cycle.numOfSlots {
		return nil, fmt.Errorf("%w: slot %d not in [0, %d)", ErrOutOfRange, index, cycle.numOfSlots)
	}
	return use, nil
}

// UsedPriorities lists, in increasing order, the priorities with recorded slots
func (cycle *Cycle) UsedPriorities() []int {
	prts := make([]int, 0, len(cycle.slotsUsed))
	for prt := range cycle.slotsUsed {
		prts = append(prts, prt)
	}
	slices.Sort(prts)
	return prts
}

// IsUsed reports whether priority prt has recorded slots
func (cycle *Cycle) IsUsed(prt int) bool {
	_, present := cycle.slotsUsed[prt]
	return present
}

/*
 *  GETTERS
 */

func (cycle *Cycle) PortName() string             { return cycle.portName }
func (cycle *Cycle) State() CycleState            { return cycle.state }
func (cycle *Cycle) UpperBoundCycleTime() float64 { return cycle.upperBoundCycleTime }
func (cycle *Cycle) LowerBoundCycleTime() float64 { return cycle.lowerBoundCycleTime }
func (cycle *Cycle) FirstCycleStart() float64     { return cycle.firstCycleStart }
func (cycle *Cycle) MaximumSlotDuration() float64 { return cycle.maximumSlotDuration }
func (cycle *Cycle) CycleDuration() float64       { return cycle.cycleDuration }
func (cycle *Cycle) CycleDurationKnown() bool     { return cycle.cycleDurationKnown }
func (cycle *Cycle) CycleStart() float64          { return cycle.cycleStart }
func (cycle *Cycle) NumOfPrts() int               { return cycle.numOfPrts }
func (cycle *Cycle) NumOfSlots() int              { return cycle.numOfSlots }
func (cycle *Cycle) InstanceID() int              { return cycle.instanceID }

// symbolic getters fail until the cycle is materialized

func (cycle *Cycle) checkMaterialized() error {
	if cycle.state == CycleConstructed {
		return fmt.Errorf("%w: cycle of port %q has not been materialized", ErrInvalidState, cycle.portName)
	}
	if cycle.slotStartVar == nil {
		return fmt.Errorf("%w: cycle of port %q was resolved without a session", ErrInvalidState, cycle.portName)
	}
	return nil
}

// CycleDurationVar returns the unknown standing for the cycle duration
func (cycle *Cycle) CycleDurationVar() (solver.Var, error) {
	if err := cycle.checkMaterialized(); err != nil {
		return solver.Var{}, err
	}
	return cycle.cycleDurationVar, nil
}

// FirstCycleStartVar returns the unknown standing for the first cycle start
func (cycle *Cycle) FirstCycleStartVar() (solver.Var, error) {
	if err := cycle.checkMaterialized(); err != nil {
		return solver.Var{}, err
	}
	return cycle.firstCycleStartVar, nil
}

// CycleStartExpr returns the symbolic start of repetition n of the cycle, the counterpart
// of CycleStartAt. Any n below 1 yields the first cycle start unknown.
func (cycle *Cycle) CycleStartExpr(n int) (solver.LinExpr, error) {
	if err := cycle.checkMaterialized(); err != nil {
		return solver.LinExpr{}, err
	}
	if n >= 1 {
		return cycle.firstCycleStartVar.Expr().Plus(cycle.cycleDurationVar.Expr().Scale(big.NewRat(int64(n), 1))), nil
	}
	return cycle.firstCycleStartVar.Expr(), nil
}

// MaximumSlotDurationExpr returns the constant expression of the maximum slot duration
func (cycle *Cycle) MaximumSlotDurationExpr() (solver.LinExpr, error) {
	if err := cycle.checkMaterialized(); err != nil {
		return solver.LinExpr{}, err
	}
	return cycle.maximumSlotDurationVar, nil
}

// SlotStartVar returns the unknown for the start of slot slotNum of priority prt
func (cycle *Cycle) SlotStartVar(prt, slotNum int) (solver.Var, error) {
	return cycle.slotVar(cycle.slotStartVar, prt, slotNum)
}

// SlotDurationVar returns the unknown for the duration of slot slotNum of priority prt
func (cycle *Cycle) SlotDurationVar(prt, slotNum int) (solver.Var, error) {
	return cycle.slotVar(cycle.slotDurationVar, prt, slotNum)
}

func (cycle *Cycle) slotVar(table [][]solver.Var, prt, slotNum int) (solver.Var, error) {
	if err := cycle.checkMaterialized(); err != nil {
		return solver.Var{}, err
	}
	if prt < 0 || prt >= len(table) {
		return solver.Var{}, fmt.Errorf("%w: priority %d not in [0, %d)", ErrOutOfRange, prt, len(table))
	}
	if slotNum < 0 || slotNum >= len(table[prt]) {
		return solver.Var{}, fmt.Errorf("%w: slot %d not in [0, %d)", ErrOutOfRange, slotNum, len(table[prt]))
	}
	return table[prt][slotNum], nil
}
