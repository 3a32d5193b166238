package tsnsched

// scheduler.go plays a resolved schedule forward in virtual time.
//
// A gate control list is the sequence of gate openings and closings one port performs
// every cycle, one open/close pair per (used priority, slot). The GateScheduler posts
// those transitions for a number of consecutive cycles on an evtm event manager, and
// each one that fires is recorded in a TraceManager. Schedule times are microseconds;
// virtual time is seconds.

import (
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"golang.org/x/exp/slices"
)

// GateOp is what a gate transition does
type GateOp int

const (
	GateClose GateOp = iota
	GateOpen
)

var gateOpToStr map[GateOp]string = map[GateOp]string{GateClose: "close", GateOpen: "open"}

func (op GateOp) String() string {
	return gateOpToStr[op]
}

// GateEntry is one transition of a gate control list. Offset is measured from the
// start of the cycle, in microseconds.
type GateEntry struct {
	Offset   float64
	Priority int
	Slot     int
	Op       GateOp
}

// GateControlList lists the transitions of the cycle's used priorities in time order.
// At equal offsets a close comes before an open, so back-to-back windows never overlap.
// Empty windows produce no entries.
func GateControlList(cycle *Cycle) ([]GateEntry, error) {
	if !cycle.CycleDurationKnown() {
		return nil, fmt.Errorf("%w: cycle of port %q has no duration yet", ErrInvalidState, cycle.PortName())
	}
	gcl := make([]GateEntry, 0)
	for _, prt := range cycle.UsedPriorities() {
		for slotIdx := 0; slotIdx < cycle.NumOfSlots(); slotIdx++ {
			start, _ := cycle.SlotStart(prt, slotIdx)
			duration, _ := cycle.SlotDuration(prt, slotIdx)
			if !(duration > 0) {
				continue
			}
			gcl = append(gcl,
				GateEntry{Offset: start, Priority: prt, Slot: slotIdx, Op: GateOpen},
				GateEntry{Offset: start + duration, Priority: prt, Slot: slotIdx, Op: GateClose})
		}
	}
	slices.SortStableFunc(gcl, func(a, b GateEntry) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return int(a.Op) - int(b.Op)
	})
	return gcl, nil
}

// gateEvent is the data carried by one scheduled transition
type gateEvent struct {
	port  string
	cycle int
	entry GateEntry
}

// GateScheduler posts the gate transitions of a set of resolved cycles
type GateScheduler struct {
	cycles []*Cycle
	gcls   map[string][]GateEntry
	tm     *TraceManager
	fired  int
}

// CreateGateScheduler is a constructor. Every cycle must have a known duration.
func CreateGateScheduler(cycles []*Cycle, tm *TraceManager) (*GateScheduler, error) {
	gs := &GateScheduler{cycles: cycles, gcls: make(map[string][]GateEntry), tm: tm}
	for idx, cycle := range cycles {
		gcl, err := GateControlList(cycle)
		if err != nil {
			return nil, err
		}
		gs.gcls[cycle.PortName()] = gcl
		if tm != nil {
			tm.AddName(idx+1, cycle.PortName(), "port")
		}
	}
	return gs, nil
}

// ScheduleCycles posts the transitions of the first n cycles of every port. It is meant
// to be called before the event manager runs, as offsets are taken from the present
// virtual time. The number of transitions posted is returned.
func (gs *GateScheduler) ScheduleCycles(evtMgr *evtm.EventManager, n int) int {
	posted := 0
	for _, cycle := range gs.cycles {
		gcl := gs.gcls[cycle.PortName()]
		for k := 0; k < n; k++ {
			base := cycle.CycleStartAt(k)
			for _, entry := range gcl {
				offset := (base + entry.Offset) * 1e-6
				evtMgr.Schedule(gs, gateEvent{port: cycle.PortName(), cycle: k, entry: entry},
					gateTransition, vrtime.SecondsToTime(offset))
				posted += 1
			}
		}
	}
	return posted
}

// Fired is the number of transitions that have executed
func (gs *GateScheduler) Fired() int {
	return gs.fired
}

// gateTransition is the event handler run when a gate opens or closes
func gateTransition(evtMgr *evtm.EventManager, context any, data any) any {
	gs := context.(*GateScheduler)
	ge := data.(gateEvent)
	gs.fired += 1

	if gs.tm != nil {
		AddGateTrace(gs.tm, evtMgr.CurrentTime(), ge.port, ge.cycle, ge.entry)
	}
	return nil
}

// PlayHorizon is a virtual time, in seconds, by which the first n cycles of every
// one of the cycles have ended. It runs a microsecond past the last cycle end, so a
// gate closing exactly there still fires.
func PlayHorizon(cycles []*Cycle, n int) float64 {
	horizon := 0.0
	for _, cycle := range cycles {
		horizon = math.Max(horizon, cycle.CycleStartAt(n))
	}
	return (horizon + 1.0) * 1e-6
}
