package tsnsched

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/iti/evt/evtm"
)

// resolvedCycle has a 100 microsecond cycle with priority 5 open for [0, 20),
// priority 2 for [20, 50), and an empty window for priority 1
func resolvedCycle(t *testing.T, port string) *Cycle {
	t.Helper()
	cycle := newTestCycle(t, port)
	if err := cycle.SetCycleDuration(100); err != nil {
		t.Fatalf("SetCycleDuration: %v", err)
	}
	for _, use := range []struct {
		prt        int
		start, dur float64
	}{{5, 0, 20}, {2, 20, 30}, {1, 60, 0}} {
		if err := cycle.RecordSlotUsage(use.prt, []float64{use.start}, []float64{use.dur}); err != nil {
			t.Fatalf("RecordSlotUsage(%d): %v", use.prt, err)
		}
	}
	return cycle
}

func TestGateControlListOrder(t *testing.T) {
	gcl, err := GateControlList(resolvedCycle(t, "p"))
	if err != nil {
		t.Fatalf("GateControlList: %v", err)
	}
	want := []GateEntry{
		{Offset: 0, Priority: 5, Op: GateOpen},
		{Offset: 20, Priority: 5, Op: GateClose},
		{Offset: 20, Priority: 2, Op: GateOpen},
		{Offset: 50, Priority: 2, Op: GateClose},
	}
	if len(gcl) != len(want) {
		t.Fatalf("GateControlList = %+v, want %+v", gcl, want)
	}
	for idx := range want {
		if gcl[idx] != want[idx] {
			t.Fatalf("entry %d = %+v, want %+v", idx, gcl[idx], want[idx])
		}
	}

	if _, err := GateControlList(newTestCycle(t, "q")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("unsolved cycle: err = %v, want ErrInvalidState", err)
	}
}

func TestGateSchedulerPlaysCycles(t *testing.T) {
	cycles := []*Cycle{resolvedCycle(t, "p"), resolvedCycle(t, "q")}
	tm := CreateTraceManager("play", true)
	gs, err := CreateGateScheduler(cycles, tm)
	if err != nil {
		t.Fatalf("CreateGateScheduler: %v", err)
	}

	evtMgr := evtm.New()
	posted := gs.ScheduleCycles(evtMgr, 3)
	if posted != 2*3*4 {
		t.Fatalf("posted %d transitions, want 24", posted)
	}
	evtMgr.Run(PlayHorizon(cycles, 3))

	if gs.Fired() != posted || tm.Len() != posted {
		t.Fatalf("fired %d, traced %d, want %d", gs.Fired(), tm.Len(), posted)
	}
	traces := tm.Traces["p"]
	for idx := 1; idx < len(traces); idx++ {
		if traces[idx].Time < traces[idx-1].Time {
			t.Fatalf("trace %d at %v precedes trace %d at %v", idx, traces[idx].Time, idx-1, traces[idx-1].Time)
		}
	}
	last := traces[len(traces)-1]
	if !approx(last.Time*1e6, 250) || last.Cycle != 2 || last.Op != "close" || last.Priority != 2 {
		t.Fatalf("last trace = %+v, want priority 2 closing at 250us in cycle 2", last)
	}
	if tm.NameByID[1].Name != "p" || tm.NameByID[2].Name != "q" {
		t.Fatalf("names = %+v", tm.NameByID)
	}

	filename := filepath.Join(t.TempDir(), "gates.yaml")
	if err := tm.WriteToFile(filename); err != nil {
		t.Fatalf("WriteToFile: %v", err)
	}
	if _, err := os.Stat(filename); err != nil {
		t.Fatalf("trace file not written: %v", err)
	}
}

func TestInactiveTraceManagerRecordsNothing(t *testing.T) {
	tm := CreateTraceManager("off", false)
	AddGateTrace(tm, evtm.New().CurrentTime(), "p", 0, GateEntry{Op: GateOpen})
	tm.AddName(1, "p", "port")
	if tm.Len() != 0 || len(tm.NameByID) != 0 || tm.Active() {
		t.Fatalf("inactive manager recorded %d traces, %d names", tm.Len(), len(tm.NameByID))
	}

	filename := filepath.Join(t.TempDir(), "off.yaml")
	if err := tm.WriteToFile(filename); err != nil {
		t.Fatalf("WriteToFile: %v", err)
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) {
		t.Fatalf("inactive manager wrote %s", filename)
	}
}
