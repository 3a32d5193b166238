package tsnsched

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// checkWindows verifies the windows of a described cycle fit inside the cycle and do not overlap
func checkWindows(t *testing.T, cd CycleDesc) {
	t.Helper()
	type span struct{ start, end float64 }
	spans := []span{}
	for _, sud := range cd.Slots {
		for idx := range sud.Starts {
			s := span{start: sud.Starts[idx], end: sud.Starts[idx] + sud.Durations[idx]}
			if s.start < -1e-6 || s.end > cd.Duration+1e-6 {
				t.Fatalf("port %s priority %d window [%v, %v] outside cycle of %v", cd.Port, sud.Priority, s.start, s.end, cd.Duration)
			}
			if sud.Durations[idx] > cd.MaxSlot+1e-6 {
				t.Fatalf("port %s priority %d window of %v above %v", cd.Port, sud.Priority, sud.Durations[idx], cd.MaxSlot)
			}
			spans = append(spans, s)
		}
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].start < spans[j].end-1e-6 && spans[j].start < spans[i].end-1e-6 {
				t.Fatalf("port %s windows %v and %v overlap", cd.Port, spans[i], spans[j])
			}
		}
	}
}

func slotOf(t *testing.T, cd *CycleDesc, prt int) SlotUseDesc {
	t.Helper()
	for _, sud := range cd.Slots {
		if sud.Priority == prt {
			return sud
		}
	}
	t.Fatalf("port %s has no window for priority %d", cd.Port, prt)
	return SlotUseDesc{}
}

func TestSynthesizeSchedulesEveryEgressPort(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSynthCollector(reg)
	if err != nil {
		t.Fatalf("NewSynthCollector: %v", err)
	}
	syn := NewSynthesizer(WithMetrics(collector))

	sched, err := syn.Synthesize(context.Background(), lineTopo(t), flowList(flowF1, flowF2), nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if len(sched.Cycles) != 3 {
		t.Fatalf("%d cycles, want h1eth0, h3eth0 and sw1p2", len(sched.Cycles))
	}
	for _, cd := range sched.Cycles {
		checkWindows(t, cd)
		// the smallest cycle allowed holds all the traffic, so the objective settles on it
		if !approx(cd.Duration, 100) {
			t.Fatalf("port %s cycle duration %v, want 100", cd.Port, cd.Duration)
		}
		if cd.FirstStart != 0 {
			t.Fatalf("port %s first start %v, want 0", cd.Port, cd.FirstStart)
		}
	}

	shared, ok := sched.Cycle("sw1p2")
	if !ok || len(shared.Slots) != 2 {
		t.Fatalf("sw1p2 cycle = %+v, want windows for priorities 2 and 5", shared)
	}
	for _, prt := range []int{2, 5} {
		if d := slotOf(t, shared, prt).Durations[0]; !approx(d, 20) {
			t.Fatalf("sw1p2 priority %d window %v, want 20", prt, d)
		}
	}
	// higher priority goes first
	if slotOf(t, shared, 5).Starts[0] > slotOf(t, shared, 2).Starts[0] {
		t.Fatalf("priority 2 placed before priority 5 on sw1p2")
	}

	if got := testutil.ToFloat64(collector.Solves.WithLabelValues(outcomeSolved)); got != 1 {
		t.Fatalf("solved count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Ports); got != 3 {
		t.Fatalf("ports gauge = %v, want 3", got)
	}
}

func TestSynthesizeIncrementalKeepsPriorWindows(t *testing.T) {
	syn := NewSynthesizer()
	topo := lineTopo(t)

	prior, err := syn.Synthesize(context.Background(), topo, flowList(flowF1), nil)
	if err != nil {
		t.Fatalf("first Synthesize: %v", err)
	}
	priorShared, _ := prior.Cycle("sw1p2")
	kept := slotOf(t, priorShared, 5)

	sched, err := syn.Synthesize(context.Background(), topo, flowList(flowF1, flowF2), prior)
	if err != nil {
		t.Fatalf("incremental Synthesize: %v", err)
	}
	shared, _ := sched.Cycle("sw1p2")
	checkWindows(t, *shared)

	if !approx(shared.Duration, priorShared.Duration) {
		t.Fatalf("sw1p2 cycle moved from %v to %v", priorShared.Duration, shared.Duration)
	}
	again := slotOf(t, shared, 5)
	if !approx(again.Starts[0], kept.Starts[0]) || !approx(again.Durations[0], kept.Durations[0]) {
		t.Fatalf("priority 5 window moved from %+v to %+v", kept, again)
	}
	if d := slotOf(t, shared, 2).Durations[0]; !approx(d, 20) {
		t.Fatalf("new priority 2 window %v, want 20", d)
	}
	if _, ok := sched.Cycle("h3eth0"); !ok {
		t.Fatalf("new port h3eth0 not scheduled")
	}
}

func TestSynthesizeIncrementalGrownDemandIsUnsatisfiable(t *testing.T) {
	syn := NewSynthesizer()
	topo := lineTopo(t)
	prior, err := syn.Synthesize(context.Background(), topo, flowList(flowF1), nil)
	if err != nil {
		t.Fatalf("first Synthesize: %v", err)
	}

	grown := flowF1
	grown.FramesPerCycle = 3
	if _, err := syn.Synthesize(context.Background(), topo, flowList(grown), prior); !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("err = %v, want ErrUnsatisfiable", err)
	}
}

func TestSynthesizeUnsatisfiable(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSynthCollector(reg)
	if err != nil {
		t.Fatalf("NewSynthCollector: %v", err)
	}
	syn := NewSynthesizer(WithMetrics(collector))

	// 30 frames of 10 microseconds do not fit a window of at most 200
	heavy := flowF1
	heavy.FramesPerCycle = 30
	sched, err := syn.Synthesize(context.Background(), lineTopo(t), flowList(heavy), nil)
	if !errors.Is(err, ErrUnsatisfiable) || sched != nil {
		t.Fatalf("Synthesize = %v, %v, want ErrUnsatisfiable", sched, err)
	}
	if got := testutil.ToFloat64(collector.Solves.WithLabelValues(outcomeUnsat)); got != 1 {
		t.Fatalf("unsatisfiable count = %v, want 1", got)
	}
}

func TestSynthesizeRejectsInvalidInput(t *testing.T) {
	syn := NewSynthesizer()
	stray := FlowDesc{Name: "stray", SrcDev: "h1", DstDev: "h9", Priority: 1, FrameSize: 64, FramesPerCycle: 1}
	if _, err := syn.Synthesize(context.Background(), lineTopo(t), flowList(stray), nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestReplayAcceptsSynthesizedSchedule(t *testing.T) {
	syn := NewSynthesizer()
	topo := lineTopo(t)
	fl := flowList(flowF1, flowF2)
	sched, err := syn.Synthesize(context.Background(), topo, fl, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	cycles, err := syn.Replay(context.Background(), topo, fl, sched)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(cycles) != len(sched.Cycles) {
		t.Fatalf("%d cycles replayed, want %d", len(cycles), len(sched.Cycles))
	}
	for idx, cycle := range cycles {
		if cycle.State() != CycleResolved || cycle.PortName() != sched.Cycles[idx].Port {
			t.Fatalf("cycle %d: port %s state %s", idx, cycle.PortName(), cycle.State())
		}
	}
}

func TestReplayRejectsOverlappingWindows(t *testing.T) {
	syn := NewSynthesizer()
	topo := lineTopo(t)
	fl := flowList(flowF1, flowF2)
	sched, err := syn.Synthesize(context.Background(), topo, fl, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	shared, _ := sched.Cycle("sw1p2")
	for idx := range shared.Slots {
		shared.Slots[idx].Starts[0] = 0
	}
	if _, err := syn.Replay(context.Background(), topo, fl, sched); !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("err = %v, want ErrUnsatisfiable", err)
	}
}

func TestReplayNeedsEveryPort(t *testing.T) {
	syn := NewSynthesizer()
	topo := lineTopo(t)
	fl := flowList(flowF1, flowF2)
	sched, err := syn.Synthesize(context.Background(), topo, fl, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	sched.Cycles = sched.Cycles[1:]
	if _, err := syn.Replay(context.Background(), topo, fl, sched); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSynthesizeSplitsDemandAcrossSlots(t *testing.T) {
	for _, numSlots := range []int{1, 2, 4} {
		syn := NewSynthesizer()
		topo := lineTopoSlots(t, numSlots)
		// each 20 microsecond demand is spread evenly over the slots
		perSlot := 20 / float64(numSlots)

		prior, err := syn.Synthesize(context.Background(), topo, flowList(flowF1), nil)
		if err != nil {
			t.Fatalf("%d slots: first Synthesize: %v", numSlots, err)
		}
		fl := flowList(flowF1, flowF2)
		sched, err := syn.Synthesize(context.Background(), topo, fl, prior)
		if err != nil {
			t.Fatalf("%d slots: incremental Synthesize: %v", numSlots, err)
		}

		for _, stage := range []*ScheduleDesc{prior, sched} {
			for _, cd := range stage.Cycles {
				checkWindows(t, cd)
			}
		}
		shared, ok := sched.Cycle("sw1p2")
		if !ok {
			t.Fatalf("%d slots: sw1p2 not scheduled", numSlots)
		}
		// priority 5 fills the front of the cycle first; priority 2 follows it
		for prt, offset := range map[int]float64{5: 0, 2: 20} {
			sud := slotOf(t, shared, prt)
			if len(sud.Starts) != numSlots || len(sud.Durations) != numSlots {
				t.Fatalf("%d slots: priority %d has %d starts, %d durations", numSlots, prt, len(sud.Starts), len(sud.Durations))
			}
			for idx := 0; idx < numSlots; idx++ {
				start := offset + float64(idx)*perSlot
				if !approx(sud.Starts[idx], start) || !approx(sud.Durations[idx], perSlot) {
					t.Fatalf("%d slots: priority %d slot %d = [%v, +%v], want [%v, +%v]",
						numSlots, prt, idx, sud.Starts[idx], sud.Durations[idx], start, perSlot)
				}
			}
		}

		cycles, err := syn.Replay(context.Background(), topo, fl, sched)
		if err != nil {
			t.Fatalf("%d slots: Replay: %v", numSlots, err)
		}
		if len(cycles) != len(sched.Cycles) {
			t.Fatalf("%d slots: %d cycles replayed, want %d", numSlots, len(cycles), len(sched.Cycles))
		}
	}
}
