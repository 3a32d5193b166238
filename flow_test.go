package tsnsched

import (
	"errors"
	"strings"
	"testing"
)

func TestCreateFlowsRoutesAndAggregates(t *testing.T) {
	topo := lineTopo(t)
	flows, err := CreateFlows(topo, flowList(flowF1, flowF2), CreateRouter(topo))
	if err != nil {
		t.Fatalf("CreateFlows: %v", err)
	}
	if len(flows) != 2 {
		t.Fatalf("%d flows, want 2", len(flows))
	}
	if got := flows[0].TxTime(100); got != 20 {
		t.Fatalf("f1 TxTime = %v, want 20", got)
	}

	demand := AggregateDemand(topo, flows)
	if len(demand) != 3 {
		t.Fatalf("demand on %d ports, want h1eth0, h3eth0 and sw1p2", len(demand))
	}
	shared := demand["sw1p2"]
	if shared == nil || shared.Need[5] != 20 || shared.Need[2] != 20 {
		t.Fatalf("sw1p2 demand = %+v, want 20 at priorities 5 and 2", shared)
	}
	if prts := shared.Priorities(); len(prts) != 2 || prts[0] != 2 || prts[1] != 5 {
		t.Fatalf("sw1p2 priorities = %v, want [2 5]", prts)
	}

	if got := SelectFlows(flows, "port", "sw1p2"); len(got) != 2 {
		t.Fatalf("%d flows through sw1p2, want 2", len(got))
	}
	if got := SelectFlows(flows, "srcdev", "h3"); len(got) != 1 || got[0].Name != "f2" {
		t.Fatalf("flows from h3 = %v, want f2", got)
	}
}

func TestCreateFlowsRejectsBadFlows(t *testing.T) {
	topo := lineTopo(t)
	bad := []FlowDesc{
		{Name: "toswitch", SrcDev: "h1", DstDev: "sw1", Priority: 1, FrameSize: 64, FramesPerCycle: 1},
		{Name: "self", SrcDev: "h1", DstDev: "h1", Priority: 1, FrameSize: 64, FramesPerCycle: 1},
		{Name: "empty", SrcDev: "h1", DstDev: "h2", Priority: 1, FrameSize: 0, FramesPerCycle: 1},
		{Name: "highprt", SrcDev: "h1", DstDev: "h2", Priority: 8, FrameSize: 64, FramesPerCycle: 1},
	}
	_, err := CreateFlows(topo, flowList(bad...), CreateRouter(topo))
	if !errors.Is(err, ErrConfiguration) || !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("err = %v, want configuration and range errors", err)
	}
	for _, name := range []string{"toswitch", "self", "empty", "highprt"} {
		if !strings.Contains(err.Error(), `"`+name+`"`) {
			t.Fatalf("error %q does not name flow %q", err, name)
		}
	}
}

func TestGenerateFlowsStaysInBounds(t *testing.T) {
	topo := lineTopo(t)
	fl, err := GenerateFlows(topo, 25, "bounds", DefaultFlowGenCfg)
	if err != nil {
		t.Fatalf("GenerateFlows: %v", err)
	}
	if len(fl.Flows) != 25 {
		t.Fatalf("%d flows drawn, want 25", len(fl.Flows))
	}

	for idx, fd := range fl.Flows {
		if fd.SrcDev == fd.DstDev || fd.SrcDev == "sw1" || fd.DstDev == "sw1" {
			t.Fatalf("flow %d has endpoints %s, %s", idx, fd.SrcDev, fd.DstDev)
		}
		if fd.Priority < 0 || fd.Priority >= DefaultNumOfPrts ||
			fd.FrameSize < minFrameSize || fd.FrameSize > maxFrameSize ||
			fd.FramesPerCycle < 1 || fd.FramesPerCycle > DefaultFlowGenCfg.MaxFrames {
			t.Fatalf("flow %d out of bounds: %+v", idx, fd)
		}
	}
	if _, err := CreateFlows(topo, fl, CreateRouter(topo)); err != nil {
		t.Fatalf("generated flows rejected: %v", err)
	}
}

func TestGenerateFlowsNeedsTwoHosts(t *testing.T) {
	tc := CreateTopoCfg("lonely")
	tc.AddDevice("h1", HostDev)
	if _, err := GenerateFlows(tc, 1, "lonely", DefaultFlowGenCfg); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}
