package tsnsched

import "testing"

// lineTopo builds three hosts around one switch:
//
//	h1 --- sw1 --- h2
//	        |
//	        h3
//
// Every link runs at 100 Mbps, so a 125 byte frame takes 10 microseconds.
func lineTopo(t *testing.T) *TopoCfg {
	t.Helper()
	return lineTopoSlots(t, 0)
}

// lineTopoSlots is lineTopo with numSlots windows per priority on every port, 0 for the default
func lineTopoSlots(t *testing.T, numSlots int) *TopoCfg {
	t.Helper()
	tc := CreateTopoCfg("line")
	for _, host := range []string{"h1", "h2", "h3"} {
		tc.AddDevice(host, HostDev)
	}
	tc.AddDevice("sw1", SwitchDev)

	port := func(name, dev string) PortDesc {
		return PortDesc{Name: name, Device: dev, Bndwdth: 100, UpperCycle: 1000, LowerCycle: 100, MaxSlot: 200, NumSlots: numSlots}
	}
	for _, pd := range []PortDesc{
		port("h1eth0", "h1"), port("h2eth0", "h2"), port("h3eth0", "h3"),
		port("sw1p1", "sw1"), port("sw1p2", "sw1"), port("sw1p3", "sw1"),
	} {
		tc.AddPort(pd)
	}
	tc.Connect("h1eth0", "sw1p1")
	tc.Connect("sw1p2", "h2eth0")
	tc.Connect("sw1p3", "h3eth0")

	if err := tc.Validate(); err != nil {
		t.Fatalf("fixture topology invalid: %v", err)
	}
	return tc
}

// f1 needs 20 microseconds per cycle at priority 5, f2 the same at priority 2.
// Both leave the switch through sw1p2.
var (
	flowF1 = FlowDesc{Name: "f1", SrcDev: "h1", DstDev: "h2", Priority: 5, FrameSize: 125, FramesPerCycle: 2}
	flowF2 = FlowDesc{Name: "f2", SrcDev: "h3", DstDev: "h2", Priority: 2, FrameSize: 250, FramesPerCycle: 1}
)

func flowList(flows ...FlowDesc) *FlowList {
	fl := CreateFlowList("test")
	for _, fd := range flows {
		fl.AddFlow(fd)
	}
	return fl
}
