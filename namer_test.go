package tsnsched

import "testing"

func TestVariableNames(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{CycleDurationName(4), "cycle4Duration"},
		{CycleStartName(4), "cycle4Start"},
		{SlotVarName("sw1eth0", 0, 0, SlotStartAttr), "cycleOfPortsw1eth0prt1slot1"},
		{SlotVarName("sw1eth0", 7, 2, SlotDurationAttr), "cycleOfPortsw1eth0prt8slot3Duration"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Fatalf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestSlotNamesDistinctAcrossAttrs(t *testing.T) {
	seen := map[string]bool{}
	for prt := 0; prt < DefaultNumOfPrts; prt++ {
		for slot := 0; slot < 2; slot++ {
			for _, attr := range []SlotAttr{SlotStartAttr, SlotDurationAttr} {
				name := SlotVarName("A", prt, slot, attr)
				if seen[name] {
					t.Fatalf("name %q produced twice", name)
				}
				seen[name] = true
			}
		}
	}
}
