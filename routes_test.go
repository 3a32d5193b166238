package tsnsched

import (
	"errors"
	"testing"

	"golang.org/x/exp/slices"
)

func TestEgressPortsFollowShortestPath(t *testing.T) {
	rt := CreateRouter(lineTopo(t))

	tests := []struct {
		src, dst string
		want     []string
	}{
		{src: "h1", dst: "h2", want: []string{"h1eth0", "sw1p2"}},
		{src: "h2", dst: "h1", want: []string{"h2eth0", "sw1p1"}},
		{src: "h3", dst: "h2", want: []string{"h3eth0", "sw1p2"}},
		{src: "sw1", dst: "h3", want: []string{"sw1p3"}},
	}
	for _, tc := range tests {
		got, err := rt.EgressPorts(tc.src, tc.dst)
		if err != nil {
			t.Fatalf("EgressPorts(%s, %s): %v", tc.src, tc.dst, err)
		}
		if !slices.Equal(got, tc.want) {
			t.Fatalf("EgressPorts(%s, %s) = %v, want %v", tc.src, tc.dst, got, tc.want)
		}
	}
	if got := rt.ShowPath("h1", "h3"); got != "h1,sw1,h3" {
		t.Fatalf("ShowPath(h1, h3) = %q", got)
	}
}

func TestDevicePathReusesReverseTree(t *testing.T) {
	rt := CreateRouter(lineTopo(t))
	if _, err := rt.DevicePath("h2", "h1"); err != nil {
		t.Fatalf("DevicePath(h2, h1): %v", err)
	}
	got, err := rt.DevicePath("h1", "h2")
	if err != nil {
		t.Fatalf("DevicePath(h1, h2): %v", err)
	}
	if !slices.Equal(got, []string{"h1", "sw1", "h2"}) {
		t.Fatalf("DevicePath(h1, h2) = %v", got)
	}
	if len(rt.cachedSP) != 1 {
		t.Fatalf("%d trees cached, want the one rooted at h2", len(rt.cachedSP))
	}
}

func TestDevicePathUnreachable(t *testing.T) {
	tc := lineTopo(t)
	tc.AddDevice("h4", HostDev)
	rt := CreateRouter(tc)

	if _, err := rt.DevicePath("h1", "h4"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("isolated host: err = %v, want ErrNotFound", err)
	}
	if _, err := rt.DevicePath("h1", "nowhere"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown host: err = %v, want ErrNotFound", err)
	}
}
