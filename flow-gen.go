package tsnsched

// flow-gen.go draws synthetic flow lists, for exercising the synthesizer on topologies
// that come without a workload. Each list draws from its own rngstream stream.

import (
	"fmt"

	"github.com/iti/rngstream"
)

// smallest and largest Ethernet frame, in bytes
const (
	minFrameSize = 64
	maxFrameSize = 1518
)

// FlowGenCfg bounds what GenerateFlows may draw
type FlowGenCfg struct {
	// priorities are drawn uniformly from [0, NumPrts)
	NumPrts int

	// frames per cycle are drawn uniformly from [1, MaxFrames]
	MaxFrames int
}

// DefaultFlowGenCfg draws over all 802.1Q priorities, up to 4 frames per cycle
var DefaultFlowGenCfg = FlowGenCfg{NumPrts: DefaultNumOfPrts, MaxFrames: 4}

// drawInt returns an integer uniformly from [lo, hi]
func drawInt(rng *rngstream.RngStream, lo, hi int) int {
	v := lo + int(rng.RandU01()*float64(hi-lo+1))
	if v > hi {
		v = hi
	}
	return v
}

// GenerateFlows draws n flows between distinct hosts of topo
func GenerateFlows(topo *TopoCfg, n int, streamName string, cfg FlowGenCfg) (*FlowList, error) {
	hosts := make([]string, 0)
	for _, dd := range topo.Devices {
		if dd.DevType == HostDev.String() {
			hosts = append(hosts, dd.Name)
		}
	}
	if len(hosts) < 2 {
		return nil, fmt.Errorf("%w: topology %q has %d hosts, need two", ErrConfiguration, topo.Name, len(hosts))
	}
	if cfg.NumPrts < 1 || cfg.MaxFrames < 1 {
		return nil, fmt.Errorf("%w: flow generator needs a priority and a frame", ErrConfiguration)
	}

	rng := rngstream.New(streamName)
	fl := CreateFlowList(streamName)
	for idx := 0; idx < n; idx++ {
		src := drawInt(rng, 0, len(hosts)-1)

		// draw among the other hosts
		dst := drawInt(rng, 0, len(hosts)-2)
		if dst >= src {
			dst += 1
		}

		fl.AddFlow(FlowDesc{
			Name:           fmt.Sprintf("%s-%d", streamName, idx+1),
			SrcDev:         hosts[src],
			DstDev:         hosts[dst],
			Priority:       drawInt(rng, 0, cfg.NumPrts-1),
			FrameSize:      drawInt(rng, minFrameSize, maxFrameSize),
			FramesPerCycle: drawInt(rng, 1, cfg.MaxFrames),
		})
	}
	return fl, nil
}
