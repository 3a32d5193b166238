package tsnsched

// flow.go turns flow descriptions into routed flows, and adds up the transmission
// time each egress port owes each priority every cycle.

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Flow is a FlowDesc with its route through the topology resolved
type Flow struct {
	FlowID         int
	Name           string
	Src            string
	Dst            string
	Priority       int
	FrameSize      int
	FramesPerCycle int

	// devices visited, src and dst included
	Route []string

	// ports the flow leaves through, in the order visited
	Egress []string
}

// matchParam reports whether the flow has the given value for the named attribute
func (flow *Flow) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return flow.Name == attrbValue
	case "srcdev":
		return flow.Src == attrbValue
	case "dstdev":
		return flow.Dst == attrbValue
	case "port":
		return slices.Contains(flow.Egress, attrbValue)
	}
	return false
}

// SelectFlows returns the flows whose attribute attrbName (one of name, srcdev, dstdev, port)
// equals attrbValue
func SelectFlows(flows []*Flow, attrbName, attrbValue string) []*Flow {
	rtn := make([]*Flow, 0)
	for _, flow := range flows {
		if flow.matchParam(attrbName, attrbValue) {
			rtn = append(rtn, flow)
		}
	}
	return rtn
}

// TxTime is the time, in microseconds, the flow's frames of one cycle occupy a link of
// bndwdth Mbps
func (flow *Flow) TxTime(bndwdth float64) float64 {
	bits := float64(flow.FramesPerCycle) * float64(flow.FrameSize) * 8.0
	return bits / bndwdth
}

// CreateFlows checks every flow description against the topology and routes it.
// All problems found are reported together.
func CreateFlows(topo *TopoCfg, fl *FlowList, rt *Router) ([]*Flow, error) {
	errs := []error{}
	flows := make([]*Flow, 0, len(fl.Flows))
	names := make(map[string]bool)

	for idx, fd := range fl.Flows {
		if len(fd.Name) > 0 && names[fd.Name] {
			errs = append(errs, fmt.Errorf("%w: flow %q listed twice", ErrConfiguration, fd.Name))
			continue
		}
		names[fd.Name] = true

		bad := false
		for _, dev := range []string{fd.SrcDev, fd.DstDev} {
			dd, present := topo.Device(dev)
			if !present || dd.DevType != HostDev.String() {
				errs = append(errs, fmt.Errorf("%w: flow %q endpoint %q is not a host", ErrConfiguration, fd.Name, dev))
				bad = true
			}
		}
		if fd.SrcDev == fd.DstDev {
			errs = append(errs, fmt.Errorf("%w: flow %q starts and ends at %q", ErrConfiguration, fd.Name, fd.SrcDev))
			bad = true
		}
		if fd.FrameSize <= 0 || fd.FramesPerCycle <= 0 {
			errs = append(errs, fmt.Errorf("%w: flow %q sends no bytes", ErrConfiguration, fd.Name))
			bad = true
		}
		if fd.Priority < 0 {
			errs = append(errs, fmt.Errorf("%w: flow %q priority %d", ErrOutOfRange, fd.Name, fd.Priority))
			bad = true
		}
		if bad {
			continue
		}

		route, err := rt.DevicePath(fd.SrcDev, fd.DstDev)
		if err != nil {
			errs = append(errs, fmt.Errorf("flow %q: %w", fd.Name, err))
			continue
		}
		egress, _ := rt.EgressPorts(fd.SrcDev, fd.DstDev)

		flow := &Flow{FlowID: idx + 1, Name: fd.Name, Src: fd.SrcDev, Dst: fd.DstDev,
			Priority: fd.Priority, FrameSize: fd.FrameSize, FramesPerCycle: fd.FramesPerCycle,
			Route: route, Egress: egress}

		// the priority must name a traffic class of every port it crosses
		for _, port := range egress {
			pd, _ := topo.Port(port)
			numPrts := pd.NumPrts
			if numPrts == 0 {
				numPrts = DefaultNumOfPrts
			}
			if flow.Priority >= numPrts {
				errs = append(errs, fmt.Errorf("%w: flow %q priority %d, port %q has %d", ErrOutOfRange,
					fd.Name, fd.Priority, port, numPrts))
				bad = true
			}
		}
		if !bad {
			flows = append(flows, flow)
		}
	}

	if err := ReportErrs(errs); err != nil {
		return nil, err
	}
	return flows, nil
}

// PortDemand is the transmission time, in microseconds per cycle, each priority needs on a port
type PortDemand struct {
	Port string
	Need map[int]float64
}

// Priorities lists the priorities with positive demand, ascending
func (pdm *PortDemand) Priorities() []int {
	prts := make([]int, 0, len(pdm.Need))
	for prt := range pdm.Need {
		prts = append(prts, prt)
	}
	slices.Sort(prts)
	return prts
}

// AggregateDemand adds up the demand of every flow on every port it leaves through.
// The result is keyed by port name, and only ports some flow crosses appear.
func AggregateDemand(topo *TopoCfg, flows []*Flow) map[string]*PortDemand {
	demand := make(map[string]*PortDemand)
	for _, flow := range flows {
		for _, port := range flow.Egress {
			pd, _ := topo.Port(port)
			pdm, present := demand[port]
			if !present {
				pdm = &PortDemand{Port: port, Need: make(map[int]float64)}
				demand[port] = pdm
			}
			pdm.Need[flow.Priority] += flow.TxTime(pd.Bndwdth)
		}
	}
	return demand
}
