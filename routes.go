package tsnsched

// routes.go finds the egress ports a flow crosses on its way through the topology.
//
// The topology is converted into a graph from gonum, one node per device and one unit-weight
// edge per link, so a shortest path minimizes the number of hops. After a device path is
// computed, each consecutive device pair is mapped back to the link joining them, and the
// port on the sending side of that link is the egress port the flow is scheduled on.
//
// Dijkstra computes a whole tree of shortest paths from its root. Trees are cached per
// source device, and a path from dst to src is reversed when only that tree is cached.

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Router answers routing queries over one topology
type Router struct {
	topo      *TopoCfg
	devToID   map[string]int64
	idToDev   map[int64]string
	connGraph graph.Graph

	// egress[a][b] is the port of device a cabled to device b
	egress map[string]map[string]string

	// shortest-path trees, keyed by the id of the root device
	cachedSP map[int64]path.Shortest
}

// CreateRouter builds the connection graph of topo. The topology must have been validated.
func CreateRouter(topo *TopoCfg) *Router {
	rt := &Router{
		topo:     topo,
		devToID:  make(map[string]int64),
		idToDev:  make(map[int64]string),
		egress:   make(map[string]map[string]string),
		cachedSP: make(map[int64]path.Shortest),
	}

	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for idx, dd := range topo.Devices {
		id := int64(idx)
		rt.devToID[dd.Name] = id
		rt.idToDev[id] = dd.Name
		connGraph.AddNode(simple.Node(id))
	}

	for _, ld := range topo.Links {
		pa, _ := topo.Port(ld.PortA)
		pb, _ := topo.Port(ld.PortB)
		rt.addEgress(pa.Device, pb.Device, pa.Name)
		rt.addEgress(pb.Device, pa.Device, pb.Name)

		// represent the link (with weight 1) the way the graph module represents it
		weightedEdge := simple.WeightedEdge{F: simple.Node(rt.devToID[pa.Device]), T: simple.Node(rt.devToID[pb.Device]), W: 1.0}
		connGraph.SetWeightedEdge(weightedEdge)
	}
	rt.connGraph = connGraph
	return rt
}

// addEgress remembers the first port of from cabled to to; parallel links are not used
func (rt *Router) addEgress(from, to, port string) {
	if _, present := rt.egress[from]; !present {
		rt.egress[from] = make(map[string]string)
	}
	if _, present := rt.egress[from][to]; !present {
		rt.egress[from][to] = port
	}
}

// getSPTree returns the shortest path tree rooted in device from, computing and caching it if needed
func (rt *Router) getSPTree(from int64) path.Shortest {
	spTree, present := rt.cachedSP[from]
	if present {
		return spTree
	}
	spTree = path.DijkstraFrom(simple.Node(from), rt.connGraph)
	rt.cachedSP[from] = spTree
	return spTree
}

// DevicePath returns the names of the devices on a shortest path from src to dst, inclusive
func (rt *Router) DevicePath(src, dst string) ([]string, error) {
	srcID, okS := rt.devToID[src]
	dstID, okD := rt.devToID[dst]
	if !okS || !okD {
		return nil, fmt.Errorf("%w: no device %q or %q", ErrNotFound, src, dst)
	}

	var nodeSeq []graph.Node
	reversed := false
	if _, present := rt.cachedSP[srcID]; !present {
		if spTree, present := rt.cachedSP[dstID]; present {
			// by symmetry the path from dst is the one we want, backwards
			nodeSeq, _ = spTree.To(srcID)
			reversed = true
		}
	}
	if !reversed {
		nodeSeq, _ = rt.getSPTree(srcID).To(dstID)
	}
	if len(nodeSeq) == 0 {
		return nil, fmt.Errorf("%w: %q cannot reach %q", ErrNotFound, src, dst)
	}

	route := make([]string, len(nodeSeq))
	for idx, node := range nodeSeq {
		pos := idx
		if reversed {
			pos = len(nodeSeq) - 1 - idx
		}
		route[pos] = rt.idToDev[node.ID()]
	}
	return route, nil
}

// EgressPorts returns, in order, the ports a frame from src to dst leaves through
func (rt *Router) EgressPorts(src, dst string) ([]string, error) {
	route, err := rt.DevicePath(src, dst)
	if err != nil {
		return nil, err
	}
	ports := make([]string, 0, len(route)-1)
	for idx := 0; idx < len(route)-1; idx++ {
		ports = append(ports, rt.egress[route[idx]][route[idx+1]])
	}
	return ports, nil
}

// ShowPath lists the names of the devices on the path from src to dst, comma separated
func (rt *Router) ShowPath(src, dst string) string {
	route, err := rt.DevicePath(src, dst)
	if err != nil {
		return ""
	}
	return strings.Join(route, ",")
}
