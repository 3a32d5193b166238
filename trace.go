package tsnsched

import (
	"github.com/iti/evt/vrtime"
)

// NameType is an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// GateTrace records one gate transition as it executed in virtual time
type GateTrace struct {
	// virtual time of the transition in seconds, with its ticks and priority fields
	Time  float64 `json:"time" yaml:"time"`
	Ticks int64   `json:"ticks" yaml:"ticks"`
	Pri   int64   `json:"pri" yaml:"pri"`

	Port string `json:"port" yaml:"port"`

	// Cycle is 0 for the first cycle
	Cycle    int    `json:"cycle" yaml:"cycle"`
	Priority int    `json:"priority" yaml:"priority"`
	Slot     int    `json:"slot" yaml:"slot"`
	Op       string `json:"op" yaml:"op"`
}

// TraceManager gathers the gate transitions of a replayed schedule. When it is not
// in use every call is a no-op, so callers need not test before recording.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// trace records, by port name, in the order they fired
	Traces map[string][]GateTrace `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[string][]GateTrace)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file.
// An id already present keeps its first entry.
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if !tm.InUse {
		return
	}
	if _, present := tm.NameByID[id]; present {
		return
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
}

// AddTrace stores a trace record under its port
func (tm *TraceManager) AddTrace(trace GateTrace) {
	if !tm.InUse {
		return
	}
	tm.Traces[trace.Port] = append(tm.Traces[trace.Port], trace)
}

// Len is the number of records gathered
func (tm *TraceManager) Len() int {
	n := 0
	for _, traces := range tm.Traces {
		n += len(traces)
	}
	return n
}

// WriteToFile stores the trace in the named file, as yaml or json by extension.
// Nothing is written by an inactive manager.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.InUse {
		return nil
	}
	return writeDesc(filename, tm)
}

// AddGateTrace creates a record of a gate transition from its calling arguments, and stores it
func AddGateTrace(tm *TraceManager, vrt vrtime.Time, port string, cycle int, entry GateEntry) {
	tm.AddTrace(GateTrace{
		Time:     vrt.Seconds(),
		Ticks:    vrt.Ticks(),
		Pri:      vrt.Pri(),
		Port:     port,
		Cycle:    cycle,
		Priority: entry.Priority,
		Slot:     entry.Slot,
		Op:       entry.Op.String(),
	})
}
