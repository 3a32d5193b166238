package tsnsched

// namer.go builds the names of the unknowns a Cycle contributes to a solving session.
// Every name is a pure function of values fixed before materialization, so two runs
// over the same topology produce the same names, which keeps solver dumps diffable.
//
// Scalars carry the model instance id handed out by the session,
//	cycle<id>Duration, cycle<id>Start
// while per-slot unknowns carry the port name, 1-based priority and 1-based slot index,
//	cycleOfPort<port>prt<p+1>slot<s+1>           (slot start)
//	cycleOfPort<port>prt<p+1>slot<s+1>Duration   (slot duration)
// The two families never overlap since only the scalars begin with "cycle" followed by a digit.

import (
	"strconv"
)

// SlotAttr selects which attribute of a slot an unknown stands for
type SlotAttr int

const (
	SlotStartAttr SlotAttr = iota
	SlotDurationAttr
)

var slotAttrSuffix map[SlotAttr]string = map[SlotAttr]string{SlotStartAttr: "", SlotDurationAttr: "Duration"}

// CycleDurationName names the cycle-duration unknown of the model with the given instance id
func CycleDurationName(instanceID int) string {
	return "cycle" + strconv.Itoa(instanceID) + "Duration"
}

// CycleStartName names the first-cycle-start unknown of the model with the given instance id
func CycleStartName(instanceID int) string {
	return "cycle" + strconv.Itoa(instanceID) + "Start"
}

// SlotVarName names the unknown for one attribute of slot slotIdx of priority prt on a port.
// An empty port name would make every port share names, so callers reject it first.
func SlotVarName(portName string, prt, slotIdx int, attr SlotAttr) string {
	return "cycleOfPort" + portName + "prt" + strconv.Itoa(prt+1) + "slot" + strconv.Itoa(slotIdx+1) + slotAttrSuffix[attr]
}
