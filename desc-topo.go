package tsnsched

// desc-topo.go holds the serializable descriptions tsnsched reads and writes:
// the topology (devices, egress ports, links), the list of flows crossing it, and
// the synthesized schedule. Every description is written as yaml or json depending
// on the extension of the file name, and read back with the matching Read function.
// Time values are in microseconds, bandwidths in Mbps (so bits per microsecond).

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// DevType enumerates the kinds of device a topology holds
type DevType int

const (
	HostDev DevType = iota
	SwitchDev
)

var devTypeToStr map[DevType]string = map[DevType]string{HostDev: "host", SwitchDev: "switch"}
var devTypeFromStr map[string]DevType = map[string]DevType{"host": HostDev, "switch": SwitchDev}

func (dt DevType) String() string {
	return devTypeToStr[dt]
}

// DeviceDesc names a device and says whether it is an end host or a bridge
type DeviceDesc struct {
	Name    string `json:"name" yaml:"name"`
	DevType string `json:"devtype" yaml:"devtype"`
}

// PortDesc describes an egress port. Each port owns one transmission cycle,
// and the cycle's bounds are given here.
type PortDesc struct {
	Name   string `json:"name" yaml:"name"`
	Device string `json:"device" yaml:"device"`

	// Bndwdth is the line rate, in Mbps
	Bndwdth float64 `json:"bndwdth" yaml:"bndwdth"`

	// bounds on the cycle duration, and the first cycle's start
	UpperCycle float64 `json:"uppercycle" yaml:"uppercycle"`
	LowerCycle float64 `json:"lowercycle" yaml:"lowercycle"`
	FirstStart float64 `json:"firststart" yaml:"firststart"`

	// MaxSlot is the longest window any one slot may hold the gate open
	MaxSlot float64 `json:"maxslot" yaml:"maxslot"`

	// zero selects the defaults, DefaultNumOfPrts and DefaultNumOfSlots
	NumPrts  int `json:"numprts,omitempty" yaml:"numprts,omitempty"`
	NumSlots int `json:"numslots,omitempty" yaml:"numslots,omitempty"`
}

// LinkDesc joins two ports with a full-duplex cable. A frame moving from the device of
// PortA to the device of PortB leaves through PortA, and the reverse through PortB.
type LinkDesc struct {
	PortA string `json:"porta" yaml:"porta"`
	PortB string `json:"portb" yaml:"portb"`
}

// TopoCfg describes the network the schedule is synthesized for
type TopoCfg struct {
	Name    string       `json:"name" yaml:"name"`
	Devices []DeviceDesc `json:"devices" yaml:"devices"`
	Ports   []PortDesc   `json:"ports" yaml:"ports"`
	Links   []LinkDesc   `json:"links" yaml:"links"`
}

// CreateTopoCfg is a constructor
func CreateTopoCfg(name string) *TopoCfg {
	tc := new(TopoCfg)
	tc.Name = name
	tc.Devices = make([]DeviceDesc, 0)
	tc.Ports = make([]PortDesc, 0)
	tc.Links = make([]LinkDesc, 0)
	return tc
}

// AddDevice includes a device of the given type
func (tc *TopoCfg) AddDevice(name string, devType DevType) {
	tc.Devices = append(tc.Devices, DeviceDesc{Name: name, DevType: devType.String()})
}

// AddPort includes an egress port
func (tc *TopoCfg) AddPort(pd PortDesc) {
	tc.Ports = append(tc.Ports, pd)
}

// Connect links the two named ports
func (tc *TopoCfg) Connect(portA, portB string) {
	tc.Links = append(tc.Links, LinkDesc{PortA: portA, PortB: portB})
}

// Device looks up a device description by name
func (tc *TopoCfg) Device(name string) (DeviceDesc, bool) {
	idx := slices.IndexFunc(tc.Devices, func(dd DeviceDesc) bool { return dd.Name == name })
	if idx < 0 {
		return DeviceDesc{}, false
	}
	return tc.Devices[idx], true
}

// Port looks up a port description by name
func (tc *TopoCfg) Port(name string) (PortDesc, bool) {
	idx := slices.IndexFunc(tc.Ports, func(pd PortDesc) bool { return pd.Name == name })
	if idx < 0 {
		return PortDesc{}, false
	}
	return tc.Ports[idx], true
}

// Validate checks names for uniqueness, that every port sits on a known device,
// every link joins two known ports of different devices, and that no port is cabled twice.
// All problems found are reported together.
func (tc *TopoCfg) Validate() error {
	errs := []error{}

	devs := make(map[string]bool)
	for _, dd := range tc.Devices {
		if len(dd.Name) == 0 {
			errs = append(errs, fmt.Errorf("%w: device without a name", ErrConfiguration))
			continue
		}
		if devs[dd.Name] {
			errs = append(errs, fmt.Errorf("%w: device %q listed twice", ErrConfiguration, dd.Name))
		}
		if _, present := devTypeFromStr[dd.DevType]; !present {
			errs = append(errs, fmt.Errorf("%w: device %q has unknown type %q", ErrConfiguration, dd.Name, dd.DevType))
		}
		devs[dd.Name] = true
	}

	portDev := make(map[string]string)
	for _, pd := range tc.Ports {
		if len(pd.Name) == 0 {
			errs = append(errs, fmt.Errorf("%w: port without a name", ErrConfiguration))
			continue
		}
		if _, present := portDev[pd.Name]; present {
			errs = append(errs, fmt.Errorf("%w: port %q listed twice", ErrConfiguration, pd.Name))
		}
		if !devs[pd.Device] {
			errs = append(errs, fmt.Errorf("%w: port %q on unknown device %q", ErrConfiguration, pd.Name, pd.Device))
		}
		if !(pd.Bndwdth > 0) {
			errs = append(errs, fmt.Errorf("%w: port %q bandwidth %v not positive", ErrConfiguration, pd.Name, pd.Bndwdth))
		}
		portDev[pd.Name] = pd.Device
	}

	cabled := make(map[string]bool)
	for _, ld := range tc.Links {
		devA, okA := portDev[ld.PortA]
		devB, okB := portDev[ld.PortB]
		if !okA || !okB {
			errs = append(errs, fmt.Errorf("%w: link %s-%s names an unknown port", ErrConfiguration, ld.PortA, ld.PortB))
			continue
		}
		if devA == devB {
			errs = append(errs, fmt.Errorf("%w: link %s-%s loops back to device %q", ErrConfiguration, ld.PortA, ld.PortB, devA))
		}
		for _, p := range []string{ld.PortA, ld.PortB} {
			if cabled[p] {
				errs = append(errs, fmt.Errorf("%w: port %q cabled twice", ErrConfiguration, p))
			}
			cabled[p] = true
		}
	}
	return ReportErrs(errs)
}

// CreateCycle builds the unsolved Cycle owned by the port
func (pd *PortDesc) CreateCycle() (*Cycle, error) {
	cycle, err := CreateCycle(pd.Name, pd.UpperCycle, pd.LowerCycle, pd.FirstStart, pd.MaxSlot)
	if err != nil {
		return nil, fmt.Errorf("port %q: %w", pd.Name, err)
	}
	if pd.NumPrts > 0 {
		if err := cycle.SetNumOfPrts(pd.NumPrts); err != nil {
			return nil, fmt.Errorf("port %q: %w", pd.Name, err)
		}
	}
	if pd.NumSlots > 0 {
		if err := cycle.SetNumOfSlots(pd.NumSlots); err != nil {
			return nil, fmt.Errorf("port %q: %w", pd.Name, err)
		}
	}
	return cycle, nil
}

// WriteToFile stores the TopoCfg in the named file, as yaml or json by extension
func (tc *TopoCfg) WriteToFile(filename string) error {
	return writeDesc(filename, tc)
}

// ReadTopoCfg deserializes a TopoCfg from dict, or from the named file when dict is empty
func ReadTopoCfg(filename string, useYAML bool, dict []byte) (*TopoCfg, error) {
	tc := new(TopoCfg)
	if err := readDesc(filename, useYAML, dict, tc); err != nil {
		return nil, err
	}
	return tc, nil
}

// FlowDesc describes a stream of frames between two hosts. Each cycle it sends
// FramesPerCycle frames of FrameSize bytes, at 802.1Q priority Priority.
type FlowDesc struct {
	Name           string `json:"name" yaml:"name"`
	SrcDev         string `json:"srcdev" yaml:"srcdev"`
	DstDev         string `json:"dstdev" yaml:"dstdev"`
	Priority       int    `json:"priority" yaml:"priority"`
	FrameSize      int    `json:"framesize" yaml:"framesize"`
	FramesPerCycle int    `json:"framespercycle" yaml:"framespercycle"`
}

// FlowList is the set of flows a schedule must carry
type FlowList struct {
	Name  string     `json:"name" yaml:"name"`
	Flows []FlowDesc `json:"flows" yaml:"flows"`
}

// CreateFlowList is a constructor
func CreateFlowList(name string) *FlowList {
	fl := new(FlowList)
	fl.Name = name
	fl.Flows = make([]FlowDesc, 0)
	return fl
}

// AddFlow includes a flow
func (fl *FlowList) AddFlow(fd FlowDesc) {
	fl.Flows = append(fl.Flows, fd)
}

// WriteToFile stores the FlowList in the named file, as yaml or json by extension
func (fl *FlowList) WriteToFile(filename string) error {
	return writeDesc(filename, fl)
}

// ReadFlowList deserializes a FlowList from dict, or from the named file when dict is empty
func ReadFlowList(filename string, useYAML bool, dict []byte) (*FlowList, error) {
	fl := new(FlowList)
	if err := readDesc(filename, useYAML, dict, fl); err != nil {
		return nil, err
	}
	return fl, nil
}

// SlotUseDesc is the persisted form of the windows of one used priority
type SlotUseDesc struct {
	Priority  int       `json:"priority" yaml:"priority"`
	Starts    []float64 `json:"starts" yaml:"starts"`
	Durations []float64 `json:"durations" yaml:"durations"`
}

// CycleDesc is the persisted form of a resolved Cycle
type CycleDesc struct {
	Port       string        `json:"port" yaml:"port"`
	UpperCycle float64       `json:"uppercycle" yaml:"uppercycle"`
	LowerCycle float64       `json:"lowercycle" yaml:"lowercycle"`
	FirstStart float64       `json:"firststart" yaml:"firststart"`
	MaxSlot    float64       `json:"maxslot" yaml:"maxslot"`
	NumPrts    int           `json:"numprts" yaml:"numprts"`
	NumSlots   int           `json:"numslots" yaml:"numslots"`
	Duration   float64       `json:"duration" yaml:"duration"`
	Slots      []SlotUseDesc `json:"slots" yaml:"slots"`
}

// DescribeCycle captures the concrete half of a cycle. A cycle whose duration
// is not yet known cannot be described.
func DescribeCycle(cycle *Cycle) (CycleDesc, error) {
	if !cycle.CycleDurationKnown() {
		return CycleDesc{}, fmt.Errorf("%w: cycle of port %q has no duration yet", ErrInvalidState, cycle.PortName())
	}
	cd := CycleDesc{
		Port:       cycle.PortName(),
		UpperCycle: cycle.UpperBoundCycleTime(),
		LowerCycle: cycle.LowerBoundCycleTime(),
		FirstStart: cycle.FirstCycleStart(),
		MaxSlot:    cycle.MaximumSlotDuration(),
		NumPrts:    cycle.NumOfPrts(),
		NumSlots:   cycle.NumOfSlots(),
		Duration:   cycle.CycleDuration(),
		Slots:      make([]SlotUseDesc, 0),
	}
	for _, prt := range cycle.UsedPriorities() {
		use := cycle.slotsUsed[prt]
		cd.Slots = append(cd.Slots, SlotUseDesc{
			Priority:  prt,
			Starts:    append([]float64{}, use.starts...),
			Durations: append([]float64{}, use.durations...),
		})
	}
	return cd, nil
}

// CreateCycle rebuilds a Cycle from its persisted form, with every recorded
// window in place and the duration known. It is ready to be materialized and bound.
func (cd *CycleDesc) CreateCycle() (*Cycle, error) {
	pd := PortDesc{Name: cd.Port, UpperCycle: cd.UpperCycle, LowerCycle: cd.LowerCycle,
		FirstStart: cd.FirstStart, MaxSlot: cd.MaxSlot, NumPrts: cd.NumPrts, NumSlots: cd.NumSlots}
	cycle, err := pd.CreateCycle()
	if err != nil {
		return nil, err
	}
	if err := cycle.SetCycleDuration(cd.Duration); err != nil {
		return nil, fmt.Errorf("port %q: %w", cd.Port, err)
	}
	for _, sud := range cd.Slots {
		if err := cycle.RecordSlotUsage(sud.Priority, sud.Starts, sud.Durations); err != nil {
			return nil, fmt.Errorf("port %q: %w", cd.Port, err)
		}
	}
	return cycle, nil
}

// ScheduleDesc is a synthesized schedule: one cycle per egress port that carries traffic
type ScheduleDesc struct {
	Name   string      `json:"name" yaml:"name"`
	Cycles []CycleDesc `json:"cycles" yaml:"cycles"`
}

// CreateScheduleDesc is a constructor
func CreateScheduleDesc(name string) *ScheduleDesc {
	sd := new(ScheduleDesc)
	sd.Name = name
	sd.Cycles = make([]CycleDesc, 0)
	return sd
}

// Cycle finds the persisted cycle of the named port
func (sd *ScheduleDesc) Cycle(port string) (*CycleDesc, bool) {
	if sd == nil {
		return nil, false
	}
	idx := slices.IndexFunc(sd.Cycles, func(cd CycleDesc) bool { return cd.Port == port })
	if idx < 0 {
		return nil, false
	}
	return &sd.Cycles[idx], true
}

// WriteToFile stores the ScheduleDesc in the named file, as yaml or json by extension
func (sd *ScheduleDesc) WriteToFile(filename string) error {
	return writeDesc(filename, sd)
}

// ReadScheduleDesc deserializes a ScheduleDesc from dict, or from the named file when dict is empty
func ReadScheduleDesc(filename string, useYAML bool, dict []byte) (*ScheduleDesc, error) {
	sd := new(ScheduleDesc)
	if err := readDesc(filename, useYAML, dict, sd); err != nil {
		return nil, err
	}
	return sd, nil
}

// UseYAML reports whether the file name's extension selects yaml
func UseYAML(filename string) bool {
	pathExt := path.Ext(filename)
	return pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml"
}

// writeDesc serializes desc to filename, selecting json or yaml from its extension
func writeDesc(filename string, desc any) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if UseYAML(filename) {
		bytes, merr = yaml.Marshal(desc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(desc, "", "\t")
	} else {
		return fmt.Errorf("%w: cannot tell the format of %q from its extension", ErrConfiguration, filename)
	}
	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0o644)
}

// readDesc deserializes dict into desc; dict is read from filename when empty
func readDesc(filename string, useYAML bool, dict []byte, desc any) error {
	var err error

	// read from the file only if the byte slice is empty
	if len(dict) == 0 {
		fileInfo, serr := os.Stat(filename)
		if serr != nil || fileInfo.IsDir() {
			return fmt.Errorf("%w: %s does not exist or cannot be read", ErrNotFound, filename)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return err
		}
	}

	if useYAML {
		err = yaml.Unmarshal(dict, desc)
	} else {
		err = json.Unmarshal(dict, desc)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}
	return nil
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that every
// argument filename can be written.
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for permitted access to all the
// argument filenames, optionally checking also for the existence
// of those files for the purposes of reading them. Empty names are skipped.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		if len(name) == 0 {
			continue
		}

		// the directory holding the file must exist
		directory, _ := filepath.Split(name)
		if len(directory) == 0 {
			directory = "."
		}
		if _, err := os.Stat(directory); err != nil {
			errs = append(errs, err)
			continue
		}

		if checkExistence {
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) == 0 {
		return true, nil
	}
	return false, errors.Join(ErrConfiguration, ReportErrs(errs))
}
