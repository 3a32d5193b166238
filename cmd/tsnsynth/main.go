package main

// tsnsynth synthesizes a TSN gate schedule for a topology and a flow list, or replays
// a schedule synthesized earlier, and optionally plays the gates forward in virtual time.
//
//	tsnsynth -topo topo.yaml -flows flows.yaml -out sched.yaml
//	tsnsynth -topo topo.yaml -gen-flows 20 -out sched.yaml
//	tsnsynth -topo topo.yaml -flows flows.yaml -prior sched.yaml -out sched2.yaml
//	tsnsynth -topo topo.yaml -flows flows.yaml -replay sched.yaml -trace gates.yaml -cycles 4

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/iti/evt/evtm"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iti/tsnsched"
	"github.com/iti/tsnsched/internal/logging"
)

func main() {
	topoFile := flag.String("topo", "", "topology description (yaml or json)")
	flowsFile := flag.String("flows", "", "flow list (yaml or json)")
	genFlows := flag.Int("gen-flows", 0, "draw this many flows instead of reading -flows")
	genStream := flag.String("gen-stream", "tsnsynth", "name of the random stream flows are drawn from")
	priorFile := flag.String("prior", "", "earlier schedule whose ports keep their windows")
	outFile := flag.String("out", "", "where to write the synthesized schedule")
	replayFile := flag.String("replay", "", "schedule to check instead of synthesizing one")
	traceFile := flag.String("trace", "", "where to write the gate trace")
	cycles := flag.Int("cycles", 2, "number of cycles played when writing a trace")
	metricsFile := flag.String("metrics", "", "where to write solve metrics, in Prometheus text format")

	flag.Parse()

	logger := logging.NewFromEnv()
	ctx := context.Background()

	if err := run(ctx, logger, options{
		topoFile: *topoFile, flowsFile: *flowsFile, genFlows: *genFlows, genStream: *genStream,
		priorFile: *priorFile, outFile: *outFile, replayFile: *replayFile,
		traceFile: *traceFile, cycles: *cycles, metricsFile: *metricsFile,
	}); err != nil {
		logger.Error(ctx, "tsnsynth failed", logging.Err(err))
		if errors.Is(err, tsnsched.ErrUnsatisfiable) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type options struct {
	topoFile, flowsFile   string
	genFlows              int
	genStream             string
	priorFile, outFile    string
	replayFile, traceFile string
	cycles                int
	metricsFile           string
}

func run(ctx context.Context, logger logging.Logger, opts options) error {
	if len(opts.topoFile) == 0 {
		return fmt.Errorf("%w: -topo is required", tsnsched.ErrConfiguration)
	}
	if len(opts.flowsFile) == 0 && opts.genFlows == 0 {
		return fmt.Errorf("%w: one of -flows and -gen-flows is required", tsnsched.ErrConfiguration)
	}
	if len(opts.replayFile) == 0 && len(opts.outFile) == 0 {
		return fmt.Errorf("%w: -out is required unless replaying", tsnsched.ErrConfiguration)
	}
	if _, err := tsnsched.CheckReadableFiles([]string{opts.topoFile, opts.flowsFile, opts.priorFile, opts.replayFile}); err != nil {
		return err
	}
	if _, err := tsnsched.CheckOutputFiles([]string{opts.outFile, opts.traceFile, opts.metricsFile}); err != nil {
		return err
	}

	topo, err := tsnsched.ReadTopoCfg(opts.topoFile, tsnsched.UseYAML(opts.topoFile), []byte{})
	if err != nil {
		return err
	}

	var fl *tsnsched.FlowList
	if opts.genFlows > 0 {
		fl, err = tsnsched.GenerateFlows(topo, opts.genFlows, opts.genStream, tsnsched.DefaultFlowGenCfg)
	} else {
		fl, err = tsnsched.ReadFlowList(opts.flowsFile, tsnsched.UseYAML(opts.flowsFile), []byte{})
	}
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := tsnsched.NewSynthCollector(reg)
	if err != nil {
		return err
	}
	syn := tsnsched.NewSynthesizer(tsnsched.WithLogger(logger), tsnsched.WithMetrics(collector))

	var sched *tsnsched.ScheduleDesc
	var resolved []*tsnsched.Cycle
	if len(opts.replayFile) > 0 {
		sched, err = tsnsched.ReadScheduleDesc(opts.replayFile, tsnsched.UseYAML(opts.replayFile), []byte{})
		if err != nil {
			return err
		}
		if resolved, err = syn.Replay(ctx, topo, fl, sched); err != nil {
			return err
		}
	} else {
		var prior *tsnsched.ScheduleDesc
		if len(opts.priorFile) > 0 {
			prior, err = tsnsched.ReadScheduleDesc(opts.priorFile, tsnsched.UseYAML(opts.priorFile), []byte{})
			if err != nil {
				return err
			}
		}
		if sched, err = syn.Synthesize(ctx, topo, fl, prior); err != nil {
			return err
		}
		if err := sched.WriteToFile(opts.outFile); err != nil {
			return err
		}
		logger.Info(ctx, "schedule written", logging.String("file", opts.outFile), logging.Int("ports", len(sched.Cycles)))
	}

	if len(opts.traceFile) > 0 {
		if resolved == nil {
			for idx := range sched.Cycles {
				cycle, err := sched.Cycles[idx].CreateCycle()
				if err != nil {
					return err
				}
				resolved = append(resolved, cycle)
			}
		}
		if err := writeTrace(ctx, logger, sched.Name, resolved, opts.cycles, opts.traceFile); err != nil {
			return err
		}
	}

	if len(opts.metricsFile) > 0 {
		if err := collector.WriteToTextfile(opts.metricsFile); err != nil {
			return err
		}
	}
	return nil
}

// writeTrace plays the gates of the resolved cycles for n cycles and stores what fired
func writeTrace(ctx context.Context, logger logging.Logger, name string, cycles []*tsnsched.Cycle, n int, filename string) error {
	tm := tsnsched.CreateTraceManager(name, true)
	gs, err := tsnsched.CreateGateScheduler(cycles, tm)
	if err != nil {
		return err
	}

	evtMgr := evtm.New()
	posted := gs.ScheduleCycles(evtMgr, n)
	evtMgr.Run(tsnsched.PlayHorizon(cycles, n))

	logger.Info(ctx, "gates played",
		logging.Int("posted", posted), logging.Int("fired", gs.Fired()), logging.String("file", filename))
	return tm.WriteToFile(filename)
}
