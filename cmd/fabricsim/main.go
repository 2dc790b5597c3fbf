// fabricsim runs a small demonstration fabric: a set of traffic generators
// feed flow-controlled input buffers, a crossbar arbitrates among them, and
// a sink drains the output. Measurements are recorded into a SQLite file.
package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/fabricsim/bwmonitor"
	"github.com/sarchlab/fabricsim/datarecording"
	"github.com/sarchlab/fabricsim/monitoring"
	"github.com/sarchlab/fabricsim/sim"
	"github.com/sarchlab/fabricsim/timing"
	"github.com/sarchlab/fabricsim/traffic"
	"github.com/sarchlab/fabricsim/xbar"
)

var (
	flagNumInputs    int
	flagNumPackets   int
	flagPacketBytes  int
	flagBufCapacity  int
	flagBytesPerTick int
	flagPolicy       string
	flagSeed         int64
	flagDBPath       string
	flagMonitorPort  int
	flagLogEvents    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fabricsim",
		Short: "Simulate a crossbar fabric under synthetic traffic",
		Run: func(_ *cobra.Command, _ []string) {
			run()
		},
	}

	rootCmd.Flags().IntVar(&flagNumInputs, "inputs", 4,
		"number of input ports")
	rootCmd.Flags().IntVar(&flagNumPackets, "packets", 100,
		"packets each generator sends")
	rootCmd.Flags().IntVar(&flagPacketBytes, "packet-bytes", 64,
		"payload bytes per packet")
	rootCmd.Flags().IntVar(&flagBufCapacity, "buffer-capacity", 4,
		"slots per input buffer")
	rootCmd.Flags().IntVar(&flagBytesPerTick, "bytes-per-tick", 8,
		"transfer rate of every buffer port")
	rootCmd.Flags().StringVar(&flagPolicy, "policy", "roundrobin",
		"arbitration policy: roundrobin, weighted, priority, or random")
	rootCmd.Flags().Int64Var(&flagSeed, "seed", 1,
		"seed for the random arbitration policy")
	rootCmd.Flags().StringVar(&flagDBPath, "db", "",
		"path of the recording database, without extension")
	rootCmd.Flags().IntVar(&flagMonitorPort, "monitor-port", 0,
		"start the monitoring server on this port")
	rootCmd.Flags().BoolVar(&flagLogEvents, "log-events", false,
		"print every dispatched event to stderr")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func run() {
	engine := timing.NewSerialEngine()
	if flagLogEvents {
		engine.AcceptHook(timing.NewEventLogger(
			log.New(os.Stderr, "", 0)))
	}

	recorder := datarecording.New(flagDBPath)

	inBufs := make([]*sim.Buffer, flagNumInputs)
	gens := make([]*traffic.Generator, flagNumInputs)
	ups := make([]sim.Upstream, flagNumInputs)

	for i := 0; i < flagNumInputs; i++ {
		inBufs[i] = sim.MakeBufferBuilder().
			WithScheduler(engine).
			WithCapacity(flagBufCapacity).
			WithPutBytesPerTick(flagBytesPerTick).
			WithGetBytesPerTick(flagBytesPerTick).
			Build(fmt.Sprintf("Fabric.InBuf[%d]", i))
		ups[i] = inBufs[i]

		gens[i] = traffic.MakeGeneratorBuilder().
			WithScheduler(engine).
			WithDownstream(inBufs[i]).
			WithUniformPackets(flagNumPackets, 8, flagPacketBytes).
			Build(fmt.Sprintf("Fabric.Gen[%d]", i))
	}

	outBuf := sim.MakeBufferBuilder().
		WithScheduler(engine).
		WithCapacity(flagBufCapacity * flagNumInputs).
		WithPutBytesPerTick(flagBytesPerTick).
		WithGetBytesPerTick(flagBytesPerTick).
		Build("Fabric.OutBuf")

	crossbar := xbar.MakeBuilder().
		WithScheduler(engine).
		WithUpstreams(ups...).
		WithDownstreams(outBuf).
		WithPolicy(makePolicy()).
		Build("Fabric.Xbar")

	sink := traffic.MakeSinkBuilder().
		WithScheduler(engine).
		WithUpstream(outBuf).
		WithExpectedPackets(flagNumPackets * flagNumInputs).
		Build("Fabric.Sink")

	counter := bwmonitor.NewCounter(
		engine, sim.HookPosBufGet, "Fabric.OutBuf.ReadTraffic")
	outBuf.AcceptHook(counter)

	bwMonitor := bwmonitor.MakeMonitorBuilder().
		WithEngine(engine).
		WithRecorder(recorder).
		WithInterval(100).
		WithHorizon(1000000).
		Build("Fabric.BWMonitor")

	if flagMonitorPort > 0 {
		monitor := monitoring.NewMonitor()
		monitor.WithPortNumber(flagMonitorPort)
		monitor.RegisterEngine(engine)

		for _, b := range inBufs {
			monitor.RegisterElement(b)
		}
		monitor.RegisterElement(outBuf)
		monitor.RegisterElement(crossbar)
		monitor.RegisterCounter(counter)

		monitor.StartServer()
	}

	bwMonitor.AddCounter(counter)
	bwMonitor.Start()
	sink.Done().AddCallback(func(*sim.Deferred) {
		bwMonitor.Stop()
	})
	crossbar.Start()
	sink.Start()
	for _, g := range gens {
		g.Start()
	}

	if err := engine.Run(); err != nil {
		log.Panic(err)
	}

	engine.Finished()

	reportResults(engine, crossbar, sink)
}

func makePolicy() xbar.Policy {
	switch flagPolicy {
	case "roundrobin":
		return xbar.NewRoundRobinPolicy(flagNumInputs, 1)
	case "weighted":
		weights := make([]int, flagNumInputs)
		for i := range weights {
			weights[i] = i + 1
		}

		return xbar.NewWeightedRoundRobinPolicy(flagNumInputs, 1, weights)
	case "priority":
		priorities := make([]int, flagNumInputs)
		for i := range priorities {
			priorities[i] = i
		}

		return xbar.NewFixedPriorityPolicy(flagNumInputs, 1, priorities)
	case "random":
		return xbar.NewRandomPolicy(rand.New(rand.NewSource(flagSeed)))
	default:
		log.Panicf("unknown arbitration policy %q", flagPolicy)
		return nil
	}
}

func reportResults(
	engine timing.Engine,
	crossbar *xbar.Crossbar,
	sink *traffic.Sink,
) {
	fmt.Printf("Simulation finished at tick %d\n", engine.CurrentTime())
	fmt.Printf("Sink received %d packets, %d bytes\n",
		sink.ReceivedPackets(), sink.ReceivedBytes())

	for in := 0; in < crossbar.NumInPorts(); in++ {
		first, last, ok := crossbar.ActivitySpan(in, 0)
		if !ok {
			continue
		}

		fmt.Printf(
			"Input %d: %d transfers, %d bits, active ticks [%d, %d]\n",
			in, crossbar.TotalTransfers(in, 0), crossbar.TotalBits(in, 0),
			first, last)
	}
}
