package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sunmin89/bazel/internal/eval"
	"github.com/sunmin89/bazel/internal/eventbus"
	"github.com/sunmin89/bazel/internal/node"
	"github.com/sunmin89/bazel/internal/otel"
	"github.com/sunmin89/bazel/internal/state"
)

const rootUsage = `skyeval — incremental evaluation engine tools

USAGE:
  skyeval <command> [flags]

COMMANDS:
  bench            Evaluate a synthetic layered graph and report timings
  help             Show help for any command
`

const benchUsage = `bench FLAGS:
  -bench.layers <n>        Number of graph layers (default: 4)
  -bench.width <n>         Nodes per layer (default: 64)
  -bench.fanout <n>        Dependencies per node, at most width (default: 8)
  -eval.parallelism <n>    Worker count; 0 means GOMAXPROCS (default: 0)
  -otel.endpoint <addr>    OTLP collector endpoint
  -otel.service <name>     OpenTelemetry service name (default: skyeval)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("skyeval", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "bench":
		return cmdBench(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "bench":
		fmt.Print(benchUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdBench(args []string) error {
	layers := 4
	width := 64
	fanout := 8
	parallelism := 0
	otelEndpoint := ""
	otelService := "skyeval"

	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.IntVar(&layers, "bench.layers", layers, "Number of graph layers")
	fs.IntVar(&width, "bench.width", width, "Nodes per layer")
	fs.IntVar(&fanout, "bench.fanout", fanout, "Dependencies per node")
	fs.IntVar(&parallelism, "eval.parallelism", parallelism, "Worker count")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, benchUsage)
		return err
	}
	if layers < 1 || width < 1 {
		return fmt.Errorf("-bench.layers and -bench.width must be at least 1")
	}
	if fanout < 1 || fanout > width {
		return fmt.Errorf("-bench.fanout must be between 1 and -bench.width")
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	ev := eval.New(eval.WithParallelism(parallelism))
	defer ev.Close()
	ev.Register("synth", synthFunc{width: width, fanout: fanout})
	ev.Register("bench-root", rootFunc{layer: layers - 1, width: width})

	start := time.Now()
	value, record, err := ev.Evaluate(context.Background(), benchRootKey{})
	if err != nil {
		return fmt.Errorf("bench evaluation: %w", err)
	}
	elapsed := time.Since(start)

	log.Printf("evaluated %d nodes in %s", layers*width+1, elapsed)
	log.Printf("root value: %d", value)
	log.Printf("root deps: %d keys in %d groups", record.NumElements(), record.NumGroups())
	return nil
}

// synthKey identifies one node of the synthetic layered graph.
type synthKey struct {
	layer, index int
}

func (k synthKey) Kind() string   { return "synth" }
func (k synthKey) String() string { return fmt.Sprintf("synth:%d/%d", k.layer, k.index) }

// synthFunc computes a synthetic node: layer zero nodes are leaves carrying
// their index, every other node requests fanout nodes of the previous layer
// as one dependency group and sums them.
type synthFunc struct {
	width, fanout int
}

func (f synthFunc) Compute(key node.Key) eval.Computation {
	k := key.(synthKey)
	return &sumComputation{deps: f.depsOf(k), seed: int64(k.index)}
}

func (f synthFunc) depsOf(k synthKey) []node.Key {
	if k.layer == 0 {
		return nil
	}
	group := make([]node.Key, f.fanout)
	for j := range f.fanout {
		group[j] = synthKey{layer: k.layer - 1, index: (k.index + j) % f.width}
	}
	return group
}

// benchRootKey is the single sink node depending on the whole top layer.
type benchRootKey struct{}

func (benchRootKey) Kind() string   { return "bench-root" }
func (benchRootKey) String() string { return "bench-root" }

type rootFunc struct {
	layer, width int
}

func (f rootFunc) Compute(node.Key) eval.Computation {
	group := make([]node.Key, f.width)
	for i := range f.width {
		group[i] = synthKey{layer: f.layer, index: i}
	}
	return &sumComputation{deps: group}
}

// sumComputation requests its dependency group, if any, and sums the
// resolved values. A leaf's first step is terminal.
type sumComputation struct {
	deps []node.Key
	sum  int64
	seed int64
}

func (c *sumComputation) Step(ctx context.Context, tasks state.Tasks) (state.StateMachine, error) {
	if len(c.deps) == 0 {
		c.sum = c.seed
		return nil, nil
	}
	for _, dep := range c.deps {
		tasks.Lookup(dep, func(v node.Value) { c.sum += v.(int64) })
	}
	return nil, nil
}

func (c *sumComputation) Result() node.Value { return c.sum }
