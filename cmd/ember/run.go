package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/chazu/ember/image"
	"github.com/chazu/ember/manifest"
	"github.com/chazu/ember/vm"
)

// outcome is the result of running a program's entry function.
type outcome struct {
	Result string
	Status vm.Status
	Err    error
	Steps  uint64
}

// handleRunCommand processes the `ember run` subcommand.
// Usage:
//
//	ember run sums.emb 10
//	ember run sums.yaml "float64 2.5"
func handleRunCommand(args []string, m *manifest.Manifest, out *printer) {
	if len(args) < 1 {
		fatalf(out, "usage: ember run <file> [args...]")
	}
	p, err := readProgram(args[0])
	if err != nil {
		fatalf(out, "%v", err)
	}
	res, err := execute(m, p, args[1:])
	if err != nil {
		fatalf(out, "%v", err)
	}
	report(res, out)
}

// report prints a run's result, or its error and exits non-zero.
func report(res outcome, out *printer) {
	if res.Err != nil {
		out.errorf("%v", res.Err)
		os.Exit(1)
	}
	out.printf("%s\n", out.green(res.Result))
}

// execute loads p into a fresh runtime configured by m and runs its entry
// function. Setup failures are returned as errors; a failed run is
// reported in the outcome.
func execute(m *manifest.Manifest, p *image.Program, argv []string) (outcome, error) {
	args, err := parseArgs(argv)
	if err != nil {
		return outcome{}, err
	}

	rt := vm.NewRuntime(m.RuntimeConfig())
	defer rt.Close()

	prog, err := image.Load(rt.Types, p)
	if err != nil {
		return outcome{}, err
	}
	in := vm.NewInterpreter(rt.NewContext(), prog)
	in.Trace = m.Runtime.Trace

	v, err := in.RunProgram(args...)
	res := outcome{Status: vm.StatusOf(err), Err: err, Steps: in.Steps()}
	if err == nil {
		res.Result = v.String()
		if err := rt.Heap.Unlock(v); err != nil {
			log.Warningf("releasing result %s: %s", v, err)
		}
	}

	stats := rt.Heap.Collect()
	log.Debugf("%s: %d steps, %d live objects, collected %d", p.Name, res.Steps, rt.Heap.Live(), stats.Reclaimed)
	return res, nil
}

// parseArgs turns command-line arguments into values. Plain integers are
// int64; anything else is parsed as a constant such as "float64 2.5".
func parseArgs(argv []string) ([]vm.Value, error) {
	args := make([]vm.Value, len(argv))
	for i, a := range argv {
		if n, err := strconv.ParseInt(a, 0, 64); err == nil {
			args[i] = vm.FromInt64(n)
			continue
		}
		c, err := image.ParseConstant(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		if c.Tag == vm.TagType {
			return nil, fmt.Errorf("argument %d: type arguments are not supported", i+1)
		}
		v, _ := vm.FromBits(c.Tag, c.Bits)
		args[i] = v
	}
	return args, nil
}
