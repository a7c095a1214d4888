// Ember CLI - builds, inspects, runs and stores ember program images
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/chazu/ember/manifest"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("ember.cli")

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string { return strconv.Itoa(int(*v)) }

func (v *verbosity) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if b {
		*v++
	}
	return nil
}

func (v *verbosity) IsBoolFlag() bool { return true }

func main() {
	var verbose verbosity
	flag.Var(&verbose, "v", "Verbose output (repeat for more)")
	configPath := flag.String("config", "", "Path to ember.toml or ember.yaml (default: search upward)")
	noColor := flag.Bool("no-color", false, "Disable coloured output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ember [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  build [src.yaml] [-o out.emb]   Assemble a program source into an image\n")
		fmt.Fprintf(os.Stderr, "  disasm <file>                   Disassemble an image or source\n")
		fmt.Fprintf(os.Stderr, "  run <file> [args...]            Run the entry function with int64 arguments\n")
		fmt.Fprintf(os.Stderr, "  store put <file>                Add an image to the program store\n")
		fmt.Fprintf(os.Stderr, "  store list                      List stored programs\n")
		fmt.Fprintf(os.Stderr, "  store run <hash> [args...]      Run a stored program and journal the run\n")
		fmt.Fprintf(os.Stderr, "  store runs <hash>               Show the run journal of a program\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	m, err := loadManifest(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	configureLogging(m, int(verbose))
	out := newPrinter(!*noColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "build":
		handleBuildCommand(args[1:], m, out)
	case "disasm":
		handleDisasmCommand(args[1:], out)
	case "run":
		handleRunCommand(args[1:], m, out)
	case "store":
		handleStoreCommand(args[1:], m, out)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

// loadManifest loads the named manifest, or searches upward from the
// working directory. Without a manifest the defaults apply.
func loadManifest(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

// configureLogging applies the manifest's log section; each -v raises the
// verbosity by one.
func configureLogging(m *manifest.Manifest, verbose int) {
	level := m.Log.Verbosity + verbose
	if file := m.LogFile(); file != "" {
		commonlog.Configure(level, &file)
	} else {
		commonlog.Configure(level, nil)
	}
	if m.Path != "" {
		log.Debugf("using manifest %s", m.Path)
	}
}

func fatalf(out *printer, format string, args ...any) {
	out.errorf(format, args...)
	os.Exit(1)
}
