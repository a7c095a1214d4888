package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/ember/image"
	"github.com/chazu/ember/manifest"
	"github.com/chazu/ember/vm"
)

// handleBuildCommand processes the `ember build` subcommand.
// Usage:
//
//	ember build                  # manifest source -> manifest output
//	ember build src.yaml -o p.emb
func handleBuildCommand(args []string, m *manifest.Manifest, out *printer) {
	var src, output string

	// Parse flags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o", "--output":
			if i+1 >= len(args) {
				fatalf(out, "-o requires an output path")
			}
			output = args[i+1]
			i++
		default:
			if src != "" {
				fatalf(out, "build takes one source file, got %s and %s", src, args[i])
			}
			src = args[i]
		}
	}
	if src == "" {
		src = m.SourcePath()
	}
	if output == "" {
		if len(args) > 0 {
			output = strings.TrimSuffix(src, filepath.Ext(src)) + ".emb"
		} else {
			output = m.OutputPath()
		}
	}

	p, err := readSource(src)
	if err != nil {
		fatalf(out, "%v", err)
	}
	if err := verifyProgram(m, p); err != nil {
		fatalf(out, "%v", err)
	}
	if err := image.WriteFile(output, p); err != nil {
		fatalf(out, "%v", err)
	}
	hash, err := image.Hash(p)
	if err != nil {
		fatalf(out, "%v", err)
	}
	log.Infof("built %s from %s", output, src)
	out.printf("%s %s\n", out.bold(output), out.dim(hash))
}

// handleDisasmCommand processes the `ember disasm` subcommand.
func handleDisasmCommand(args []string, out *printer) {
	if len(args) != 1 {
		fatalf(out, "usage: ember disasm <file>")
	}
	p, err := readProgram(args[0])
	if err != nil {
		fatalf(out, "%v", err)
	}
	out.printf("%s", disassemble(p, out))
}

// disassemble renders every function of p with its constant pool.
func disassemble(p *image.Program, out *printer) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "program %s\n", out.bold(p.Name))
	for i, fn := range p.Functions {
		entry := ""
		if i == p.Entry {
			entry = " (entry)"
		}
		fmt.Fprintf(&sb, "\n%s %s%s  registers %d, params %d\n",
			out.dim(fmt.Sprintf("fn%d", i)), out.bold(fn.Name), entry, fn.Registers, fn.Params)
		for j, c := range fn.Constants {
			fmt.Fprintf(&sb, "  %s = %s\n", out.dim(fmt.Sprintf("k%d", j)), c)
		}
		sb.WriteString(vm.Disassemble(fn.Code))
	}
	return sb.String()
}

// readProgram reads a program from an image file or, for .yaml and .yml
// files, builds it from source.
func readProgram(path string) (*image.Program, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return readSource(path)
	}
	return image.ReadFile(path)
}

func readSource(path string) (*image.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	s, err := image.ParseSource(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p, err := s.Build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// verifyProgram loads p against a fresh runtime so that unresolvable
// constants and malformed code fail at build time.
func verifyProgram(m *manifest.Manifest, p *image.Program) error {
	rt := vm.NewRuntime(m.RuntimeConfig())
	defer rt.Close()
	_, err := image.Load(rt.Types, p)
	return err
}
