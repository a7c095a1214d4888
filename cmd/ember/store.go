package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/chazu/ember/manifest"
	"github.com/chazu/ember/store"
)

// handleStoreCommand processes the `ember store` subcommand.
// Usage:
//
//	ember store put <file>             Add an image or source to the store
//	ember store list                   List stored programs
//	ember store run <hash> [args...]   Run a stored program, journaling the run
//	ember store runs <hash>            Show the run journal of a program
func handleStoreCommand(args []string, m *manifest.Manifest, out *printer) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: ember store [put|list|run|runs] ...")
		fmt.Fprintln(os.Stderr, "  put <file>             Add an image or source to the store")
		fmt.Fprintln(os.Stderr, "  list                   List stored programs")
		fmt.Fprintln(os.Stderr, "  run <hash> [args...]   Run a stored program and journal the run")
		fmt.Fprintln(os.Stderr, "  runs <hash>            Show the run journal of a program")
		os.Exit(1)
	}

	s, err := store.Open(m.StorePath())
	if err != nil {
		fatalf(out, "%v", err)
	}
	defer s.Close()

	switch args[0] {
	case "put":
		if len(args) != 2 {
			fatalf(out, "usage: ember store put <file>")
		}
		handleStorePut(s, args[1], m, out)
	case "list":
		handleStoreList(s, out)
	case "run":
		if len(args) < 2 {
			fatalf(out, "usage: ember store run <hash> [args...]")
		}
		handleStoreRun(s, args[1], args[2:], m, out)
	case "runs":
		if len(args) != 2 {
			fatalf(out, "usage: ember store runs <hash>")
		}
		handleStoreRuns(s, args[1], out)
	default:
		fmt.Fprintf(os.Stderr, "Unknown store subcommand: %s\n", args[0])
		s.Close()
		os.Exit(1)
	}
}

func handleStorePut(s *store.Store, path string, m *manifest.Manifest, out *printer) {
	p, err := readProgram(path)
	if err != nil {
		fatalf(out, "%v", err)
	}
	if err := verifyProgram(m, p); err != nil {
		fatalf(out, "%v", err)
	}
	hash, err := s.Put(p)
	if err != nil {
		fatalf(out, "%v", err)
	}
	out.printf("%s %s\n", hash, out.bold(p.Name))
}

func handleStoreList(s *store.Store, out *printer) {
	entries, err := s.List()
	if err != nil {
		fatalf(out, "%v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d bytes\t%s\n", e.Hash[:12], e.Name, e.Size, e.Added.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

func handleStoreRun(s *store.Store, prefix string, argv []string, m *manifest.Manifest, out *printer) {
	hash, err := s.Resolve(prefix)
	if err != nil {
		fatalf(out, "%v", err)
	}
	p, err := s.Get(hash)
	if err != nil {
		fatalf(out, "%v", err)
	}
	res, err := execute(m, p, argv)
	if err != nil {
		fatalf(out, "%v", err)
	}

	result := res.Result
	if res.Err != nil {
		result = res.Err.Error()
	}
	id, err := s.RecordRun(hash, res.Status, result)
	if err != nil {
		log.Errorf("journaling run of %s: %s", hash, err)
	} else {
		log.Infof("run %s of %s: %s", id, p.Name, res.Status)
	}
	s.Close()
	report(res, out)
}

func handleStoreRuns(s *store.Store, prefix string, out *printer) {
	hash, err := s.Resolve(prefix)
	if err != nil {
		fatalf(out, "%v", err)
	}
	runs, err := s.Runs(hash)
	if err != nil {
		fatalf(out, "%v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Started.Format("2006-01-02 15:04:05"), r.Status, r.Result)
	}
	w.Flush()
}
