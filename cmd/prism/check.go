package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/chazu/prism/compiler/hash"
	"github.com/chazu/prism/manifest"
)

// handleCheckCommand processes the `prism check` subcommand: compile the
// manifest's entry without running it.
// Usage:
//
//	prism check              # project in the current directory
//	prism check -C ../demo   # another project
//	prism check -v           # also print the program hash
func handleCheckCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("prism check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "Print the program hash")
	dir := fs.String("C", ".", "Project directory")
	if err := fs.Parse(args); err != nil {
		return exitCompile
	}

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading manifest: %v\n", err)
		return exitCompile
	}
	if m == nil {
		fmt.Fprintf(stderr, "Error: no %s found\n", manifest.FileName)
		return exitCompile
	}
	configureLogging(m, 0)

	p, code := load(m.EntryPath(), stderr)
	if p == nil {
		return code
	}
	if _, ok := p.Lookup(m.VM.Entry); !ok {
		fmt.Fprintf(stderr, "Error: entry function %s not found\n", m.VM.Entry)
		return exitCompile
	}

	if *verbose {
		sum, err := hash.Program(p)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitCompile
		}
		name := m.Project.Name
		if name == "" {
			name = m.Source.Entry
		}
		fmt.Fprintf(stdout, "Checked %s (%s)\n", name, sum.Short())
	}
	return exitOK
}
