// Prism CLI - compile and run prism programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/prism/compiler"
	"github.com/chazu/prism/compiler/hash"
	"github.com/chazu/prism/manifest"
	"github.com/chazu/prism/server"
	"github.com/chazu/prism/vm"
)

const version = "0.1.0"

// Exit codes.
const (
	exitOK = iota
	exitCompile
	exitRuntime
	exitAssert
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	verbosity int
	dis       bool
	sum       bool
	trace     bool
	check     bool
	entry     string
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "check":
			return handleCheckCommand(args[1:], stdout, stderr)
		case "lsp":
			return handleLSPCommand(stderr)
		case "version":
			fmt.Fprintf(stdout, "prism %s\n", version)
			return exitOK
		}
	}

	var opts options
	fs := flag.NewFlagSet("prism", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&opts.verbosity, "v", 0, "Log verbosity (0 off)")
	fs.BoolVar(&opts.dis, "dis", false, "Print the disassembly instead of running")
	fs.BoolVar(&opts.sum, "hash", false, "Print the program content hash instead of running")
	fs.BoolVar(&opts.trace, "trace", false, "Trace every executed instruction to stderr")
	fs.BoolVar(&opts.check, "check", false, "Compile only and report diagnostics")
	fs.StringVar(&opts.entry, "entry", "", "Function to run (default from prism.toml, else main)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: prism [options] [file.prism]\n")
		fmt.Fprintf(stderr, "       prism check [-v] [-C dir]\n")
		fmt.Fprintf(stderr, "       prism lsp\n\n")
		fmt.Fprintf(stderr, "Compiles and runs a prism program. Without a file, the entry of the\n")
		fmt.Fprintf(stderr, "nearest prism.toml is used.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitCompile
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(stderr, "Error loading manifest: %v\n", err)
		return exitCompile
	}
	if m == nil {
		m = manifest.Defaults()
	}
	configureLogging(m, opts.verbosity)

	path := fs.Arg(0)
	if path == "" {
		path = m.EntryPath()
	}
	p, code := load(path, stderr)
	if p == nil {
		return code
	}

	switch {
	case opts.check:
		return exitOK
	case opts.dis:
		fmt.Fprint(stdout, p.Disassemble())
		return exitOK
	case opts.sum:
		sum, err := hash.Program(p)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitCompile
		}
		fmt.Fprintln(stdout, sum)
		return exitOK
	}

	entry := opts.entry
	if entry == "" {
		entry = m.VM.Entry
	}
	if opts.trace {
		m.VM.Trace = true
	}
	return execute(p, entry, m.MachineConfig(stdout, stderr), stderr)
}

// configureLogging enables the commonlog backend when a verbosity is set
// on the command line or in the manifest. Diagnostics are printed by the
// CLI itself either way.
func configureLogging(m *manifest.Manifest, verbosity int) {
	if verbosity == 0 {
		verbosity = m.Log.Verbosity
	}
	if verbosity <= 0 {
		return
	}
	var path *string
	if m.Log.File != "" {
		path = &m.Log.File
	}
	commonlog.Configure(verbosity, path)
}

// load compiles a source file. Warnings and errors are reported to
// stderr; on failure it returns the exit code.
func load(path string, stderr io.Writer) (*vm.Program, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, exitCompile
	}

	name := filepath.Base(path)
	p, res, err := compiler.CompileSource(name, string(data))
	if res != nil {
		for _, d := range res.Diagnostics {
			fmt.Fprintf(stderr, "%s:%s\n", name, d)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s:%v\n", name, err)
		return nil, exitCompile
	}
	return p, exitOK
}

func execute(p *vm.Program, entry string, cfg vm.Config, stderr io.Writer) int {
	err := vm.New(cfg).Run(p, entry)
	switch {
	case err == nil:
		return exitOK
	case vm.IsKind(err, vm.AssertionFailed):
		fmt.Fprintf(stderr, "Assertion failed: %v\n", err)
		return exitAssert
	case errors.Is(err, vm.ErrNoEntry), errors.Is(err, vm.ErrStorageTooLarge):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCompile
	default:
		fmt.Fprintf(stderr, "Runtime error: %v\n", err)
		return exitRuntime
	}
}

func handleLSPCommand(stderr io.Writer) int {
	commonlog.Configure(1, nil)
	if err := server.NewLSP(version).Run(); err != nil {
		fmt.Fprintf(stderr, "LSP error: %v\n", err)
		return exitRuntime
	}
	return exitOK
}
