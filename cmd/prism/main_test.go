package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunSource(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hello.prism", `void main() { print "hello\n" }`)
	code, out, errOut := runCLI(t, path)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "hello\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestRunEntryFlag(t *testing.T) {
	path := writeFile(t, t.TempDir(), "two.prism", `
void main() { print 1 }
void other() { print 2 }
`)
	code, out, _ := runCLI(t, "-entry", "other", path)
	if code != exitOK || out != "2" {
		t.Errorf("exit %d, stdout %q", code, out)
	}
	code, _, errOut := runCLI(t, "-entry", "missing", path)
	if code != exitCompile || !strings.Contains(errOut, "entry function not found") {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		src  string
		code int
		msg  string
	}{
		{"compile error", `void main() { print nope }`, exitCompile, "bad.prism:1:21: reference to unknown variable nope"},
		{"parse error", `void main( {`, exitCompile, "bad.prism:1:"},
		{"assertion", `void main() { assert(1 == 2) }`, exitAssert, "Assertion failed"},
		{"runtime", `void main() { int z = 0 print 1 / z }`, exitRuntime, "division by zero"},
	}
	for _, tt := range tests {
		path := writeFile(t, dir, "bad.prism", tt.src)
		code, _, errOut := runCLI(t, path)
		if code != tt.code {
			t.Errorf("%s: exit %d, want %d (%s)", tt.name, code, tt.code, errOut)
		}
		if !strings.Contains(errOut, tt.msg) {
			t.Errorf("%s: stderr %q, want %q", tt.name, errOut, tt.msg)
		}
	}
}

func TestRunReportsWarnings(t *testing.T) {
	path := writeFile(t, t.TempDir(), "warn.prism", "int f() { print 1 }\nvoid main() { f() }")
	code, out, errOut := runCLI(t, path)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "1" {
		t.Errorf("stdout = %q", out)
	}
	if !strings.Contains(errOut, "warn.prism:1:1: warning: missing return at end of f") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestDisassembleAndHash(t *testing.T) {
	path := writeFile(t, t.TempDir(), "p.prism", `void main() { print 1 + 2 }`)

	code, out, _ := runCLI(t, "-dis", path)
	if code != exitOK || !strings.Contains(out, "main:") || !strings.Contains(out, "ADD.int") {
		t.Errorf("disassembly (exit %d):\n%s", code, out)
	}

	code, out, _ = runCLI(t, "-hash", path)
	if code != exitOK || len(strings.TrimSpace(out)) != 64 {
		t.Errorf("hash (exit %d) = %q", code, out)
	}
}

func TestTrace(t *testing.T) {
	path := writeFile(t, t.TempDir(), "p.prism", `void main() { print 7 }`)
	code, out, errOut := runCLI(t, "-trace", path)
	if code != exitOK || out != "7" {
		t.Fatalf("exit %d, stdout %q", code, out)
	}
	if !strings.Contains(errOut, "PUSHI 7") || !strings.Contains(errOut, "PRINT.int") {
		t.Errorf("trace = %q", errOut)
	}
}

func TestHashIgnoresLayout(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.prism", "int sq(int x) { return x * x }\nvoid main() { for x in [1, 2, 3] { print sq(x) } }")
	b := writeFile(t, dir, "b.prism", `
int sq(int x) {
    return x * x
}

void main() {
    for x in [1, 2, 3] {
        print sq(x)
    }
}
`)
	_, first, _ := runCLI(t, "-hash", a)
	_, second, _ := runCLI(t, "-hash", b)
	if first == "" || first != second {
		t.Errorf("hashes %q and %q differ", first, second)
	}
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "prism.toml", `
[project]
name = "demo"

[source]
entry = "src/app.prism"
`)
	writeFile(t, dir, "src/app.prism", `void main() { print "checked" }`)

	code, out, errOut := runCLI(t, "check", "-v", "-C", dir)
	if code != exitOK {
		t.Fatalf("check: exit %d: %s", code, errOut)
	}
	// The program itself must not run.
	if !strings.HasPrefix(out, "Checked demo (") || len(out) != len("Checked demo (123456789abc)\n") {
		t.Errorf("stdout = %q", out)
	}
}

func TestCheckCommandMissingEntryFunction(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "prism.toml", "[vm]\nentry-function = \"start\"\n")
	writeFile(t, dir, "main.prism", `void main() { print 1 }`)

	code, _, errOut := runCLI(t, "check", "-C", dir)
	if code != exitCompile || !strings.Contains(errOut, "entry function start not found") {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}

func TestCheckCommandWithoutManifest(t *testing.T) {
	code, _, errOut := runCLI(t, "check", "-C", t.TempDir())
	if code != exitCompile {
		t.Errorf("exit %d", code)
	}
	// A prism.toml above the temp dir would be found instead.
	if !strings.Contains(errOut, "no prism.toml") && !strings.Contains(errOut, "Error") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestMissingFile(t *testing.T) {
	code, _, errOut := runCLI(t, filepath.Join(t.TempDir(), "nope.prism"))
	if code != exitCompile || !strings.Contains(errOut, "Error") {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	if code != exitOK || out != "prism "+version+"\n" {
		t.Errorf("exit %d, stdout %q", code, out)
	}
}
