package hash

import (
	"strings"
	"testing"
)

func mustHash(t *testing.T, src string) Sum {
	t.Helper()
	s, err := Source("test.prism", src)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return s
}

func TestHashIgnoresLayout(t *testing.T) {
	a := mustHash(t, `void main() { print 1 + 2 }`)
	b := mustHash(t, `
// same program, different layout
void main() {
	print 1 +
		2;
}
`)
	if a != b {
		t.Errorf("hashes differ: %s vs %s", a, b)
	}
}

func TestHashDistinguishesPrograms(t *testing.T) {
	sources := []string{
		`void main() { print 1 }`,
		`void main() { print 2 }`,
		`void main() { print "1" }`,
		`void main() { print 1.0 }`,
		`void start() { print 1 }`,
		`int g void main() { print 1 }`,
	}
	seen := make(map[Sum]string)
	for _, src := range sources {
		s := mustHash(t, src)
		if prev, dup := seen[s]; dup {
			t.Errorf("%q and %q hash the same", prev, src)
		}
		seen[s] = src
	}
}

func TestHashIsStable(t *testing.T) {
	src := `
int a(int x) { return x }
int b(int x) { return a(x) + 1 }
void main() { print b(1) print a(2) print "s" }
`
	first := mustHash(t, src)
	for i := 0; i < 10; i++ {
		if s := mustHash(t, src); s != first {
			t.Fatalf("run %d: %s, want %s", i, s, first)
		}
	}
}

func TestSumText(t *testing.T) {
	s := mustHash(t, `void main() { print 1 }`)
	text := s.String()
	if len(text) != 64 || strings.ToLower(text) != text {
		t.Errorf("String() = %q", text)
	}
	if !strings.HasPrefix(text, s.Short()) || len(s.Short()) != 12 {
		t.Errorf("Short() = %q", s.Short())
	}
	back, err := Parse(text)
	if err != nil || back != s {
		t.Errorf("Parse(%q) = %s, %v", text, back, err)
	}
	if _, err := Parse("abcd"); err == nil {
		t.Error("short hash accepted")
	}
	if _, err := Parse(strings.Repeat("zz", 32)); err == nil {
		t.Error("non-hex accepted")
	}
}

func TestHashCompileError(t *testing.T) {
	if _, err := Source("bad.prism", `void main() { print nope }`); err == nil {
		t.Error("want compile error")
	}
}
