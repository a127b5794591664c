// Package hash computes content hashes of compiled programs.
//
// The hash covers the canonical CBOR encoding of a program, so two sources
// that differ only in layout, comments or declaration spelling that the
// code generator erases produce the same hash.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chazu/prism/compiler"
	"github.com/chazu/prism/vm"
)

// HashVersion is mixed into every hash. Bumping it invalidates all
// existing hashes.
const HashVersion byte = 1

// Sum is a SHA-256 content hash.
type Sum [32]byte

func (s Sum) String() string {
	return hex.EncodeToString(s[:])
}

// Short returns the first twelve hex digits.
func (s Sum) Short() string {
	return s.String()[:12]
}

// Parse reads a hash printed by String.
func Parse(text string) (Sum, error) {
	var s Sum
	b, err := hex.DecodeString(text)
	if err != nil {
		return s, fmt.Errorf("hash: %w", err)
	}
	if len(b) != len(s) {
		return s, fmt.Errorf("hash: %d bytes, want %d", len(b), len(s))
	}
	copy(s[:], b)
	return s, nil
}

// Program hashes a compiled program.
func Program(p *vm.Program) (Sum, error) {
	data, err := vm.EncodeCanonical(p)
	if err != nil {
		return Sum{}, err
	}
	h := sha256.New()
	h.Write([]byte{HashVersion})
	h.Write(data)
	var s Sum
	copy(s[:], h.Sum(nil))
	return s, nil
}

// Source compiles source text and hashes the result.
func Source(filename, source string) (Sum, error) {
	p, _, err := compiler.CompileSource(filename, source)
	if err != nil {
		return Sum{}, err
	}
	return Program(p)
}
