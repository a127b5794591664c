package server

import (
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix_SimpleWord(t *testing.T) {
	text := "print total"
	pos := protocol.Position{Line: 0, Character: 11}
	prefix := extractPrefix(text, pos)
	if prefix != "total" {
		t.Errorf("extractPrefix = %q, want %q", prefix, "total")
	}
}

func TestExtractPrefix_MidWord(t *testing.T) {
	text := "print total"
	pos := protocol.Position{Line: 0, Character: 8}
	prefix := extractPrefix(text, pos)
	if prefix != "to" {
		t.Errorf("extractPrefix = %q, want %q", prefix, "to")
	}
}

func TestExtractPrefix_EmptyLine(t *testing.T) {
	prefix := extractPrefix("", protocol.Position{Line: 0, Character: 0})
	if prefix != "" {
		t.Errorf("extractPrefix = %q, want empty string", prefix)
	}
}

func TestExtractPrefix_MultiLine(t *testing.T) {
	text := "first line\nsecond line\nadd"
	pos := protocol.Position{Line: 2, Character: 3}
	prefix := extractPrefix(text, pos)
	if prefix != "add" {
		t.Errorf("extractPrefix = %q, want %q", prefix, "add")
	}
}

func TestExtractPrefix_AfterParen(t *testing.T) {
	text := "print add(tot"
	pos := protocol.Position{Line: 0, Character: 13}
	prefix := extractPrefix(text, pos)
	if prefix != "tot" {
		t.Errorf("extractPrefix = %q, want %q", prefix, "tot")
	}
}

func TestExtractPrefix_CursorPastEnd(t *testing.T) {
	text := "abc"
	pos := protocol.Position{Line: 0, Character: 40}
	prefix := extractPrefix(text, pos)
	if prefix != "abc" {
		t.Errorf("extractPrefix = %q, want %q", prefix, "abc")
	}
}

func TestExtractPrefix_LineBeyondDocument(t *testing.T) {
	prefix := extractPrefix("single line", protocol.Position{Line: 5, Character: 0})
	if prefix != "" {
		t.Errorf("extractPrefix beyond document = %q, want empty string", prefix)
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple", "hello world", protocol.Position{Line: 0, Character: 2}, "hello"},
		{"at end", "hello", protocol.Position{Line: 0, Character: 5}, "hello"},
		{"at space", "a  b", protocol.Position{Line: 0, Character: 2}, ""},
		{"second word", "int total", protocol.Position{Line: 0, Character: 6}, "total"},
		{"empty", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "one\ntwo three", protocol.Position{Line: 1, Character: 5}, "three"},
		{"underscore", "my_var = 1", protocol.Position{Line: 0, Character: 3}, "my_var"},
		{"beyond document", "x", protocol.Position{Line: 3, Character: 0}, ""},
		{"call", "add(1, 2)", protocol.Position{Line: 0, Character: 1}, "add"},
	}
	for _, tt := range tests {
		if got := extractWord(tt.text, tt.pos); got != tt.want {
			t.Errorf("%s: extractWord = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestBoolPtr(t *testing.T) {
	if p := boolPtr(true); p == nil || !*p {
		t.Error("boolPtr(true) should point to true")
	}
	if p := boolPtr(false); p == nil || *p {
		t.Error("boolPtr(false) should point to false")
	}
}

func TestNewLSP(t *testing.T) {
	s := NewLSP("test")
	defer s.worker.Stop()
	if s.server == nil {
		t.Fatal("server not created")
	}
	if s.handler.TextDocumentHover == nil || s.handler.TextDocumentCompletion == nil || s.handler.TextDocumentDefinition == nil {
		t.Error("language feature handlers not registered")
	}
}
