package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/prism/compiler"
	"github.com/chazu/prism/vm"
)

// ---------------------------------------------------------------------------
// Document analysis
// ---------------------------------------------------------------------------

// Document is the latest analysis of one open file. Prog and Res are nil
// when the text does not parse; Program is nil when it does not compile.
type Document struct {
	URI  string
	Text string

	Prog    *compiler.Program
	Res     *compiler.Resolution
	Program *vm.Program
	Err     error // parse or compile error
}

// Analyze parses, resolves and compiles text.
func Analyze(uri, text string) *Document {
	doc := &Document{URI: uri, Text: text}
	prog, err := compiler.Parse(uri, text)
	if err != nil {
		doc.Err = err
		return doc
	}
	doc.Prog = prog
	doc.Res = compiler.Resolve(prog)
	doc.Program, doc.Err = compiler.NewCompiler(doc.Res).Compile(prog)
	return doc
}

// Diagnostics converts the analysis into LSP diagnostics: the fatal error,
// if any, followed by the resolver's warnings.
func (d *Document) Diagnostics() []protocol.Diagnostic {
	source := lspName
	out := []protocol.Diagnostic{}
	if d.Err != nil {
		severity := protocol.DiagnosticSeverityError
		var cerr *compiler.Error
		r := protocol.Range{}
		msg := d.Err.Error()
		if errors.As(d.Err, &cerr) {
			start := toLSP(cerr.Pos)
			r = protocol.Range{Start: start, End: protocol.Position{Line: start.Line, Character: start.Character + 1}}
			msg = cerr.Msg
		}
		out = append(out, protocol.Diagnostic{Range: r, Severity: &severity, Source: &source, Message: msg})
	}
	if d.Res != nil {
		for _, diag := range d.Res.Diagnostics {
			severity := protocol.DiagnosticSeverityWarning
			if diag.Severity == compiler.SeverityError {
				severity = protocol.DiagnosticSeverityError
			}
			out = append(out, protocol.Diagnostic{
				Range:    protocol.Range{Start: toLSP(diag.Span.Start), End: toLSP(diag.Span.End)},
				Severity: &severity,
				Source:   &source,
				Message:  diag.Message,
			})
		}
	}
	return out
}

// Hover describes the identifier or call under pos.
func (d *Document) Hover(pos protocol.Position) *protocol.Hover {
	if d.Prog == nil {
		return nil
	}
	off := offsetOf(d.Text, pos)
	var b strings.Builder
	switch n := nodeAt(d.Prog, off).(type) {
	case *compiler.Ident:
		decl := d.Res.DeclOf(n)
		if decl == nil {
			return nil
		}
		fmt.Fprintf(&b, "```prism\n%s %s\n```\n", d.Res.VarType(decl), n.Name)
		if elem := d.Res.ElemTypeOf(n); d.Res.TypeOf(n) == vm.TypeList && elem != vm.TypeUnknown {
			fmt.Fprintf(&b, "\nElements: `%s`\n", elem)
		}
		fmt.Fprintf(&b, "\nDeclared at %s", decl.SpanVal.Start)
	case *compiler.Call:
		sig := d.signatureAt(n.Name, off)
		if sig == nil {
			return nil
		}
		fmt.Fprintf(&b, "```prism\n%s\n```", formatSignature(sig))
	case *compiler.VarDecl:
		fmt.Fprintf(&b, "```prism\n%s %s\n```", d.Res.VarType(n), n.Name)
	default:
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: b.String()},
	}
}

// Definition returns the declaration of the name under pos.
func (d *Document) Definition(pos protocol.Position) []protocol.Location {
	if d.Prog == nil {
		return nil
	}
	off := offsetOf(d.Text, pos)
	var target compiler.Span
	switch n := nodeAt(d.Prog, off).(type) {
	case *compiler.Ident:
		decl := d.Res.DeclOf(n)
		if decl == nil {
			return nil
		}
		target = decl.SpanVal
	case *compiler.Assign:
		decl := d.Res.DeclOf(n)
		if decl == nil {
			return nil
		}
		target = decl.SpanVal
	case *compiler.Call:
		sig := d.signatureAt(n.Name, off)
		if sig == nil {
			return nil
		}
		target = sig.Decl.Span()
	default:
		return nil
	}
	return []protocol.Location{{
		URI:   protocol.DocumentUri(d.URI),
		Range: protocol.Range{Start: toLSP(target.Start), End: toLSP(target.End)},
	}}
}

var keywords = []string{
	"assert", "double", "else", "extern", "for", "if", "in", "int",
	"list", "print", "return", "string", "void", "while",
}

// Complete offers the names visible at pos that start with prefix.
func (d *Document) Complete(pos protocol.Position, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		if !strings.HasPrefix(label, prefix) {
			return
		}
		l, det, k := label, detail, kind
		items = append(items, protocol.CompletionItem{Label: l, Kind: &k, Detail: &det, InsertText: &l})
	}

	if d.Prog != nil {
		if sc := d.scopeAt(offsetOf(d.Text, pos)); sc != nil {
			vars, funcs := sc.Names()
			for _, name := range vars {
				decl, _ := sc.LookupVar(name)
				add(name, d.Res.VarType(decl).String(), protocol.CompletionItemKindVariable)
			}
			for _, name := range funcs {
				sig, _ := sc.LookupFunc(name)
				add(name, formatSignature(sig), protocol.CompletionItemKindFunction)
			}
		}
	}
	for _, kw := range keywords {
		add(kw, "keyword", protocol.CompletionItemKindKeyword)
	}

	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func (d *Document) signatureAt(name string, off int) *compiler.FuncSig {
	sc := d.scopeAt(off)
	if sc == nil {
		return nil
	}
	sig, ok := sc.LookupFunc(name)
	if !ok {
		return nil
	}
	return sig
}

// scopeAt returns the scope of the innermost block containing off.
func (d *Document) scopeAt(off int) *compiler.Scope {
	var inner *compiler.Block
	compiler.Walk(d.Prog.Body, func(n compiler.Node) bool {
		if !contains(n.Span(), off) {
			return n == d.Prog.Body
		}
		if b, ok := n.(*compiler.Block); ok {
			inner = b
		}
		return true
	})
	if inner == nil {
		return d.Res.Root
	}
	return d.Res.ScopeOf(inner)
}

func formatSignature(sig *compiler.FuncSig) string {
	params := make([]string, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = p.String()
	}
	prefix := ""
	if sig.Extern {
		prefix = "extern "
	}
	return fmt.Sprintf("%s%s %s(%s)", prefix, sig.Return, sig.Name, strings.Join(params, ", "))
}

// nodeAt returns the smallest identifier-bearing node whose span contains
// off.
func nodeAt(prog *compiler.Program, off int) compiler.Node {
	var candidates []compiler.Node
	compiler.Walk(prog.Body, func(n compiler.Node) bool {
		if !contains(n.Span(), off) {
			return n == prog.Body
		}
		switch n.(type) {
		case *compiler.Ident, *compiler.Call, *compiler.Assign, *compiler.VarDecl:
			candidates = append(candidates, n)
		}
		return true
	})
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return width(candidates[i].Span()) < width(candidates[j].Span())
	})
	return candidates[0]
}

func width(s compiler.Span) int {
	return s.End.Offset - s.Start.Offset
}

func contains(s compiler.Span, off int) bool {
	return s.Start.Offset <= off && off <= s.End.Offset
}

// offsetOf converts an LSP position to a byte offset in text.
func offsetOf(text string, pos protocol.Position) int {
	off := 0
	for line := 0; line < int(pos.Line); line++ {
		i := strings.IndexByte(text[off:], '\n')
		if i < 0 {
			return len(text)
		}
		off += i + 1
	}
	end := off + int(pos.Character)
	if nl := strings.IndexByte(text[off:], '\n'); nl >= 0 && end > off+nl {
		end = off + nl
	}
	if end > len(text) {
		end = len(text)
	}
	return end
}

func toLSP(p compiler.Position) protocol.Position {
	line, col := p.Line-1, p.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}
