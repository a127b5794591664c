// Package server implements the prism language server.
package server

import (
	"errors"
	"strings"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"
)

const lspName = "prism-lsp"

// ErrStopped is returned by requests made after shutdown.
var ErrStopped = errors.New("server: worker stopped")

// LspServer publishes compiler diagnostics and answers hover,
// completion and definition requests.
type LspServer struct {
	worker *Worker
	log    commonlog.Logger

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new language server.
func NewLSP(version string) *LspServer {
	s := &LspServer{
		worker:  NewWorker(),
		log:     commonlog.GetLogger("prism.lsp"),
		version: version,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)
	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.log.Infof("%s %s initializing", lspName, s.version)

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.worker.Do(func(ws *Workspace) any {
		ws.Close(string(uri))
		return nil
	})

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	result, err := s.worker.Do(func(ws *Workspace) any {
		return ws.Update(string(uri), text).Diagnostics()
	})
	if err != nil {
		s.log.Errorf("analyze %s: %s", uri, err)
		return
	}
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: result.([]protocol.Diagnostic),
	})
}

// --- Language features ---

// withDocument runs fn on the current analysis of uri. It returns nil for
// unknown documents.
func (s *LspServer) withDocument(uri protocol.DocumentUri, fn func(*Document) any) any {
	result, err := s.worker.Do(func(ws *Workspace) any {
		doc, ok := ws.Get(string(uri))
		if !ok {
			return nil
		}
		return fn(doc)
	})
	if err != nil {
		s.log.Errorf("%s: %s", uri, err)
		return nil
	}
	return result
}

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	result := s.withDocument(params.TextDocument.URI, func(doc *Document) any {
		prefix := extractPrefix(doc.Text, params.Position)
		if prefix == "" {
			return nil
		}
		return doc.Complete(params.Position, prefix)
	})
	if items, ok := result.([]protocol.CompletionItem); ok {
		return items, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	result := s.withDocument(params.TextDocument.URI, func(doc *Document) any {
		if extractWord(doc.Text, params.Position) == "" {
			return nil
		}
		return doc.Hover(params.Position)
	})
	if h, ok := result.(*protocol.Hover); ok && h != nil {
		return h, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	result := s.withDocument(params.TextDocument.URI, func(doc *Document) any {
		return doc.Definition(params.Position)
	})
	if locs, ok := result.([]protocol.Location); ok && len(locs) > 0 {
		return locs, nil
	}
	return nil, nil
}

// --- Text extraction helpers ---

func isIdentChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// lineAt returns the line under pos with the cursor column clamped to it.
func lineAt(text string, pos protocol.Position) (string, int, bool) {
	line, n := text, int(pos.Line)
	for ; n > 0; n-- {
		i := strings.IndexByte(line, '\n')
		if i < 0 {
			return "", 0, false
		}
		line = line[i+1:]
	}
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	return line, col, true
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}
	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}
	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
