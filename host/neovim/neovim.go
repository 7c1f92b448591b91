// Package neovim implements host.Host on top of a Neovim instance reached over
// msgpack-RPC. Buffers are documents and windows are editors.
package neovim

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	"completiontester/host"
	"completiontester/logger"
	"completiontester/text"
	"completiontester/types"

	"github.com/neovim/go-client/nvim"
)

// RPC notification methods sent from Lua back to us
const (
	methodEvent = "completion_tester_event"
	methodStart = "completion_tester_start"
	methodStop  = "completion_tester_stop"
)

// DefaultCommands maps completion command ids to Ex commands for copilot.lua
// (inline) and nvim-cmp (suggestion list)
var DefaultCommands = map[string]string{
	host.CommandInlineTrigger:  `lua require("copilot.suggestion").next()`,
	host.CommandInlineCommit:   `lua require("copilot.suggestion").accept()`,
	host.CommandSuggestTrigger: `lua require("cmp").complete()`,
	host.CommandSuggestAccept:  `lua require("cmp").confirm({ select = true })`,
}

// client is the subset of *nvim.Nvim the host uses
type client interface {
	Serve() error
	Close() error
	ChannelID() int
	RegisterHandler(method string, fn any) error
	ExecLua(code string, result any, args ...any) error
	Command(cmd string) error
	SetVar(name string, value any) error

	CreateBuffer(listed, scratch bool) (nvim.Buffer, error)
	BufferLines(buf nvim.Buffer, start, end int, strict bool) ([][]byte, error)
	SetBufferLines(buf nvim.Buffer, start, end int, strict bool, replacement [][]byte) error
	SetBufferText(buf nvim.Buffer, startRow, startCol, endRow, endCol int, replacement [][]byte) error
	BufferChangedTick(buf nvim.Buffer) (int, error)
	IsBufferValid(buf nvim.Buffer) (bool, error)
	IsBufferLoaded(buf nvim.Buffer) (bool, error)
	SetCurrentBuffer(buf nvim.Buffer) error

	CurrentWindow() (nvim.Window, error)
	WindowBuffer(win nvim.Window) (nvim.Buffer, error)
	WindowCursor(win nvim.Window) ([2]int, error)
	SetWindowCursor(win nvim.Window, pos [2]int) error
	IsWindowValid(win nvim.Window) (bool, error)
}

var _ client = (*nvim.Nvim)(nil)

// Host drives one Neovim instance
type Host struct {
	v        client
	commands map[string]string

	mu        sync.Mutex
	ownTick   map[nvim.Buffer]int
	ownCursor map[nvim.Window][2]int
	nextSub   int
	selSubs   map[int]func(host.SelectionEvent)
	docSubs   map[int]func(host.DocumentEvent)
}

// Dial connects to the Neovim listening on address, or $NVIM when address is
// empty. The caller must run Serve.
func Dial(address string, commands map[string]string) (*Host, error) {
	if address == "" {
		address = os.Getenv("NVIM")
	}
	if address == "" {
		return nil, fmt.Errorf("no Neovim address: set neovim.address or run inside :terminal")
	}
	v, err := nvim.Dial(address, nvim.DialServe(false))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Neovim at %s: %w", address, err)
	}
	return New(v, commands), nil
}

// New wraps an established connection. commands override DefaultCommands.
func New(v *nvim.Nvim, commands map[string]string) *Host {
	return newHost(v, commands)
}

func newHost(v client, commands map[string]string) *Host {
	merged := make(map[string]string, len(DefaultCommands)+len(commands))
	for k, c := range DefaultCommands {
		merged[k] = c
	}
	for k, c := range commands {
		merged[k] = c
	}
	return &Host{
		v:         v,
		commands:  merged,
		ownTick:   make(map[nvim.Buffer]int),
		ownCursor: make(map[nvim.Window][2]int),
		selSubs:   make(map[int]func(host.SelectionEvent)),
		docSubs:   make(map[int]func(host.DocumentEvent)),
	}
}

// Serve processes RPC messages until the connection closes
func (h *Host) Serve() error {
	return h.v.Serve()
}

func (h *Host) Close() error {
	return h.v.Close()
}

// Install registers the event handler and the autocmds that feed it
func (h *Host) Install() error {
	if err := h.v.RegisterHandler(methodEvent, h.handleEvent); err != nil {
		return fmt.Errorf("failed to register event handler: %w", err)
	}
	if err := h.v.ExecLua(installAutocmds, nil, h.v.ChannelID(), methodEvent); err != nil {
		return fmt.Errorf("failed to install autocmds: %w", err)
	}
	return nil
}

// Uninstall removes the autocmds installed by Install
func (h *Host) Uninstall() error {
	return h.v.ExecLua(uninstallAutocmds, nil)
}

// RegisterUserCommands defines :CompletionTesterStart and :CompletionTesterStop.
// The callbacks run on the RPC goroutine and must not block on Neovim.
func (h *Host) RegisterUserCommands(start, stop func()) error {
	if err := h.v.RegisterHandler(methodStart, func() { start() }); err != nil {
		return err
	}
	if err := h.v.RegisterHandler(methodStop, func() { stop() }); err != nil {
		return err
	}
	if err := h.v.ExecLua(installUserCommands, nil, h.v.ChannelID(), methodStart, methodStop); err != nil {
		return fmt.Errorf("failed to define user commands: %w", err)
	}
	return nil
}

// --- host.Host ---

func (h *Host) OpenDocument(ctx context.Context, language, content string) (host.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := h.v.CreateBuffer(true, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer: %w", err)
	}
	if err := h.v.ExecLua(setFiletype, nil, buf, language); err != nil {
		logger.Warn("nvim: failed to set filetype %s: %v", language, err)
	}
	if err := h.v.SetBufferLines(buf, 0, -1, true, toLines(content)); err != nil {
		return nil, fmt.Errorf("failed to fill buffer: %w", err)
	}
	h.recordTick(buf)
	return &Document{h: h, buf: buf}, nil
}

// ShowDocument shows doc in the current window and leaves it in Insert mode,
// where completion plugins are active and the cursor may sit past the last
// character. Neovim has no preview tabs; PreserveFocus is not supported and
// the window always becomes current.
func (h *Host) ShowDocument(ctx context.Context, doc host.Document, opts host.ShowOptions) (host.Editor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := doc.(*Document)
	if !ok {
		return nil, fmt.Errorf("document %d does not belong to this host", doc.ID())
	}
	win, err := h.v.CurrentWindow()
	if err != nil {
		return nil, fmt.Errorf("failed to get current window: %w", err)
	}
	cur, err := h.v.WindowBuffer(win)
	if err != nil {
		return nil, fmt.Errorf("failed to get window buffer: %w", err)
	}
	if cur != d.buf {
		if err := h.v.SetCurrentBuffer(d.buf); err != nil {
			return nil, fmt.Errorf("failed to show buffer %d: %w", d.buf, err)
		}
	}
	if err := h.v.ExecLua(enterInsert, nil); err != nil {
		return nil, fmt.Errorf("failed to enter insert mode: %w", err)
	}
	h.recordCursor(win)
	return &Editor{h: h, win: win, doc: d}, nil
}

func (h *Host) ReplaceDocument(ctx context.Context, doc host.Document, content string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d, ok := doc.(*Document)
	if !ok || d.IsClosed() {
		return false, nil
	}
	if err := h.v.SetBufferLines(d.buf, 0, -1, true, toLines(content)); err != nil {
		return false, fmt.Errorf("failed to replace buffer %d: %w", d.buf, err)
	}
	h.recordTick(d.buf)
	return true, nil
}

func (h *Host) ExecuteCommand(ctx context.Context, command string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if command == host.CommandSetContext {
		if len(args) != 2 {
			return fmt.Errorf("setContext expects key and value")
		}
		key := fmt.Sprint(args[0])
		return h.v.SetVar(contextVar(key), args[1])
	}
	ex, ok := h.commands[command]
	if !ok {
		return fmt.Errorf("no Neovim command mapped for %q", command)
	}
	logger.Debug("nvim: %s -> %s", command, ex)
	if err := h.v.Command(ex); err != nil {
		return err
	}
	// a commit edits the buffer; its autocmds arrive after we return
	h.recordCurrent()
	return nil
}

func (h *Host) Events() host.Events { return h }

func (h *Host) OnSelectionChanged(fn func(host.SelectionEvent)) host.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.selSubs[id] = fn
	return host.SubscriptionFunc(func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.selSubs, id)
		return nil
	})
}

func (h *Host) OnDocumentChanged(fn func(host.DocumentEvent)) host.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.docSubs[id] = fn
	return host.SubscriptionFunc(func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.docSubs, id)
		return nil
	})
}

// --- host.Notifier / host.PluginChecker ---

func (h *Host) Notify(ctx context.Context, level host.NotifyLevel, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.v.ExecLua(notify, nil, msg, logLevel(level))
}

// EnsurePlugin checks that the Lua module name can be required
func (h *Host) EnsurePlugin(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var ok bool
	if err := h.v.ExecLua(requirePlugin, &ok, name); err != nil {
		return fmt.Errorf("failed to check plugin %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("required plugin %s is not installed", name)
	}
	return nil
}

// --- events ---

// handleEvent receives autocmd notifications. row is 1-based and col is a byte
// offset, as reported by nvim_win_get_cursor.
func (h *Host) handleEvent(kind string, buf, win, tick, row, col int) {
	h.mu.Lock()
	var docFns []func(host.DocumentEvent)
	var selFns []func(host.SelectionEvent)
	var docEv host.DocumentEvent
	var selEv host.SelectionEvent

	switch kind {
	case "text":
		own, seen := h.ownTick[nvim.Buffer(buf)]
		docEv = host.DocumentEvent{Document: host.DocumentID(buf), Echo: seen && tick <= own}
		for _, fn := range h.docSubs {
			docFns = append(docFns, fn)
		}
	case "cursor":
		own, seen := h.ownCursor[nvim.Window(win)]
		echo := seen && own == [2]int{row, col}
		selEv = host.SelectionEvent{Editor: host.EditorID(win), Kind: host.SelectionChangeKeyboard, Echo: echo}
		if echo {
			selEv.Kind = host.SelectionChangeCommand
		}
		for _, fn := range h.selSubs {
			selFns = append(selFns, fn)
		}
	default:
		logger.Debug("nvim: unknown event kind %q", kind)
	}
	h.mu.Unlock()

	for _, fn := range docFns {
		fn(docEv)
	}
	for _, fn := range selFns {
		fn(selEv)
	}
}

func (h *Host) recordTick(buf nvim.Buffer) {
	tick, err := h.v.BufferChangedTick(buf)
	if err != nil {
		logger.Debug("nvim: failed to read changedtick of %d: %v", buf, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ownTick[buf] = tick
}

// recordCurrent marks the current buffer state and cursor as our own
func (h *Host) recordCurrent() {
	win, err := h.v.CurrentWindow()
	if err != nil {
		logger.Debug("nvim: failed to get current window: %v", err)
		return
	}
	buf, err := h.v.WindowBuffer(win)
	if err != nil {
		logger.Debug("nvim: failed to get buffer of %d: %v", win, err)
		return
	}
	h.recordTick(buf)
	h.recordCursor(win)
}

func (h *Host) recordCursor(win nvim.Window) {
	pos, err := h.v.WindowCursor(win)
	if err != nil {
		logger.Debug("nvim: failed to read cursor of %d: %v", win, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ownCursor[win] = pos
}

// --- documents and editors ---

type Document struct {
	h   *Host
	buf nvim.Buffer
}

func (d *Document) ID() host.DocumentID { return host.DocumentID(d.buf) }

func (d *Document) Text() (string, error) {
	lines, err := d.h.v.BufferLines(d.buf, 0, -1, true)
	if err != nil {
		return "", fmt.Errorf("failed to read buffer %d: %w", d.buf, err)
	}
	return fromLines(lines), nil
}

func (d *Document) PositionAt(offset int) (types.Position, error) {
	s, err := d.Text()
	if err != nil {
		return types.Position{}, err
	}
	return text.PositionAt(s, offset), nil
}

// IsClosed reports whether the buffer was wiped or unloaded
func (d *Document) IsClosed() bool {
	valid, err := d.h.v.IsBufferValid(d.buf)
	if err != nil || !valid {
		return true
	}
	loaded, err := d.h.v.IsBufferLoaded(d.buf)
	return err != nil || !loaded
}

// line returns the text of a zero-based line
func (d *Document) line(n int) (string, error) {
	lines, err := d.h.v.BufferLines(d.buf, n, n+1, true)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}
	return string(lines[0]), nil
}

type Editor struct {
	h   *Host
	win nvim.Window
	doc *Document
}

func (e *Editor) ID() host.EditorID       { return host.EditorID(e.win) }
func (e *Editor) Document() host.Document { return e.doc }

// Selections returns the window cursor as a single caret
func (e *Editor) Selections() ([]types.Selection, error) {
	pos, err := e.h.v.WindowCursor(e.win)
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}
	line, err := e.doc.line(pos[0] - 1)
	if err != nil {
		return nil, err
	}
	p := types.Position{Line: pos[0] - 1, Character: text.RuneColumn(line, pos[1])}
	return []types.Selection{types.Caret(p)}, nil
}

// SetSelections moves the cursor to the active end of the first selection.
// Neovim windows have a single cursor; further selections are ignored. The
// position Neovim settles on after clamping is recorded as our own.
func (e *Editor) SetSelections(ctx context.Context, sels []types.Selection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(sels) == 0 {
		return fmt.Errorf("at least one selection is required")
	}
	p := sels[0].Active
	line, err := e.doc.line(p.Line)
	if err != nil {
		return fmt.Errorf("failed to read line %d: %w", p.Line, err)
	}
	if err := e.h.v.SetWindowCursor(e.win, [2]int{p.Line + 1, text.ByteColumn(line, p.Character)}); err != nil {
		return fmt.Errorf("failed to move cursor: %w", err)
	}
	e.h.recordCursor(e.win)
	return nil
}

// Insert reports false when the window no longer shows the document
func (e *Editor) Insert(ctx context.Context, pos types.Position, s string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !e.showsDocument() {
		return false, nil
	}
	line, err := e.doc.line(pos.Line)
	if err != nil {
		return false, fmt.Errorf("failed to read line %d: %w", pos.Line, err)
	}
	col := text.ByteColumn(line, pos.Character)
	if err := e.h.v.SetBufferText(e.doc.buf, pos.Line, col, pos.Line, col, toLines(s)); err != nil {
		return false, fmt.Errorf("failed to insert text: %w", err)
	}
	e.h.recordTick(e.doc.buf)
	e.h.recordCursor(e.win)
	return true, nil
}

func (e *Editor) Hide(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.h.v.ExecLua(hideWindowBuffer, nil, e.win, e.doc.buf)
}

func (e *Editor) showsDocument() bool {
	valid, err := e.h.v.IsWindowValid(e.win)
	if err != nil || !valid {
		return false
	}
	buf, err := e.h.v.WindowBuffer(e.win)
	return err == nil && buf == e.doc.buf
}

// --- helpers ---

func toLines(s string) [][]byte {
	parts := text.SplitLines(s)
	lines := make([][]byte, len(parts))
	for i, p := range parts {
		lines[i] = []byte(p)
	}
	return lines
}

func fromLines(lines [][]byte) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = string(l)
	}
	return text.JoinLines(parts)
}

// contextVar maps a UI context key to a global variable name, e.g.
// completionsTester.showTitleButtonsWithoutFocus becomes
// completion_tester_show_title_buttons_without_focus
func contextVar(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	var sb strings.Builder
	sb.WriteString("completion_tester_")
	for i, r := range key {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// logLevel maps a notice severity onto vim.log.levels
func logLevel(l host.NotifyLevel) int {
	switch l {
	case host.NotifyWarn:
		return 3
	case host.NotifyError:
		return 4
	default:
		return 2
	}
}
