// Package memhost is an in-memory editor implementing host.Host. It emits change
// events synchronously on the goroutine that caused them, simulates inline and
// list completion through a pluggable Provider, and supports failure injection.
package memhost

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"completiontester/host"
	"completiontester/text"
	"completiontester/types"
)

// Provider produces the completion text offered at the caret, or "" for none
type Provider func(doc string, caret types.Position, mechanism types.Mechanism) string

// DefaultWords maps each seed token to the rest of a word starting with it
var DefaultWords = map[string]string{
	"i": "nt",
	"r": "eturn",
	"h": "ello",
	"t": "rue",
	"j": "son",
}

// DictionaryProvider completes the word left of the caret from words, for the
// given mechanisms only
func DictionaryProvider(words map[string]string, mechanisms ...types.Mechanism) Provider {
	return func(doc string, caret types.Position, mechanism types.Mechanism) string {
		if len(mechanisms) > 0 && !containsMechanism(mechanisms, mechanism) {
			return ""
		}
		lines := text.SplitLines(doc)
		if caret.Line >= len(lines) {
			return ""
		}
		line := []rune(lines[caret.Line])
		prefix := string(line[:min(caret.Character, len(line))])
		word := prefix[strings.LastIndexAny(prefix, " \t")+1:]
		return words[word]
	}
}

func containsMechanism(ms []types.Mechanism, m types.Mechanism) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

type docState struct {
	text   string
	closed bool
}

type editorState struct {
	doc    host.DocumentID
	sels   []types.Selection
	hidden bool
}

// Host is the in-memory editor. The zero value is not usable; call New.
type Host struct {
	mu         sync.Mutex
	nextDoc    int
	nextEditor int
	nextSub    int
	docs       map[host.DocumentID]*docState
	editors    map[host.EditorID]*editorState
	active     host.EditorID
	selSubs    map[int]func(host.SelectionEvent)
	docSubs    map[int]func(host.DocumentEvent)
	commands   []string
	contexts   map[string]any
	pending    map[types.Mechanism]string
	provider   Provider
	plugins    map[string]bool
	notices    []string
	onCommand  func(command string)

	failOpen      error
	failShow      error
	failHide      error
	failCommand   error
	rejectInsert  bool
	rejectReplace bool
}

func New() *Host {
	return &Host{
		docs:     make(map[host.DocumentID]*docState),
		editors:  make(map[host.EditorID]*editorState),
		selSubs:  make(map[int]func(host.SelectionEvent)),
		docSubs:  make(map[int]func(host.DocumentEvent)),
		contexts: make(map[string]any),
		pending:  make(map[types.Mechanism]string),
		plugins:  make(map[string]bool),
	}
}

// --- configuration ---

func (h *Host) SetProvider(p Provider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.provider = p
}

// RejectInserts makes editor inserts report not-applied
func (h *Host) RejectInserts(reject bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejectInsert = reject
}

// RejectReplace makes whole-document replaces report not-applied
func (h *Host) RejectReplace(reject bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejectReplace = reject
}

func (h *Host) FailOpen(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failOpen = err
}

func (h *Host) FailShow(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failShow = err
}

func (h *Host) FailHide(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failHide = err
}

// FailCommands makes every ExecuteCommand call return err
func (h *Host) FailCommands(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failCommand = err
}

// InstallPlugin registers a plugin name for EnsurePlugin
func (h *Host) InstallPlugin(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plugins[name] = true
}

// OnCommand registers a hook run after every executed command
func (h *Host) OnCommand(fn func(command string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCommand = fn
}

// --- inspection ---

// Commands returns every executed command id, in order
func (h *Host) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

// CommandCount counts executions of command
func (h *Host) CommandCount(command string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.commands {
		if c == command {
			n++
		}
	}
	return n
}

// Context returns the last value published for key via setContext
func (h *Host) Context(key string) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.contexts[key]
	return v, ok
}

// Notices returns messages shown through Notify
func (h *Host) Notices() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.notices...)
}

// Documents returns the ids of every document ever opened, sorted
func (h *Host) Documents() []host.DocumentID {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]host.DocumentID, 0, len(h.docs))
	for id := range h.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ActiveEditor returns the focused editor, or nil
func (h *Host) ActiveEditor() host.Editor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == 0 {
		return nil
	}
	st := h.editors[h.active]
	return &Editor{h: h, id: h.active, doc: &Document{h: h, id: st.doc}}
}

// Subscribers returns the number of live selection and document listeners
func (h *Host) Subscribers() (selection, document int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.selSubs), len(h.docSubs)
}

// CloseDocument simulates the user closing the document
func (h *Host) CloseDocument(id host.DocumentID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.docs[id]; ok {
		d.closed = true
	}
	for eid, e := range h.editors {
		if e.doc == id {
			e.hidden = true
			if h.active == eid {
				h.active = 0
			}
		}
	}
}

// TypeText simulates the user typing s at the caret of the active editor
func (h *Host) TypeText(s string) error {
	h.mu.Lock()
	if h.active == 0 {
		h.mu.Unlock()
		return fmt.Errorf("no active editor")
	}
	id := h.active
	st := h.editors[id]
	caret := st.sels[0].Active
	h.insertLocked(st, caret, s)
	docID := st.doc
	h.mu.Unlock()

	h.emitDocument(host.DocumentEvent{Document: docID})
	h.emitSelection(host.SelectionEvent{Editor: id, Kind: host.SelectionChangeKeyboard})
	return nil
}

// MoveCaret simulates the user clicking somewhere in the active editor
func (h *Host) MoveCaret(pos types.Position) error {
	h.mu.Lock()
	if h.active == 0 {
		h.mu.Unlock()
		return fmt.Errorf("no active editor")
	}
	id := h.active
	h.editors[id].sels = []types.Selection{types.Caret(pos)}
	h.mu.Unlock()

	h.emitSelection(host.SelectionEvent{Editor: id, Kind: host.SelectionChangeMouse})
	return nil
}

// --- host.Host ---

func (h *Host) OpenDocument(ctx context.Context, language, content string) (host.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failOpen != nil {
		return nil, h.failOpen
	}
	h.nextDoc++
	id := host.DocumentID(h.nextDoc)
	h.docs[id] = &docState{text: content}
	return &Document{h: h, id: id}, nil
}

func (h *Host) ShowDocument(ctx context.Context, doc host.Document, opts host.ShowOptions) (host.Editor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failShow != nil {
		return nil, h.failShow
	}
	d, ok := h.docs[doc.ID()]
	if !ok || d.closed {
		return nil, fmt.Errorf("document %d is closed", doc.ID())
	}

	for id, e := range h.editors {
		if e.doc == doc.ID() && !e.hidden {
			if !opts.PreserveFocus {
				h.active = id
			}
			return &Editor{h: h, id: id, doc: &Document{h: h, id: doc.ID()}}, nil
		}
	}

	h.nextEditor++
	id := host.EditorID(h.nextEditor)
	h.editors[id] = &editorState{
		doc:  doc.ID(),
		sels: []types.Selection{types.Caret(types.Position{})},
	}
	if !opts.PreserveFocus {
		h.active = id
	}
	return &Editor{h: h, id: id, doc: &Document{h: h, id: doc.ID()}}, nil
}

func (h *Host) ReplaceDocument(ctx context.Context, doc host.Document, content string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	h.mu.Lock()
	if h.rejectReplace {
		h.mu.Unlock()
		return false, nil
	}
	d, ok := h.docs[doc.ID()]
	if !ok || d.closed {
		h.mu.Unlock()
		return false, nil
	}
	d.text = content
	end := text.End(content)
	for _, e := range h.editors {
		if e.doc == doc.ID() {
			e.sels = []types.Selection{types.Caret(end)}
		}
	}
	h.mu.Unlock()

	h.emitDocument(host.DocumentEvent{Document: doc.ID()})
	return true, nil
}

func (h *Host) ExecuteCommand(ctx context.Context, command string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	h.commands = append(h.commands, command)
	if h.failCommand != nil {
		err := h.failCommand
		h.mu.Unlock()
		return err
	}
	hook := h.onCommand

	var insertedInto host.EditorID
	var docID host.DocumentID
	switch command {
	case host.CommandSetContext:
		if len(args) != 2 {
			h.mu.Unlock()
			return fmt.Errorf("setContext expects key and value")
		}
		h.contexts[fmt.Sprint(args[0])] = args[1]
	case host.CommandInlineTrigger:
		h.triggerLocked(types.MechanismInline)
	case host.CommandSuggestTrigger:
		h.triggerLocked(types.MechanismSuggest)
	case host.CommandInlineCommit:
		insertedInto, docID = h.commitLocked(types.MechanismInline)
	case host.CommandSuggestAccept:
		insertedInto, docID = h.commitLocked(types.MechanismSuggest)
	default:
		h.mu.Unlock()
		return fmt.Errorf("command %q not found", command)
	}
	h.mu.Unlock()

	if insertedInto != 0 {
		h.emitDocument(host.DocumentEvent{Document: docID})
		h.emitSelection(host.SelectionEvent{Editor: insertedInto, Kind: host.SelectionChangeCommand})
	}
	if hook != nil {
		hook(command)
	}
	return nil
}

func (h *Host) triggerLocked(m types.Mechanism) {
	delete(h.pending, m)
	if h.active == 0 || h.provider == nil {
		return
	}
	st := h.editors[h.active]
	d := h.docs[st.doc]
	if s := h.provider(d.text, st.sels[0].Active, m); s != "" {
		h.pending[m] = s
	}
}

func (h *Host) commitLocked(m types.Mechanism) (host.EditorID, host.DocumentID) {
	s, ok := h.pending[m]
	delete(h.pending, m)
	if !ok || h.active == 0 {
		return 0, 0
	}
	st := h.editors[h.active]
	h.insertLocked(st, st.sels[0].Active, s)
	return h.active, st.doc
}

// insertLocked inserts s at pos and moves carets sitting at pos past it
func (h *Host) insertLocked(st *editorState, pos types.Position, s string) {
	d := h.docs[st.doc]
	d.text = text.Insert(d.text, pos, s)
	after := text.PositionAt(d.text, text.OffsetAt(d.text, pos)+text.RuneLen(s))
	for i, sel := range st.sels {
		if sel.Active == pos {
			st.sels[i] = types.Caret(after)
		}
	}
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

func (h *Host) emitSelection(ev host.SelectionEvent) {
	h.mu.Lock()
	subs := make([]func(host.SelectionEvent), 0, len(h.selSubs))
	for _, fn := range h.selSubs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (h *Host) emitDocument(ev host.DocumentEvent) {
	h.mu.Lock()
	subs := make([]func(host.DocumentEvent), 0, len(h.docSubs))
	for _, fn := range h.docSubs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// --- host.Notifier / host.PluginChecker ---

func (h *Host) Notify(ctx context.Context, level host.NotifyLevel, msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notices = append(h.notices, msg)
	return nil
}

func (h *Host) EnsurePlugin(ctx context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.plugins[name] {
		return fmt.Errorf("required plugin %s is not installed", name)
	}
	return nil
}

// --- documents and editors ---

type Document struct {
	h  *Host
	id host.DocumentID
}

func (d *Document) ID() host.DocumentID { return d.id }

func (d *Document) Text() (string, error) {
	d.h.mu.Lock()
	defer d.h.mu.Unlock()
	st, ok := d.h.docs[d.id]
	if !ok {
		return "", fmt.Errorf("unknown document %d", d.id)
	}
	return st.text, nil
}

func (d *Document) PositionAt(offset int) (types.Position, error) {
	s, err := d.Text()
	if err != nil {
		return types.Position{}, err
	}
	return text.PositionAt(s, offset), nil
}

func (d *Document) IsClosed() bool {
	d.h.mu.Lock()
	defer d.h.mu.Unlock()
	st, ok := d.h.docs[d.id]
	return !ok || st.closed
}

type Editor struct {
	h   *Host
	id  host.EditorID
	doc *Document
}

func (e *Editor) ID() host.EditorID       { return e.id }
func (e *Editor) Document() host.Document { return e.doc }

func (e *Editor) Selections() ([]types.Selection, error) {
	e.h.mu.Lock()
	defer e.h.mu.Unlock()
	st, ok := e.h.editors[e.id]
	if !ok {
		return nil, fmt.Errorf("unknown editor %d", e.id)
	}
	return append([]types.Selection(nil), st.sels...), nil
}

func (e *Editor) SetSelections(ctx context.Context, sels []types.Selection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(sels) == 0 {
		return fmt.Errorf("at least one selection is required")
	}
	e.h.mu.Lock()
	st, ok := e.h.editors[e.id]
	if !ok || st.hidden {
		e.h.mu.Unlock()
		return fmt.Errorf("editor %d is not visible", e.id)
	}
	st.sels = append([]types.Selection(nil), sels...)
	e.h.mu.Unlock()

	e.h.emitSelection(host.SelectionEvent{Editor: e.id, Kind: host.SelectionChangeCommand})
	return nil
}

func (e *Editor) Insert(ctx context.Context, pos types.Position, s string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.h.mu.Lock()
	st, ok := e.h.editors[e.id]
	if e.h.rejectInsert || !ok || st.hidden || e.h.docs[st.doc].closed {
		e.h.mu.Unlock()
		return false, nil
	}
	e.h.insertLocked(st, pos, s)
	docID := st.doc
	e.h.mu.Unlock()

	e.h.emitDocument(host.DocumentEvent{Document: docID})
	e.h.emitSelection(host.SelectionEvent{Editor: e.id, Kind: host.SelectionChangeCommand})
	return true, nil
}

func (e *Editor) Hide(ctx context.Context) error {
	e.h.mu.Lock()
	defer e.h.mu.Unlock()
	if e.h.failHide != nil {
		return e.h.failHide
	}
	if st, ok := e.h.editors[e.id]; ok {
		st.hidden = true
	}
	if e.h.active == e.id {
		e.h.active = 0
	}
	return nil
}
