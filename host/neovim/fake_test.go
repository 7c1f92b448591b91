package neovim

import (
	"fmt"
	"sync"

	"github.com/neovim/go-client/nvim"
)

// fakeNvim is a single-window Neovim stand-in. Cursor columns are clamped the
// way Neovim clamps them: onto the last character in Normal mode and up to
// one past it in Insert mode.
type fakeNvim struct {
	mu       sync.Mutex
	lines    map[nvim.Buffer][][]byte
	ticks    map[nvim.Buffer]int
	win      nvim.Window
	winBuf   nvim.Buffer
	cursor   [2]int
	insert   bool
	commands []string
	// onCommand runs for every Ex command with the lock held
	onCommand func(f *fakeNvim, cmd string)
}

func newFakeNvim(win nvim.Window, buf nvim.Buffer, lines ...string) *fakeNvim {
	f := &fakeNvim{
		lines:  make(map[nvim.Buffer][][]byte),
		ticks:  make(map[nvim.Buffer]int),
		win:    win,
		winBuf: buf,
		cursor: [2]int{1, 0},
	}
	f.setLines(buf, lines)
	return f
}

func (f *fakeNvim) setLines(buf nvim.Buffer, lines []string) {
	bs := make([][]byte, len(lines))
	for i, l := range lines {
		bs[i] = []byte(l)
	}
	f.lines[buf] = bs
	f.ticks[buf]++
}

func (f *fakeNvim) clamp(pos [2]int) [2]int {
	n := len(f.lines[f.winBuf][pos[0]-1])
	limit := n
	if !f.insert && n > 0 {
		limit = n - 1
	}
	pos[1] = min(pos[1], limit)
	return pos
}

func (f *fakeNvim) Serve() error { return nil }
func (f *fakeNvim) Close() error { return nil }
func (f *fakeNvim) ChannelID() int { return 1 }
func (f *fakeNvim) RegisterHandler(string, any) error { return nil }
func (f *fakeNvim) SetVar(string, any) error { return nil }
func (f *fakeNvim) CreateBuffer(bool, bool) (nvim.Buffer, error) {
	return 0, fmt.Errorf("not supported")
}

func (f *fakeNvim) ExecLua(code string, result any, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch code {
	case enterInsert:
		f.insert = true
	case hideWindowBuffer:
		f.insert = false
	}
	return nil
}

func (f *fakeNvim) Command(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if f.onCommand != nil {
		f.onCommand(f, cmd)
	}
	return nil
}

func (f *fakeNvim) BufferLines(buf nvim.Buffer, start, end int, strict bool) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := f.lines[buf]
	if end < 0 {
		end = len(lines)
	}
	if start > len(lines) || end > len(lines) {
		return nil, fmt.Errorf("index out of bounds")
	}
	return lines[start:end], nil
}

func (f *fakeNvim) SetBufferLines(buf nvim.Buffer, start, end int, strict bool, replacement [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines[buf] = replacement
	f.ticks[buf]++
	return nil
}

func (f *fakeNvim) SetBufferText(buf nvim.Buffer, startRow, startCol, endRow, endCol int, replacement [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := f.lines[buf]
	line := string(lines[startRow])
	joined := ""
	for i, r := range replacement {
		if i > 0 {
			joined += "\n"
		}
		joined += string(r)
	}
	merged := line[:startCol] + joined + line[endCol:]
	var parts [][]byte
	for _, p := range splitOn(merged) {
		parts = append(parts, []byte(p))
	}
	out := append([][]byte{}, lines[:startRow]...)
	out = append(out, parts...)
	out = append(out, lines[endRow+1:]...)
	f.lines[buf] = out
	f.ticks[buf]++
	return nil
}

func splitOn(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func (f *fakeNvim) BufferChangedTick(buf nvim.Buffer) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks[buf], nil
}

func (f *fakeNvim) IsBufferValid(buf nvim.Buffer) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.lines[buf]
	return ok, nil
}

func (f *fakeNvim) IsBufferLoaded(buf nvim.Buffer) (bool, error) {
	return f.IsBufferValid(buf)
}

func (f *fakeNvim) SetCurrentBuffer(buf nvim.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.winBuf = buf
	f.cursor = [2]int{1, 0}
	return nil
}

func (f *fakeNvim) CurrentWindow() (nvim.Window, error) {
	return f.win, nil
}

func (f *fakeNvim) WindowBuffer(win nvim.Window) (nvim.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.winBuf, nil
}

func (f *fakeNvim) WindowCursor(win nvim.Window) ([2]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeNvim) SetWindowCursor(win nvim.Window, pos [2]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = f.clamp(pos)
	return nil
}

func (f *fakeNvim) IsWindowValid(win nvim.Window) (bool, error) {
	return win == f.win, nil
}

// state returns the current changedtick of buf and the window cursor
func (f *fakeNvim) state(buf nvim.Buffer) (int, [2]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks[buf], f.cursor
}
