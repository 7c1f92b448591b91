// Package text holds the document arithmetic shared by hosts and the tester:
// rune-offset positions, line splitting and insertion extraction.
package text

import (
	"strings"
	"unicode/utf8"

	"completiontester/types"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// PositionAt converts a rune offset into a line/character position.
// Offsets past the end clamp to the end of the text.
func PositionAt(s string, offset int) types.Position {
	if offset < 0 {
		offset = 0
	}
	var pos types.Position
	i := 0
	for _, r := range s {
		if i == offset {
			break
		}
		if r == '\n' {
			pos.Line++
			pos.Character = 0
		} else {
			pos.Character++
		}
		i++
	}
	return pos
}

// OffsetAt converts a position back into a rune offset, clamping to line ends
func OffsetAt(s string, pos types.Position) int {
	lines := SplitLines(s)
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(lines) {
		return utf8.RuneCountInString(s)
	}
	offset := 0
	for i := 0; i < pos.Line; i++ {
		offset += utf8.RuneCountInString(lines[i]) + 1
	}
	return offset + min(max(pos.Character, 0), utf8.RuneCountInString(lines[pos.Line]))
}

// End returns the position just past the last character
func End(s string) types.Position {
	return PositionAt(s, utf8.RuneCountInString(s))
}

// RuneLen is the character length used to locate the document end
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// ByteLen is the UTF-8 byte length used to measure completion deltas
func ByteLen(s string) int {
	return len(s)
}

// SplitLines splits on "\n". An empty string is a single empty line.
func SplitLines(s string) []string {
	return strings.Split(s, "\n")
}

// JoinLines is the inverse of SplitLines
func JoinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// Insert places ins at the rune offset of pos
func Insert(s string, pos types.Position, ins string) string {
	runes := []rune(s)
	off := OffsetAt(s, pos)
	return string(runes[:off]) + ins + string(runes[off:])
}

// ByteColumn converts a rune column on line into a byte column
func ByteColumn(line string, character int) int {
	if character <= 0 {
		return 0
	}
	n := 0
	for i := range line {
		if n == character {
			return i
		}
		n++
	}
	return len(line)
}

// RuneColumn converts a byte column on line into a rune column
func RuneColumn(line string, byteCol int) int {
	if byteCol > len(line) {
		byteCol = len(line)
	}
	if byteCol < 0 {
		byteCol = 0
	}
	return utf8.RuneCountInString(line[:byteCol])
}

// Inserted returns the text present in after but not in before, concatenated in
// document order. Deletions are ignored.
func Inserted(before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var sb strings.Builder
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffInsert {
			sb.WriteString(d.Text)
		}
	}
	return sb.String()
}
