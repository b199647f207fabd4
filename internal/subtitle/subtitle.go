// Package subtitle parses and re-serializes subtitle cues.
//
// Only the operations the streaming path needs are covered: reading SRT cues, writing
// them back as SRT or ASS, extending on-screen durations and moving ASS dialogue to the
// top of the screen.
package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"reelstream/internal/charset"
	"reelstream/internal/timecode"
)

// Cue is one timed block of subtitle text. Times are in seconds.
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// CueError reports a block that could not be turned into a Cue.
type CueError struct {
	Block  int // 1-based position of the block in the file
	Line   int // line number of the offending line
	Reason string
}

func (e *CueError) Error() string {
	return fmt.Sprintf("block %d (line %d): %s", e.Block, e.Line, e.Reason)
}

type block struct {
	number int
	line   int
	lines  []string
}

// ParseSRT reads SRT cues from r. Malformed blocks are skipped and returned as
// *CueError values; the error result is only set when reading fails.
func ParseSRT(r io.Reader) ([]Cue, []error, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var blocks []block
	var cur *block
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimRight(scanner.Text(), "\r")
		if lineNo == 1 {
			text = strings.TrimPrefix(text, "\ufeff")
		}
		if strings.TrimSpace(text) == "" {
			cur = nil
			continue
		}
		if cur == nil {
			blocks = append(blocks, block{number: len(blocks) + 1, line: lineNo})
			cur = &blocks[len(blocks)-1]
		}
		cur.lines = append(cur.lines, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read subtitle: %w", err)
	}

	var cues []Cue
	var problems []error
	for _, b := range blocks {
		cue, err := parseBlock(b)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if cue.Index == 0 {
			cue.Index = len(cues) + 1
		}
		cues = append(cues, cue)
	}
	return cues, problems, nil
}

// ParseSRTFile reads an SRT file, decoding it as ISO-8859-1 when it is not UTF-8.
func ParseSRTFile(path string) ([]Cue, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read subtitle: %w", err)
	}
	return ParseSRT(strings.NewReader(string(charset.ToUTF8(data))))
}

func parseBlock(b block) (Cue, error) {
	lines := b.lines
	var cue Cue

	timing := 0
	if !strings.Contains(lines[0], "-->") {
		idx, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			return Cue{}, &CueError{Block: b.number, Line: b.line, Reason: "expected cue number or timing"}
		}
		cue.Index = idx
		timing = 1
	}
	if timing >= len(lines) {
		return Cue{}, &CueError{Block: b.number, Line: b.line, Reason: "missing timing line"}
	}

	start, end, err := parseTiming(lines[timing])
	if err != nil {
		return Cue{}, &CueError{Block: b.number, Line: b.line + timing, Reason: err.Error()}
	}
	if end < start {
		return Cue{}, &CueError{Block: b.number, Line: b.line + timing, Reason: "cue ends before it starts"}
	}
	cue.Start, cue.End = start, end

	text := lines[timing+1:]
	if len(text) == 0 {
		return Cue{}, &CueError{Block: b.number, Line: b.line + timing, Reason: "empty cue text"}
	}
	cue.Text = strings.Join(text, "\n")
	return cue, nil
}

func parseTiming(line string) (float64, float64, error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing %q", line)
	}
	start, err := timecode.ParseCue(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	// position hints may follow the end time
	endField := strings.Fields(parts[1])
	if len(endField) == 0 {
		return 0, 0, fmt.Errorf("invalid timing %q", line)
	}
	end, err := timecode.ParseCue(endField[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// WriteSRT serializes cues as SRT, renumbering them from 1.
func WriteSRT(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	for i, c := range cues {
		fmt.Fprintf(bw, "%d\n", i+1)
		fmt.Fprintf(bw, "%s --> %s\n", timecode.FormatCue(c.Start), timecode.FormatCue(c.End))
		fmt.Fprintf(bw, "%s\n\n", c.Text)
	}
	return bw.Flush()
}

// ExtendDurations returns a copy of cues with every cue kept on screen for up to padding
// seconds longer. An extended end is clamped to margin seconds before the next cue starts
// and is never earlier than the original end.
func ExtendDurations(cues []Cue, padding, margin float64) []Cue {
	out := make([]Cue, len(cues))
	copy(out, cues)
	for i := range out {
		end := out[i].End + padding
		if i+1 < len(out) && end > out[i+1].Start-margin {
			end = out[i+1].Start - margin
		}
		if end < cues[i].End {
			end = cues[i].End
		}
		out[i].End = end
	}
	return out
}
