package subtitle

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"reelstream/internal/timecode"
)

// TopTag is the ASS override that anchors a dialogue line to the top center.
const TopTag = `{\an8}`

const assHeader = `[Script Info]
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes
PlayResX: 384
PlayResY: 288

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,16,&Hffffff,&Hffffff,&H0,&H0,0,0,0,0,100,100,0,0,1,1,0,2,10,10,10,0

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// WriteASS serializes cues as an ASS script. With top set every dialogue line is
// anchored to the top of the screen.
func WriteASS(w io.Writer, cues []Cue, top bool) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(assHeader)
	for _, c := range cues {
		text := strings.ReplaceAll(c.Text, "\n", `\N`)
		if top {
			text = TopTag + text
		}
		fmt.Fprintf(bw, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			timecode.FormatASS(c.Start), timecode.FormatASS(c.End), text)
	}
	return bw.Flush()
}

// dialogueFields splits a Dialogue line into its ten fields. The text is the tenth
// field and may itself contain commas.
func dialogueFields(line []byte) ([]string, bool) {
	if !bytes.HasPrefix(line, []byte("Dialogue:")) {
		return nil, false
	}
	fields := strings.SplitN(string(line), ",", 10)
	return fields, len(fields) == 10
}

// MoveToTop prefixes the text field of every Dialogue line in an ASS script with TopTag.
// Lines that already carry it are left alone.
func MoveToTop(script []byte) []byte {
	lines := bytes.Split(script, []byte("\n"))
	for i, l := range lines {
		fields, ok := dialogueFields(l)
		if !ok || strings.HasPrefix(fields[9], TopTag) {
			continue
		}
		fields[9] = TopTag + fields[9]
		lines[i] = []byte(strings.Join(fields, ","))
	}
	return bytes.Join(lines, []byte("\n"))
}

// ExtendASS applies ExtendDurations to the Dialogue lines of an ASS script, ordered by
// start time. Only end times change; lines with unreadable timings are left alone.
func ExtendASS(script []byte, padding, margin float64) []byte {
	lines := bytes.Split(script, []byte("\n"))

	type dialogue struct {
		line   int
		fields []string
	}
	var dialogues []dialogue
	var cues []Cue
	for i, l := range lines {
		fields, ok := dialogueFields(l)
		if !ok {
			continue
		}
		start, err := timecode.ParseCue(fields[1])
		if err != nil {
			continue
		}
		end, err := timecode.ParseCue(fields[2])
		if err != nil {
			continue
		}
		cues = append(cues, Cue{Index: len(dialogues), Start: start, End: end})
		dialogues = append(dialogues, dialogue{line: i, fields: fields})
	}

	sort.SliceStable(cues, func(i, j int) bool { return cues[i].Start < cues[j].Start })
	for _, c := range ExtendDurations(cues, padding, margin) {
		d := dialogues[c.Index]
		d.fields[2] = timecode.FormatASS(c.End)
		lines[d.line] = []byte(strings.Join(d.fields, ","))
	}
	return bytes.Join(lines, []byte("\n"))
}
