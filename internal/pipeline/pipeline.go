// Package pipeline turns negotiated transcode parameters into an ffmpeg invocation.
package pipeline

import (
	"strconv"
	"strings"

	"reelstream/internal/negotiate"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// PipeTarget is the output marker that makes ffmpeg write to stdout.
const PipeTarget = "pipe:"

// Sink is where the transcoder writes. An empty Path means standard output.
type Sink struct {
	Path string
}

// PipeSink streams to standard output.
func PipeSink() Sink { return Sink{} }

// FileSink writes to path, overwriting it.
func FileSink(path string) Sink { return Sink{Path: path} }

// IsPipe reports whether the sink is standard output.
func (s Sink) IsPipe() bool { return s.Path == "" }

// Invocation is a fully resolved external command.
type Invocation struct {
	Binary string
	Args   []string
	Sink   Sink
}

// String renders the command line the way it is recorded in the render audit.
func (inv Invocation) String() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, inv.Binary)
	for _, a := range inv.Args {
		if a == "" || strings.ContainsAny(a, " \t'\"") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Builder assembles transcoder invocations.
type Builder struct {
	binary  string
	threads int
}

// NewBuilder returns a Builder for the given ffmpeg binary. threads is passed to the
// webm encoder.
func NewBuilder(binary string, threads int) *Builder {
	if binary == "" {
		binary = "ffmpeg"
	}
	if threads <= 0 {
		threads = 8
	}
	return &Builder{binary: binary, threads: threads}
}

// Build returns the invocation for p with up to two subtitle overlays. The first subtitle
// is burnt in as is; the second is expected to be an ASS script carrying its own
// positioning. Build does no I/O.
func (b *Builder) Build(p negotiate.Params, subtitles []string, sink Sink) Invocation {
	inputArgs := ffmpeg.KwArgs{}
	if p.Seek > 0 {
		inputArgs["ss"] = formatSeconds(p.Seek)
	}

	outputArgs := ffmpeg.KwArgs{
		"crf": strconv.Itoa(p.Quality),
		"f":   string(p.Container),
	}
	if p.Container == negotiate.WebM {
		outputArgs["codec:v"] = "libvpx"
		outputArgs["b:v"] = "0"
		outputArgs["threads"] = strconv.Itoa(b.threads)
		outputArgs["speed"] = "4"
	}
	if vf := filterChain(p.Scale, subtitles); vf != "" {
		outputArgs["vf"] = vf
	}

	target := PipeTarget
	if !sink.IsPipe() {
		target = sink.Path
		outputArgs["y"] = ""
	}

	args := ffmpeg.Input(p.Source, inputArgs).
		Output(target, outputArgs).
		GetArgs()

	return Invocation{Binary: b.binary, Args: args, Sink: sink}
}

// ReanchorArgs returns the arguments that rewrite a subtitle file so its cues start at
// offset seconds. format is the ffmpeg muxer name ("srt" or "ass").
func (b *Builder) ReanchorArgs(input string, offset float64, format, output string) []string {
	return ffmpeg.Input(input, ffmpeg.KwArgs{"ss": formatSeconds(offset)}).
		Output(output, ffmpeg.KwArgs{"f": format, "y": ""}).
		GetArgs()
}

// Binary returns the configured ffmpeg binary.
func (b *Builder) Binary() string {
	return b.binary
}

func filterChain(scale *negotiate.Scale, subtitles []string) string {
	var filters []string
	if scale != nil {
		filters = append(filters, "scale="+strconv.Itoa(scale.Width)+":"+strconv.Itoa(scale.Height))
	}
	if len(subtitles) > 0 {
		filters = append(filters, "subtitles="+escapeFilterPath(subtitles[0]))
	}
	if len(subtitles) > 1 {
		filters = append(filters, "ass="+escapeFilterPath(subtitles[1]))
	}
	return strings.Join(filters, ",")
}

var (
	optionEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	graphEscaper  = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `[`, `\[`, `]`, `\]`, `,`, `\,`, `;`, `\;`)
)

// escapeFilterPath escapes a file name for use as a filter option inside a filtergraph.
func escapeFilterPath(path string) string {
	return graphEscaper.Replace(optionEscaper.Replace(path))
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
