package pipeline

import (
	"testing"

	"reelstream/internal/negotiate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOf(args []string, v string) int {
	for i, a := range args {
		if a == v {
			return i
		}
	}
	return -1
}

func valueOf(t *testing.T, args []string, flag string) string {
	t.Helper()
	i := indexOf(args, flag)
	require.GreaterOrEqual(t, i, 0, "flag %s missing in %v", flag, args)
	require.Less(t, i+1, len(args))
	return args[i+1]
}

func TestBuildWebMPipe(t *testing.T) {
	b := NewBuilder("", 0)
	p := negotiate.Params{Source: "/library/film.mkv", Container: negotiate.WebM, Quality: 24}

	inv := b.Build(p, nil, PipeSink())
	args := inv.Args

	assert.Equal(t, "ffmpeg", inv.Binary)
	assert.Equal(t, "/library/film.mkv", valueOf(t, args, "-i"))
	assert.Equal(t, "libvpx", valueOf(t, args, "-codec:v"))
	assert.Equal(t, "0", valueOf(t, args, "-b:v"))
	assert.Equal(t, "24", valueOf(t, args, "-crf"))
	assert.Equal(t, "8", valueOf(t, args, "-threads"))
	assert.Equal(t, "4", valueOf(t, args, "-speed"))
	assert.Equal(t, "webm", valueOf(t, args, "-f"))
	assert.Equal(t, PipeTarget, args[len(args)-1])
	assert.Equal(t, -1, indexOf(args, "-ss"))
	assert.Equal(t, -1, indexOf(args, "-vf"))
	assert.Equal(t, -1, indexOf(args, "-y"))
}

func TestBuildMatroskaSeekBeforeInput(t *testing.T) {
	b := NewBuilder("ffmpeg", 4)
	p := negotiate.Params{Source: "/library/film.avi", Container: negotiate.Matroska, Quality: 20, Seek: 930.5}

	args := b.Build(p, nil, PipeSink()).Args

	ss, in := indexOf(args, "-ss"), indexOf(args, "-i")
	require.GreaterOrEqual(t, ss, 0)
	assert.Less(t, ss, in)
	assert.Equal(t, "930.5", args[ss+1])
	assert.Equal(t, "matroska", valueOf(t, args, "-f"))
	assert.Equal(t, "20", valueOf(t, args, "-crf"))
	assert.Equal(t, -1, indexOf(args, "-codec:v"))
}

func TestBuildFilterChain(t *testing.T) {
	b := NewBuilder("ffmpeg", 8)
	p := negotiate.Params{
		Source:    "/library/film.mkv",
		Container: negotiate.WebM,
		Quality:   24,
		Scale:     &negotiate.Scale{Width: 1280, Height: 720},
	}

	args := b.Build(p, []string{"/tmp/a.srt", "/tmp/b.ass"}, PipeSink()).Args
	assert.Equal(t, "scale=1280:720,subtitles=/tmp/a.srt,ass=/tmp/b.ass", valueOf(t, args, "-vf"))

	args = b.Build(p, []string{"/tmp/a.srt"}, PipeSink()).Args
	assert.Equal(t, "scale=1280:720,subtitles=/tmp/a.srt", valueOf(t, args, "-vf"))
}

func TestBuildFileSink(t *testing.T) {
	b := NewBuilder("ffmpeg", 8)
	p := negotiate.Params{Source: "/library/film.mkv", Container: negotiate.WebM, Quality: 24}

	inv := b.Build(p, nil, FileSink("/renders/out.webm"))
	args := inv.Args

	assert.Equal(t, "/renders/out.webm", args[len(args)-1])
	assert.GreaterOrEqual(t, indexOf(args, "-y"), 0)
	assert.Equal(t, -1, indexOf(args, PipeTarget))
	assert.Contains(t, inv.String(), "ffmpeg ")
	assert.Contains(t, inv.String(), "/renders/out.webm")
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, "/tmp/plain.srt", escapeFilterPath("/tmp/plain.srt"))
	assert.Equal(t, `/media/a\\:b.srt`, escapeFilterPath("/media/a:b.srt"))
	assert.Equal(t, `/media/x\,y.srt`, escapeFilterPath("/media/x,y.srt"))
}

func TestReanchorArgs(t *testing.T) {
	b := NewBuilder("ffmpeg", 8)
	args := b.ReanchorArgs("/tmp/in.srt", 900, "srt", "/tmp/out.srt")

	assert.Less(t, indexOf(args, "-ss"), indexOf(args, "-i"))
	assert.Equal(t, "900", valueOf(t, args, "-ss"))
	assert.Equal(t, "srt", valueOf(t, args, "-f"))
	assert.Equal(t, "/tmp/out.srt", args[len(args)-1])
}
