package metadata

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"reelstream/internal/probe"

	"github.com/sirupsen/logrus"
)

type fakeInspector struct {
	info  probe.Info
	err   error
	calls int
}

func (f *fakeInspector) Inspect(ctx context.Context, path string) (probe.Info, error) {
	f.calls++
	return f.info, f.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// minimalMP4 returns an ftyp atom followed by a moov atom holding a version 0
// mvhd with the given timescale and duration.
func minimalMP4(timescale, duration uint32) []byte {
	var buf bytes.Buffer
	u32 := func(v uint32) { binary.Write(&buf, binary.BigEndian, v) }

	u32(16)
	buf.WriteString("ftyp")
	buf.WriteString("isom")
	u32(0x200)

	u32(8 + 28)
	buf.WriteString("moov")
	u32(28)
	buf.WriteString("mvhd")
	buf.Write([]byte{0, 0, 0, 0}) // version and flags
	u32(0)                        // creation time
	u32(0)                        // modification time
	u32(timescale)
	u32(duration)
	return buf.Bytes()
}

func TestExtractFromFileWithProbe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Heat.MKV")
	if err := os.WriteFile(path, []byte("not really matroska"), 0644); err != nil {
		t.Fatal(err)
	}

	width, height, duration := 1920, 800, int64(10200)
	inspector := &fakeInspector{info: probe.Info{Width: &width, Height: &height, VideoCodec: "AVC", AudioCodec: "AC-3", Duration: &duration}}
	e := NewExtractor(nil, nil, inspector, quietLogger())

	mf, err := e.ExtractFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractFromFile failed: %v", err)
	}
	if mf.Directory != dir || mf.FileName != "Heat.MKV" || mf.Extension != "mkv" {
		t.Errorf("Unexpected location fields: %+v", mf)
	}
	if mf.Size != int64(len("not really matroska")) {
		t.Errorf("Expected size %d, got %d", len("not really matroska"), mf.Size)
	}
	if mf.VideoCodec != "AVC" || mf.Resolution() != "1920x800" || mf.DurationSeconds() != 10200 {
		t.Errorf("Expected probed metadata, got %+v", mf)
	}
	if inspector.calls != 1 {
		t.Errorf("Expected one probe, got %d", inspector.calls)
	}
}

func TestExtractFromFileProbeFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, minimalMP4(1000, 95500), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewExtractor(nil, nil, &fakeInspector{err: errors.New("mediainfo: not found")}, quietLogger())
	mf, err := e.ExtractFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe failure should not be fatal: %v", err)
	}
	if mf.VideoCodec != "" {
		t.Errorf("Expected no codec, got %q", mf.VideoCodec)
	}
	if mf.DurationSeconds() != 96 {
		t.Errorf("Expected duration 96 from the movie header, got %d", mf.DurationSeconds())
	}
}

func TestExtractFromFileMissing(t *testing.T) {
	e := NewExtractor(nil, nil, nil, quietLogger())
	if _, err := e.ExtractFromFile(context.Background(), filepath.Join(t.TempDir(), "gone.mkv")); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := e.ExtractFromFile(context.Background(), t.TempDir()); err == nil {
		t.Error("Expected error for a directory")
	}
}

func TestDurationMP4(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.mp4")
	if err := os.WriteFile(path, minimalMP4(600, 3600*600), 0644); err != nil {
		t.Fatal(err)
	}
	secs, err := durationMP4(path)
	if err != nil {
		t.Fatalf("durationMP4 failed: %v", err)
	}
	if secs != 3600 {
		t.Errorf("Expected 3600, got %d", secs)
	}

	if err := os.WriteFile(path, []byte{0, 0, 0, 4, 'f', 't', 'y', 'p'}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := durationMP4(path); err == nil {
		t.Error("Expected error for invalid atom size")
	}
}

func TestFileTypes(t *testing.T) {
	e := NewExtractor([]string{"mkv", ".MP4"}, nil, nil, quietLogger())

	tests := []struct {
		path     string
		video    bool
		subtitle bool
	}{
		{"/lib/a.mkv", true, false},
		{"/lib/a.Mp4", true, false},
		{"/lib/a.avi", false, false},
		{"/lib/a.spa.srt", false, true},
		{"/lib/a", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := e.IsVideoFile(tt.path); got != tt.video {
				t.Errorf("IsVideoFile(%q) = %v, want %v", tt.path, got, tt.video)
			}
			if got := e.IsSubtitleFile(tt.path); got != tt.subtitle {
				t.Errorf("IsSubtitleFile(%q) = %v, want %v", tt.path, got, tt.subtitle)
			}
		})
	}

	if ContentType("MKV") != "video/x-matroska" || ContentType(".mp4") != "video/mp4" || ContentType("xyz") != "application/octet-stream" {
		t.Error("Unexpected content types")
	}
}
