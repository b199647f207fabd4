// Package probe inspects media containers with mediainfo and mkvinfo.
//
// Both tools print free text. Values are found by searching for labelled lines, so the
// parsers tolerate extra sections and unknown labels.
package probe

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"reelstream/internal/cache"
	"reelstream/internal/timecode"
	"reelstream/internal/tools"
	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
)

// Info is the metadata reported for a media file. Nil/empty fields are unknown.
type Info struct {
	Width      *int
	Height     *int
	VideoCodec string
	AudioCodec string
	Duration   *int64
}

// Prober runs the container inspection tools.
type Prober struct {
	runner       tools.Runner
	mediainfoCmd string
	mkvinfoCmd   string
	tracks       *cache.MemoryCache[[]models.SubtitleTrack]
	logger       *logrus.Logger
}

// NewProber creates a Prober. Subtitle track listings are cached for cacheTTL.
func NewProber(runner tools.Runner, mediainfoCmd, mkvinfoCmd string, cacheTTL time.Duration, logger *logrus.Logger) *Prober {
	if mediainfoCmd == "" {
		mediainfoCmd = "mediainfo"
	}
	if mkvinfoCmd == "" {
		mkvinfoCmd = "mkvinfo"
	}
	return &Prober{
		runner:       runner,
		mediainfoCmd: mediainfoCmd,
		mkvinfoCmd:   mkvinfoCmd,
		tracks:       cache.NewMemoryCache[[]models.SubtitleTrack](cacheTTL),
		logger:       logger,
	}
}

// Close releases the track cache.
func (p *Prober) Close() {
	p.tracks.Close()
}

// Inspect runs mediainfo on path.
func (p *Prober) Inspect(ctx context.Context, path string) (Info, error) {
	out, err := p.runner.Output(ctx, p.mediainfoCmd, path)
	if err != nil {
		return Info{}, fmt.Errorf("mediainfo: %w", err)
	}
	info := ParseMediaInfo(string(out))
	if info.VideoCodec == "" {
		p.logger.WithField("path", path).Debug("mediainfo reported no video codec")
	}
	return info, nil
}

// SubtitleTracks lists the subtitle tracks embedded in a matroska container. Other
// containers have none as far as the demux tool is concerned.
func (p *Prober) SubtitleTracks(ctx context.Context, mf *models.MediaFile) ([]models.SubtitleTrack, error) {
	if !strings.EqualFold(mf.Extension, "mkv") {
		return nil, nil
	}
	path := mf.FullPath()
	if tracks, ok := p.tracks.Get(path); ok {
		return tracks, nil
	}

	out, err := p.runner.Output(ctx, p.mkvinfoCmd, path)
	if err != nil {
		return nil, fmt.Errorf("mkvinfo: %w", err)
	}
	tracks := ParseMkvInfo(string(out))
	p.tracks.Set(path, tracks)
	return tracks, nil
}

// search returns the index of the first line starting with query and the value after
// the colon with all spaces removed. Without a colon the whole line is returned.
func search(lines []string, query string, lower bool) (int, string) {
	for i, l := range lines {
		if lower {
			l = strings.ToLower(l)
		}
		if !strings.HasPrefix(l, query) {
			continue
		}
		idx := strings.Index(l, ":")
		if idx < 0 {
			return i, l
		}
		return i, strings.ReplaceAll(l[idx+1:], " ", "")
	}
	return -1, ""
}

func sectionValue(lines []string, section, label string) string {
	i, _ := search(lines, section, true)
	if i < 0 {
		return ""
	}
	_, v := search(lines[i:], label, false)
	return v
}

// ParseMediaInfo extracts size, codecs and duration from mediainfo text output.
func ParseMediaInfo(output string) Info {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	var info Info

	if _, w := search(lines, "Width", false); w != "" {
		if n, err := strconv.Atoi(strings.TrimSuffix(w, "pixels")); err == nil {
			info.Width = &n
		}
	}
	if _, h := search(lines, "Height", false); h != "" {
		if n, err := strconv.Atoi(strings.TrimSuffix(h, "pixels")); err == nil {
			info.Height = &n
		}
	}

	info.VideoCodec = strings.ReplaceAll(sectionValue(lines, "video", "Format"), "MPEG-4Visual", "MPEG-4")
	info.AudioCodec = sectionValue(lines, "audio", "Format")

	if d := sectionValue(lines, "video", "Duration"); d != "" {
		d = strings.ReplaceAll(d, "min", "mn")
		if secs, ok := timecode.ParseMediaInfoDuration(d); ok {
			info.Duration = &secs
		}
	}
	return info
}

var (
	trackNumberPattern = regexp.MustCompile(`(?:Track number|mero de pista):\s*(\d+)(?:.*mkvextract:\s*(\d+))?`)
	trackLabelPattern  = regexp.MustCompile(`^[|\s+]*([A-Za-z][A-Za-z ()0-9]*?):\s*(.*)$`)
)

// ParseMkvInfo lists the subtitle tracks in mkvinfo output. TrackIndex is the id used by
// mkvextract: the explicit "track ID for mkvextract" when printed, else track number - 1.
func ParseMkvInfo(output string) []models.SubtitleTrack {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")

	var tracks []models.SubtitleTrack
	var cur *models.SubtitleTrack
	var curType string

	flush := func() {
		if cur != nil && curType == "subtitles" {
			tracks = append(tracks, *cur)
		}
		cur = nil
		curType = ""
	}

	for _, l := range lines {
		if m := trackNumberPattern.FindStringSubmatch(l); m != nil {
			flush()
			number, _ := strconv.Atoi(m[1])
			index := number - 1
			if m[2] != "" {
				index, _ = strconv.Atoi(m[2])
			}
			cur = &models.SubtitleTrack{IsInternal: true, TrackIndex: index}
			continue
		}
		if cur == nil {
			continue
		}
		m := trackLabelPattern.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		label, value := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		switch {
		case label == "Track type":
			curType = strings.ToLower(value)
		case label == "Codec ID":
			cur.CodecID = value
		case strings.HasPrefix(label, "Language") && cur.Language == "":
			cur.Language = value
		}
	}
	flush()

	for i := range tracks {
		tracks[i].Label = fmt.Sprintf("track:%d", tracks[i].TrackIndex)
	}
	return tracks
}
