package metadata

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reelstream/internal/probe"
	"reelstream/pkg/models"

	"github.com/dhowden/tag"
	"github.com/sirupsen/logrus"
)

// DefaultVideoFormats are the extensions collected as media files.
var DefaultVideoFormats = []string{".mkv", ".mp4", ".m4v", ".avi", ".webm", ".mov"}

// DefaultSubtitleFormats are the extensions handed to the subtitle indexer.
var DefaultSubtitleFormats = []string{".srt"}

// Inspector reports container metadata for a file.
type Inspector interface {
	Inspect(ctx context.Context, path string) (probe.Info, error)
}

// Extractor handles metadata extraction from video files
type Extractor struct {
	videoFormats    []string
	subtitleFormats []string
	inspector       Inspector
	logger          *logrus.Logger
}

// NewExtractor creates a new metadata extractor. A nil inspector skips
// probing, leaving only size, title and the mp4 header duration.
func NewExtractor(videoFormats, subtitleFormats []string, inspector Inspector, logger *logrus.Logger) *Extractor {
	if len(videoFormats) == 0 {
		videoFormats = DefaultVideoFormats
	}
	if len(subtitleFormats) == 0 {
		subtitleFormats = DefaultSubtitleFormats
	}
	return &Extractor{
		videoFormats:    normalizeFormats(videoFormats),
		subtitleFormats: normalizeFormats(subtitleFormats),
		inspector:       inspector,
		logger:          logger,
	}
}

// ExtractFromFile builds a media file row from a video file on disk.
func (e *Extractor) ExtractFromFile(ctx context.Context, filePath string) (models.MediaFile, error) {
	startTime := time.Now()

	stat, err := os.Stat(filePath)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"filePath": filePath,
			"error":    err.Error(),
		}).Error("Failed to get file stats")
		return models.MediaFile{}, err
	}
	if stat.IsDir() {
		return models.MediaFile{}, fmt.Errorf("%s is a directory", filePath)
	}

	mf := models.MediaFile{
		Directory: filepath.Dir(filePath),
		FileName:  filepath.Base(filePath),
		Extension: strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), "."),
		Size:      stat.Size(),
	}

	if e.inspector != nil {
		info, err := e.inspector.Inspect(ctx, filePath)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"filePath": filePath,
				"error":    err.Error(),
			}).Warn("Failed to probe media file, storing without stream metadata")
		} else {
			mf.Width = info.Width
			mf.Height = info.Height
			mf.VideoCodec = info.VideoCodec
			mf.AudioCodec = info.AudioCodec
			mf.Duration = info.Duration
		}
	}

	if isMP4Family(mf.Extension) {
		mf.Title = e.embeddedTitle(filePath)
		if mf.Duration == nil {
			if secs, err := durationMP4(filePath); err == nil {
				mf.Duration = &secs
			}
		}
	}

	e.logger.WithFields(logrus.Fields{
		"filePath":       filePath,
		"title":          mf.Title,
		"duration":       mf.DurationSeconds(),
		"videoCodec":     mf.VideoCodec,
		"processingTime": time.Since(startTime),
	}).Debug("Successfully extracted metadata")

	return mf, nil
}

// embeddedTitle reads the title tag of an mp4 container, "" when absent.
func (e *Extractor) embeddedTitle(filePath string) string {
	file, err := os.Open(filePath)
	if err != nil {
		return ""
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		e.logger.WithField("filePath", filePath).Debug("No embedded tags")
		return ""
	}
	return strings.TrimSpace(metadata.Title())
}

// durationMP4 reads the movie header ('mvhd') timescale and duration.
func durationMP4(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	head := make([]byte, 8)
	for {
		if _, err := io.ReadFull(f, head); err != nil {
			return 0, err
		}
		size := binary.BigEndian.Uint32(head[0:4])
		if size < 8 {
			return 0, fmt.Errorf("invalid atom size")
		}
		if string(head[4:8]) != "moov" {
			if _, err := f.Seek(int64(size)-8, io.SeekCurrent); err != nil {
				return 0, err
			}
			continue
		}

		limit := int64(size) - 8
		for read := int64(0); read < limit; {
			if _, err := io.ReadFull(f, head); err != nil {
				return 0, err
			}
			subSize := binary.BigEndian.Uint32(head[0:4])
			if string(head[4:8]) == "mvhd" {
				return readMvhd(f)
			}
			if subSize < 8 {
				return 0, fmt.Errorf("invalid sub-atom size")
			}
			if _, err := f.Seek(int64(subSize)-8, io.SeekCurrent); err != nil {
				return 0, err
			}
			read += int64(subSize)
		}
		return 0, fmt.Errorf("mvhd atom not found")
	}
}

func readMvhd(r io.ReadSeeker) (int64, error) {
	version := make([]byte, 1)
	if _, err := io.ReadFull(r, version); err != nil {
		return 0, err
	}

	// flags, then creation and modification times
	skip := int64(3 + 4 + 4)
	durSize := 4
	if version[0] == 1 {
		skip = 3 + 8 + 8
		durSize = 8
	}
	if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
		return 0, err
	}

	buf := make([]byte, 4+durSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	timescale := binary.BigEndian.Uint32(buf[0:4])
	if timescale == 0 {
		return 0, fmt.Errorf("invalid timescale")
	}
	var units uint64
	if durSize == 8 {
		units = binary.BigEndian.Uint64(buf[4:])
	} else {
		units = uint64(binary.BigEndian.Uint32(buf[4:]))
	}
	return int64(float64(units)/float64(timescale) + 0.5), nil
}

// IsVideoFile checks if a file is a collected video format
func (e *Extractor) IsVideoFile(filePath string) bool {
	return hasFormat(e.videoFormats, filePath)
}

// IsSubtitleFile checks if a file is an indexed subtitle format
func (e *Extractor) IsSubtitleFile(filePath string) bool {
	return hasFormat(e.subtitleFormats, filePath)
}

// ContentType returns the MIME type served for a media file extension.
func ContentType(extension string) string {
	switch strings.ToLower(strings.TrimPrefix(extension, ".")) {
	case "mp4", "m4v":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mkv":
		return "video/x-matroska"
	case "avi":
		return "video/x-msvideo"
	case "mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}

func isMP4Family(ext string) bool {
	return ext == "mp4" || ext == "m4v" || ext == "mov"
}

func hasFormat(formats []string, filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range formats {
		if ext == format {
			return true
		}
	}
	return false
}

func normalizeFormats(formats []string) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		out[i] = f
	}
	return out
}
