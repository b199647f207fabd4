package models

import (
	"fmt"
	"time"
)

// Directory is a library root that users may be granted access to.
type Directory struct {
	ID           int      `json:"id"`
	Path         string   `json:"path"`
	Ignore       bool     `json:"ignore"`
	AllowedUsers []string `json:"allowedUsers,omitempty"`
}

// MediaFile represents a playable asset collected from a library directory
type MediaFile struct {
	ID         int    `json:"id"`
	Directory  string `json:"-"` // don't expose server paths to client
	FileName   string `json:"fileName"`
	Extension  string `json:"extension"`
	Size       int64  `json:"size"`
	Duration   *int64 `json:"duration,omitempty"` // in seconds
	Width      *int   `json:"width,omitempty"`
	Height     *int   `json:"height,omitempty"`
	AudioCodec string `json:"audioCodec,omitempty"`
	VideoCodec string `json:"videoCodec,omitempty"`
	Title      string `json:"title,omitempty"`
}

// FullPath joins the directory and file name the same way the collector split them.
func (mf *MediaFile) FullPath() string {
	return mf.Directory + "/" + mf.FileName
}

// Resolution formats width and height as "WxH".
func (mf *MediaFile) Resolution() string {
	return fmt.Sprintf("%dx%d", derefInt(mf.Width), derefInt(mf.Height))
}

// DurationSeconds returns the duration or 0 when unknown.
func (mf *MediaFile) DurationSeconds() int64 {
	if mf.Duration == nil {
		return 0
	}
	return *mf.Duration
}

// DisplayDuration renders the duration as HH:MM:SS.
func (mf *MediaFile) DisplayDuration() string {
	d := mf.DurationSeconds()
	return fmt.Sprintf("%02d:%02d:%02d", d/3600, (d%3600)/60, d%60)
}

// DisplaySize renders the size in mebibytes with one decimal.
func (mf *MediaFile) DisplaySize() string {
	return fmt.Sprintf("%0.1f MB", float64(mf.Size)/float64(1<<20))
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// SubtitleTrack is a subtitle selection before it is resolved to a file on disk.
// Internal tracks live inside the media container, external ones are sidecar files.
type SubtitleTrack struct {
	IsInternal bool   `json:"isInternal"`
	TrackIndex int    `json:"trackIndex,omitempty"` // demux tool track id
	CodecID    string `json:"codecId,omitempty"`
	Path       string `json:"-"`
	Language   string `json:"language,omitempty"`
	Label      string `json:"label"`
}

// SubtitlesFile is an ingested subtitle file.
type SubtitlesFile struct {
	ID          int    `json:"id"`
	FileName    string `json:"fileName"`
	Directory   string `json:"-"`
	Extension   string `json:"extension"`
	MediaFileID *int   `json:"mediaFileId,omitempty"`
	Language    string `json:"language"`
}

// FullPath returns the location of the subtitle file on disk.
func (sf *SubtitlesFile) FullPath() string {
	return sf.Directory + "/" + sf.FileName
}

// SubtitleLine is one persisted cue of a SubtitlesFile.
type SubtitleLine struct {
	ID              int     `json:"id"`
	SubtitlesFileID int     `json:"subtitlesFileId"`
	Index           int     `json:"index"`
	Start           float64 `json:"start"` // seconds
	End             float64 `json:"end"`   // seconds
	Text            string  `json:"text"`
	SearchConfig    string  `json:"-"`
	Vector          string  `json:"-"`
}

// PlaybackLogEntry records one "open for watching" and the positions committed after it.
type PlaybackLogEntry struct {
	ID          int       `json:"id"`
	Username    string    `json:"username"`
	MediaFileID int       `json:"mediaFileId"`
	RequestPath string    `json:"requestPath"`
	Seek        string    `json:"seek,omitempty"`
	SeekSeconds float64   `json:"seekSeconds"`
	Subtitles   []string  `json:"subtitles,omitempty"`
	ClientIP    string    `json:"clientIp"`
	Position    *float64  `json:"position,omitempty"` // last committed offset in seconds
	Progress    int       `json:"progress"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserPreferences holds per-user transcode settings. Nil fields mean "use defaults".
type UserPreferences struct {
	Username string `json:"username"`
	MaxWidth *int   `json:"maxWidth,omitempty"`
	Quality  *int   `json:"quality,omitempty"` // lower is better
}

// RenderAudit is written for every file-sink pipeline run.
type RenderAudit struct {
	ID          int        `json:"id"`
	JobID       string     `json:"jobId"`
	Username    string     `json:"username"`
	MediaFileID int        `json:"mediaFileId"`
	Command     string     `json:"command"`
	OutputPath  string     `json:"outputPath"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}
