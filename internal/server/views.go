package server

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"reelstream/internal/negotiate"
	"reelstream/internal/streamer"
	"reelstream/internal/subtitle"
	"reelstream/pkg/models"
)

// DirectoryView is a library directory as listed to users.
type DirectoryView struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func newDirectoryView(d models.Directory) DirectoryView {
	return DirectoryView{ID: d.ID, Name: filepath.Base(d.Path)}
}

// MediaFileView is a media file with the per-user data of one listing.
type MediaFileView struct {
	ID               int    `json:"id"`
	Title            string `json:"title,omitempty"`
	FileName         string `json:"fileName"`
	Folder           string `json:"folder,omitempty"` // relative to the library directory
	Extension        string `json:"extension"`
	Size             string `json:"size"`
	Duration         string `json:"duration"`
	Resolution       string `json:"resolution"`
	VideoCodec       string `json:"videoCodec,omitempty"`
	AudioCodec       string `json:"audioCodec,omitempty"`
	DirectlyPlayable bool   `json:"directlyPlayable"`
	Resume           string `json:"resume,omitempty"`
}

func newMediaFileView(mf *models.MediaFile, root, resume string) MediaFileView {
	v := MediaFileView{
		ID:               mf.ID,
		Title:            mf.Title,
		FileName:         mf.FileName,
		Extension:        mf.Extension,
		Size:             mf.DisplaySize(),
		Duration:         mf.DisplayDuration(),
		Resolution:       mf.Resolution(),
		VideoCodec:       mf.VideoCodec,
		AudioCodec:       mf.AudioCodec,
		DirectlyPlayable: negotiate.DirectlyPlayable(mf),
		Resume:           resume,
	}
	if root != "" && mf.Directory != root {
		v.Folder = strings.TrimPrefix(mf.Directory, root+"/")
	}
	return v
}

// SubtitleView is a subtitle the player can offer, with the token that selects it.
type SubtitleView struct {
	Token    string `json:"token"`
	Label    string `json:"label"`
	Language string `json:"language,omitempty"`
	Internal bool   `json:"internal"`
}

func sidecarView(sf models.SubtitlesFile) SubtitleView {
	return SubtitleView{
		Token:    strconv.Itoa(sf.ID),
		Label:    sf.FileName,
		Language: sf.Language,
	}
}

// fileView offers an unindexed sidecar; its name is the selection token.
func fileView(name string) SubtitleView {
	return SubtitleView{
		Token:    name,
		Label:    name,
		Language: subtitle.LanguageFromFileName(name),
	}
}

func internalView(t models.SubtitleTrack) SubtitleView {
	token := trackPrefix + strconv.Itoa(t.TrackIndex)
	label := t.Label
	if label == "" {
		label = token
	}
	return SubtitleView{Token: token, Label: label, Language: t.Language, Internal: true}
}

// WatchView is everything a player needs to start a media file.
type WatchView struct {
	MediaFile   MediaFileView  `json:"mediaFile"`
	PlaybackID  int            `json:"playbackId"`
	StreamURL   string         `json:"streamUrl"`
	VideoType   string         `json:"videoType"`
	PassThrough bool           `json:"passThrough"`
	Seek        float64        `json:"seek"`
	Selected    []string       `json:"selected"`
	Subtitles   []SubtitleView `json:"subtitles"`
}

// JobView is a render job as shown to its owner.
type JobView struct {
	ID          string `json:"id"`
	MediaFileID int    `json:"mediaFileId"`
	Output      string `json:"output"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"createdAt"`
	CompletedAt string `json:"completedAt,omitempty"`
}

func newJobView(job streamer.Job) JobView {
	v := JobView{
		ID:          job.ID,
		MediaFileID: job.MediaFileID,
		Output:      filepath.Base(job.OutputPath),
		Status:      string(job.Status),
		Error:       job.Error,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		v.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return v
}
