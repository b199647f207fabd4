// Package negotiate decides whether a media file can be sent as is or has to be
// transcoded, and with which parameters.
package negotiate

import (
	"strings"

	"reelstream/pkg/models"
)

// Container is an output container the transcoder can produce.
type Container string

const (
	WebM     Container = "webm"
	Matroska Container = "matroska"
)

// ContentType returns the MIME type sent for the container.
func (c Container) ContentType() string {
	if c == Matroska {
		return "video/x-matroska"
	}
	return "video/webm"
}

// Client is what the requesting player declared it can decode.
type Client struct {
	Matroska bool
}

// ClientFromRequest derives the client capability from the explicit format query value
// and the user agent. Chrome plays matroska streams.
func ClientFromRequest(format, userAgent string) Client {
	switch strings.ToLower(format) {
	case string(Matroska), "mkv":
		return Client{Matroska: true}
	case string(WebM):
		return Client{}
	}
	return Client{Matroska: strings.Contains(userAgent, "Chrome")}
}

// Defaults are the quality factors used when the user has no preference.
type Defaults struct {
	WebMQuality     int
	MatroskaQuality int
}

// DefaultQualities matches the factors the server has always used.
var DefaultQualities = Defaults{WebMQuality: 24, MatroskaQuality: 20}

// Scale is a target frame size.
type Scale struct {
	Width  int
	Height int
}

// Params are the negotiated transcode parameters.
type Params struct {
	Source    string
	Container Container
	Scale     *Scale
	Quality   int
	Seek      float64
}

// Request is everything the decision depends on.
type Request struct {
	Media     *models.MediaFile
	Seek      float64 // seconds, 0 for none
	Subtitles int     // number of selected subtitle tracks
	Client    Client
	Prefs     *models.UserPreferences
}

// Decision is the outcome of Negotiate. Params is only meaningful when PassThrough is false.
type Decision struct {
	PassThrough bool
	Params      Params
}

// DirectlyPlayable reports whether the file is the one codec/container combination every
// client can play without help.
func DirectlyPlayable(mf *models.MediaFile) bool {
	return strings.EqualFold(mf.Extension, "mp4") && mf.VideoCodec == "AVC"
}

// Negotiate decides between pass-through and transcode. It has no side effects.
func Negotiate(req Request, defaults Defaults) Decision {
	if DirectlyPlayable(req.Media) && req.Seek <= 0 && req.Subtitles == 0 {
		return Decision{PassThrough: true}
	}

	p := Params{
		Source:    req.Media.FullPath(),
		Container: WebM,
		Quality:   defaults.WebMQuality,
		Seek:      req.Seek,
	}
	if req.Client.Matroska {
		p.Container = Matroska
		p.Quality = defaults.MatroskaQuality
	}

	if req.Prefs != nil {
		if req.Prefs.Quality != nil {
			p.Quality = *req.Prefs.Quality
		}
		if req.Prefs.MaxWidth != nil {
			p.Scale = scaleTo(req.Media, *req.Prefs.MaxWidth)
		}
	}
	return Decision{Params: p}
}

// scaleTo returns the frame size capped at maxWidth, or nil when no scaling is needed or
// the source size is unknown.
func scaleTo(mf *models.MediaFile, maxWidth int) *Scale {
	if mf.Width == nil || mf.Height == nil || maxWidth <= 0 {
		return nil
	}
	w, h := *mf.Width, *mf.Height
	if w <= maxWidth {
		return nil
	}
	return &Scale{Width: maxWidth, Height: h * maxWidth / w}
}
