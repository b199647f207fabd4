package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"reelstream/internal/database"
	"reelstream/internal/metadata"
	"reelstream/internal/negotiate"
	"reelstream/internal/playback"
	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
)

// playRequest reads seek, subtitle selection, client capability and user
// preferences from a request. It writes the error response itself.
func (ms *Server) playRequest(w http.ResponseWriter, r *http.Request, mf *models.MediaFile) (PlayRequest, string, bool) {
	q := r.URL.Query()
	rawSeek := sanitizeInput(q.Get("goto"))
	seek, err := playback.ParseSeek(rawSeek, mf.DurationSeconds())
	if err != nil {
		ms.respondWithValidationError(w, r, ValidationError{
			Field:   "goto",
			Message: err.Error(),
			Code:    "INVALID_SEEK",
		})
		return PlayRequest{}, "", false
	}

	tokens, present := selectionTokens(q)
	tracks, err := ms.svc.Selections(r.Context(), mf, tokens, !present && ms.config.Subtitles.AutoInternal)
	if errors.Is(err, ErrInvalidSelection) {
		ms.respondWithValidationError(w, r, ValidationError{
			Field:   "sub",
			Message: err.Error(),
			Code:    "INVALID_SUBTITLE_SELECTION",
		})
		return PlayRequest{}, "", false
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error resolving subtitles", err)
		return PlayRequest{}, "", false
	}

	prefs, err := ms.db.GetPreferences(r.Context(), usernameFrom(r.Context()))
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving preferences", err)
		return PlayRequest{}, "", false
	}

	return PlayRequest{
		Media:  mf,
		Seek:   seek,
		Tracks: tracks,
		Client: negotiate.ClientFromRequest(q.Get("format"), r.UserAgent()),
		Prefs:  prefs,
	}, rawSeek, true
}

// handleWatch opens a media file for watching: it records the playback log
// entry and tells the player where and what to stream.
func (ms *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	mf, ok := ms.mediaFileForRequest(w, r)
	if !ok {
		return
	}
	req, rawSeek, ok := ms.playRequest(w, r, mf)
	if !ok {
		return
	}
	username := usernameFrom(r.Context())
	selected := selectionLabels(req.Tracks)

	entry, err := ms.svc.Tracker.Open(r.Context(), mf, playback.OpenRequest{
		Username:    username,
		RequestPath: r.URL.RequestURI(),
		Seek:        rawSeek,
		Subtitles:   selected,
		ClientIP:    clientIP(r),
	})
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error recording playback", err)
		return
	}

	decision := ms.svc.Decide(req)
	videoType := metadata.ContentType(mf.Extension)
	if !decision.PassThrough {
		videoType = decision.Params.Container.ContentType()
	}

	resume, err := ms.svc.Tracker.ResumePoints(r.Context(), username, []models.MediaFile{*mf})
	if err != nil {
		ms.logger.WithError(err).WithField("media_file_id", mf.ID).Warn("Could not load resume point")
	}

	view := WatchView{
		MediaFile:   newMediaFileView(mf, "", resume[mf.ID]),
		PlaybackID:  entry.ID,
		StreamURL:   streamURL(mf.ID, rawSeek, selected, r.URL.Query().Get("format")),
		VideoType:   videoType,
		PassThrough: decision.PassThrough,
		Seek:        req.Seek,
		Selected:    selected,
		Subtitles:   ms.availableSubtitles(r, mf),
	}

	ms.logger.WithFields(logrus.Fields{
		"user":          username,
		"media_file_id": mf.ID,
		"seek":          req.Seek,
		"selection":     selected,
		"pass_through":  decision.PassThrough,
	}).Info("Opened media file")

	ms.respondJSON(w, http.StatusOK, view)
}

// availableSubtitles lists the indexed subtitles files, then the sidecars found
// next to the media file that are not indexed yet, then the embedded tracks.
func (ms *Server) availableSubtitles(r *http.Request, mf *models.MediaFile) []SubtitleView {
	views := []SubtitleView{}

	sidecars, err := ms.db.ListSubtitlesForMediaFile(r.Context(), mf.ID)
	if err != nil {
		ms.logger.WithError(err).WithField("media_file_id", mf.ID).Warn("Could not list subtitles files")
	}
	indexed := make(map[string]bool, len(sidecars))
	for _, sf := range sidecars {
		if sf.Directory == mf.Directory {
			indexed[sf.FileName] = true
		}
		views = append(views, sidecarView(sf))
	}

	names, err := Sidecars(mf)
	if err != nil {
		ms.logger.WithError(err).WithField("media_file_id", mf.ID).Warn("Could not scan for sidecar subtitles")
	}
	for _, name := range names {
		if !indexed[name] {
			views = append(views, fileView(name))
		}
	}

	internal, err := ms.svc.Prober.SubtitleTracks(r.Context(), mf)
	if err != nil {
		ms.logger.WithError(err).WithField("media_file_id", mf.ID).Warn("Could not list embedded subtitles")
	}
	for _, t := range internal {
		views = append(views, internalView(t))
	}
	return views
}

// streamURL always carries an explicit selection, so the stream burns in
// exactly what the watch response announced.
func streamURL(id int, seek string, selections []string, format string) string {
	v := url.Values{}
	if seek != "" {
		v.Set("goto", seek)
	}
	if len(selections) == 0 {
		v.Set("sub", "")
	} else {
		v["sub"] = selections
	}
	if format != "" {
		v.Set("format", format)
	}
	return fmt.Sprintf("/stream/%d?%s", id, v.Encode())
}

// handleReportPosition commits the player position of the latest playback.
func (ms *Server) handleReportPosition(w http.ResponseWriter, r *http.Request) {
	mf, ok := ms.mediaFileForRequest(w, r)
	if !ok {
		return
	}

	var raw string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Position json.Number `json:"position"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
			return
		}
		raw = body.Position.String()
	} else {
		raw = r.FormValue("position")
	}

	position, verr := validatePosition(sanitizeInput(raw))
	if verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}

	progress, err := ms.svc.Tracker.ReportPosition(r.Context(), usernameFrom(r.Context()), mf, position)
	if errors.Is(err, database.ErrNotFound) {
		ms.respondWithError(w, r, http.StatusNotFound, "No playback to update", err)
		return
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error saving position", err)
		return
	}

	ms.respondJSON(w, http.StatusOK, map[string]int{"progress": progress})
}
