package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"reelstream/internal/negotiate"
	"reelstream/internal/playback"
	"reelstream/internal/streamer"

	"github.com/sirupsen/logrus"
)

// Finished jobs older than this are dropped when no age is given.
const defaultJobMaxAge = time.Hour

// RenderRequest is the body of a render submission.
type RenderRequest struct {
	Goto      string   `json:"goto"`
	Subtitles []string `json:"sub"`
	Format    string   `json:"format"`
}

// handleRender starts a background render of a media file with the selected
// subtitles burnt in.
func (ms *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	mf, ok := ms.mediaFileForRequest(w, r)
	if !ok {
		return
	}

	var body RenderRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
			return
		}
	}

	seek, err := playback.ParseSeek(sanitizeInput(body.Goto), mf.DurationSeconds())
	if err != nil {
		ms.respondWithValidationError(w, r, ValidationError{Field: "goto", Message: err.Error(), Code: "INVALID_SEEK"})
		return
	}

	tokens := make([]string, 0, len(body.Subtitles))
	for _, t := range body.Subtitles {
		if t = sanitizeInput(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	tracks, err := ms.svc.Selections(r.Context(), mf, tokens, false)
	if errors.Is(err, ErrInvalidSelection) {
		ms.respondWithValidationError(w, r, ValidationError{Field: "sub", Message: err.Error(), Code: "INVALID_SUBTITLE_SELECTION"})
		return
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error resolving subtitles", err)
		return
	}

	username := usernameFrom(r.Context())
	prefs, err := ms.db.GetPreferences(r.Context(), username)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving preferences", err)
		return
	}

	job, err := ms.svc.SubmitRender(username, PlayRequest{
		Media:  mf,
		Seek:   seek,
		Tracks: tracks,
		Client: negotiate.ClientFromRequest(body.Format, r.UserAgent()),
		Prefs:  prefs,
	})
	if errors.Is(err, ErrNothingToRender) {
		ms.respondWithError(w, r, http.StatusBadRequest, err.Error(), err)
		return
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error starting render", err)
		return
	}

	ms.logger.WithFields(logrus.Fields{
		"user":          username,
		"media_file_id": mf.ID,
		"job_id":        job.ID,
		"selection":     selectionLabels(tracks),
	}).Info("Render submitted")

	ms.respondJSON(w, http.StatusAccepted, newJobView(job))
}

// visibleJobs returns the jobs the user may see, newest first.
func (ms *Server) visibleJobs(username string) []streamer.Job {
	superuser := ms.authService.IsSuperuser(username)
	var jobs []streamer.Job
	for _, job := range ms.svc.Jobs.All() {
		if superuser || job.Username == username {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// handleGetJobs lists the caller's renders. Superusers see every render.
func (ms *Server) handleGetJobs(w http.ResponseWriter, r *http.Request) {
	jobs := ms.visibleJobs(usernameFrom(r.Context()))
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	ms.respondJSON(w, http.StatusOK, views)
}

// handleGetJob reports one render. Other users' renders are not found.
func (ms *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	job, ok := ms.svc.Jobs.Get(r.PathValue("id"))
	if !ok || (job.Username != username && !ms.authService.IsSuperuser(username)) {
		ms.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}
	ms.respondJSON(w, http.StatusOK, newJobView(job))
}

// handleCleanupJobs forgets finished renders older than ?age= minutes.
func (ms *Server) handleCleanupJobs(w http.ResponseWriter, r *http.Request) {
	if !ms.authService.IsSuperuser(usernameFrom(r.Context())) {
		ms.respondWithError(w, r, http.StatusForbidden, "Only administrators can clean up jobs", errAccessDenied)
		return
	}

	maxAge := defaultJobMaxAge
	if raw := r.URL.Query().Get("age"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes < 0 {
			ms.respondWithValidationError(w, r, ValidationError{
				Field:   "age",
				Message: "Age must be a non-negative number of minutes",
				Code:    "INVALID_AGE",
			})
			return
		}
		maxAge = time.Duration(minutes) * time.Minute
	}

	before := len(ms.svc.Jobs.All())
	ms.svc.Jobs.CleanupFinished(maxAge)
	ms.respondJSON(w, http.StatusOK, map[string]int{"removed": before - len(ms.svc.Jobs.All())})
}
