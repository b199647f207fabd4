package server

import (
	"errors"
	"net/http"

	"reelstream/internal/collector"
	"reelstream/internal/database"
	"reelstream/pkg/models"
)

// handleGetDirectories lists the library directories the user may browse.
func (ms *Server) handleGetDirectories(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	dirs, err := ms.db.AllowedDirectories(r.Context(), username, ms.authService.IsSuperuser(username))
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving directories", err)
		return
	}

	views := make([]DirectoryView, 0, len(dirs))
	for _, d := range dirs {
		views = append(views, newDirectoryView(d))
	}
	ms.respondJSON(w, http.StatusOK, views)
}

// directoryForRequest loads the {id} directory and checks it may be browsed.
func (ms *Server) directoryForRequest(w http.ResponseWriter, r *http.Request) (*models.Directory, *access, bool) {
	id, verr := validateID(r.PathValue("id"), "directory_id")
	if verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return nil, nil, false
	}

	dir, err := ms.db.GetDirectory(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		ms.respondWithError(w, r, http.StatusNotFound, "Directory not found", nil)
		return nil, nil, false
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving directory", err)
		return nil, nil, false
	}

	acc, err := ms.accessFor(r.Context())
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error checking permissions", err)
		return nil, nil, false
	}
	if !acc.allows(dir.Path) {
		ms.respondWithError(w, r, http.StatusForbidden, "Access denied", errAccessDenied)
		return nil, nil, false
	}
	return dir, acc, true
}

// handleGetMediaFiles lists the media files under a directory with the
// user's resume points.
func (ms *Server) handleGetMediaFiles(w http.ResponseWriter, r *http.Request) {
	dir, acc, ok := ms.directoryForRequest(w, r)
	if !ok {
		return
	}

	all, err := ms.db.ListMediaFilesUnder(r.Context(), dir.Path)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving media files", err)
		return
	}

	// nested ignored directories stay hidden
	files := make([]models.MediaFile, 0, len(all))
	for _, mf := range all {
		if acc.allows(mf.Directory) {
			files = append(files, mf)
		}
	}

	resume, err := ms.svc.Tracker.ResumePoints(r.Context(), acc.username, files)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving resume points", err)
		return
	}

	views := make([]MediaFileView, 0, len(files))
	for i := range files {
		views = append(views, newMediaFileView(&files[i], dir.Path, resume[files[i].ID]))
	}
	ms.respondJSON(w, http.StatusOK, views)
}

// handleCollectDirectory runs a collection of one directory for any user who
// may browse it.
func (ms *Server) handleCollectDirectory(w http.ResponseWriter, r *http.Request) {
	dir, _, ok := ms.directoryForRequest(w, r)
	if !ok {
		return
	}

	stats, err := ms.svc.Scheduler.RunDirectory(r.Context(), dir.Path)
	if errors.Is(err, collector.ErrLocked) {
		ms.respondWithError(w, r, http.StatusConflict, "A collection is already running", err)
		return
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Collection failed", err)
		return
	}
	ms.respondJSON(w, http.StatusOK, stats)
}
