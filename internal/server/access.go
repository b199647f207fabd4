package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"reelstream/internal/database"
	"reelstream/pkg/models"
)

var errAccessDenied = errors.New("access denied")

// access answers permission questions for one user during one request.
type access struct {
	username  string
	superuser bool
	dirs      []models.Directory
}

func (ms *Server) accessFor(ctx context.Context) (*access, error) {
	dirs, err := ms.db.ListDirectories(ctx)
	if err != nil {
		return nil, err
	}
	username := usernameFrom(ctx)
	return &access{
		username:  username,
		superuser: ms.authService.IsSuperuser(username),
		dirs:      dirs,
	}, nil
}

// owner returns the innermost library directory containing path.
func (a *access) owner(path string) *models.Directory {
	var best *models.Directory
	for i := range a.dirs {
		d := &a.dirs[i]
		if path != d.Path && !strings.HasPrefix(path, d.Path+"/") {
			continue
		}
		if best == nil || len(d.Path) > len(best.Path) {
			best = d
		}
	}
	return best
}

// allows reports whether files under path may be listed and played. Files
// outside every library directory or inside an ignored one never are.
func (a *access) allows(path string) bool {
	d := a.owner(path)
	if d == nil || d.Ignore {
		return false
	}
	return a.superuser || slices.Contains(d.AllowedUsers, a.username)
}

// mediaFileForRequest loads the media file named by the {id} path value and
// checks the caller may use it. It writes the error response itself.
func (ms *Server) mediaFileForRequest(w http.ResponseWriter, r *http.Request) (*models.MediaFile, bool) {
	id, verr := validateID(r.PathValue("id"), "media_file_id")
	if verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return nil, false
	}

	mf, err := ms.db.GetMediaFile(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		ms.respondWithError(w, r, http.StatusNotFound, "Media file not found", nil)
		return nil, false
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving media file", err)
		return nil, false
	}

	acc, err := ms.accessFor(r.Context())
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error checking permissions", err)
		return nil, false
	}
	if !acc.allows(mf.Directory) {
		ms.respondWithError(w, r, http.StatusForbidden, "Access denied", errAccessDenied)
		return nil, false
	}
	return mf, true
}
