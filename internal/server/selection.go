package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"reelstream/internal/database"
	"reelstream/internal/resolver"
	"reelstream/pkg/models"
)

// MaxSelections is how many subtitle tracks can be burnt in at once.
const MaxSelections = 2

const trackPrefix = "track:"

// ErrInvalidSelection is returned for subtitle tokens that name nothing usable.
var ErrInvalidSelection = errors.New("invalid subtitle selection")

// selectionTokens reads the subtitle tokens of a query: repeated sub values,
// then sub_0 and sub_1. present is false when none of the keys appear at all,
// which is what allows auto-selection.
func selectionTokens(q url.Values) (tokens []string, present bool) {
	for _, key := range []string{"sub", "sub_0", "sub_1"} {
		values, ok := q[key]
		if !ok {
			continue
		}
		present = true
		for _, v := range values {
			if v = sanitizeInput(v); v != "" {
				tokens = append(tokens, v)
			}
		}
	}
	return tokens, present
}

// Selections turns subtitle tokens into tracks of mf. A token is a subtitles
// file id, the name of a sidecar file next to the media file, or track:<n>
// for an embedded track. With auto set and no tokens, the first embedded
// track with a supported codec is chosen.
func (s *Services) Selections(ctx context.Context, mf *models.MediaFile, tokens []string, auto bool) ([]models.SubtitleTrack, error) {
	if len(tokens) > MaxSelections {
		return nil, fmt.Errorf("%w: at most %d subtitles", ErrInvalidSelection, MaxSelections)
	}

	if len(tokens) == 0 {
		if !auto {
			return nil, nil
		}
		internal, err := s.Prober.SubtitleTracks(ctx, mf)
		if err != nil {
			s.logger.WithError(err).WithField("media_file_id", mf.ID).Warn("Could not list embedded subtitles")
			return nil, nil
		}
		for _, t := range internal {
			if resolver.Supported(t.CodecID) {
				t.Label = fmt.Sprintf("%s%d", trackPrefix, t.TrackIndex)
				return []models.SubtitleTrack{t}, nil
			}
		}
		return nil, nil
	}

	tracks := make([]models.SubtitleTrack, 0, len(tokens))
	for _, token := range tokens {
		t, err := s.selection(ctx, mf, token)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (s *Services) selection(ctx context.Context, mf *models.MediaFile, token string) (models.SubtitleTrack, error) {
	if rest, ok := strings.CutPrefix(token, trackPrefix); ok {
		index, err := strconv.Atoi(rest)
		if err != nil {
			return models.SubtitleTrack{}, fmt.Errorf("%w: %q", ErrInvalidSelection, token)
		}
		internal, err := s.Prober.SubtitleTracks(ctx, mf)
		if err != nil {
			return models.SubtitleTrack{}, fmt.Errorf("list embedded subtitles: %w", err)
		}
		for _, t := range internal {
			if t.TrackIndex == index {
				t.Label = token
				return t, nil
			}
		}
		return models.SubtitleTrack{}, fmt.Errorf("%w: no embedded track %d", ErrInvalidSelection, index)
	}

	if id, err := strconv.Atoi(token); err == nil {
		sf, err := s.DB.GetSubtitlesFile(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			return models.SubtitleTrack{}, fmt.Errorf("%w: no subtitles file %d", ErrInvalidSelection, id)
		}
		if err != nil {
			return models.SubtitleTrack{}, err
		}
		linked := sf.MediaFileID != nil && *sf.MediaFileID == mf.ID
		if !linked && sf.Directory != mf.Directory {
			return models.SubtitleTrack{}, fmt.Errorf("%w: subtitles file %d belongs elsewhere", ErrInvalidSelection, id)
		}
		return models.SubtitleTrack{Path: sf.FullPath(), Language: sf.Language, Label: token}, nil
	}

	// sidecar names never leave the media file's directory
	if filepath.Base(token) != token || token == "." || token == ".." {
		return models.SubtitleTrack{}, fmt.Errorf("%w: %q", ErrInvalidSelection, token)
	}
	path := filepath.Join(mf.Directory, token)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return models.SubtitleTrack{}, fmt.Errorf("%w: no sidecar %q", ErrInvalidSelection, token)
	}
	return models.SubtitleTrack{Path: path, Label: token}, nil
}

// sidecarExtensions are the subtitle formats offered from a media file's directory.
var sidecarExtensions = map[string]bool{".srt": true, ".ass": true}

// Sidecars lists the subtitle files next to mf whose name contains the media file's
// base name, indexed or not, sorted by name.
func Sidecars(mf *models.MediaFile) ([]string, error) {
	entries, err := os.ReadDir(mf.Directory)
	if err != nil {
		return nil, err
	}
	stem := strings.TrimSuffix(mf.FileName, filepath.Ext(mf.FileName))
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !sidecarExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		if strings.Contains(name, stem) {
			names = append(names, name)
		}
	}
	return names, nil
}

// selectionLabels lists the tokens that reproduce tracks.
func selectionLabels(tracks []models.SubtitleTrack) []string {
	labels := make([]string, 0, len(tracks))
	for _, t := range tracks {
		labels = append(labels, t.Label)
	}
	return labels
}
