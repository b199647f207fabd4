// Package indexer stores subtitle cues as searchable lines and finds the
// moments of a film where a phrase is spoken.
package indexer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"reelstream/internal/database"
	"reelstream/internal/subtitle"
	"reelstream/internal/timecode"
	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
)

// ResumeLead is how many seconds before a matched line playback resumes.
const ResumeLead = 5

// ErrUnsupportedFormat is returned for subtitle files that are not SRT.
var ErrUnsupportedFormat = errors.New("unsupported subtitle format")

// Store is the persistence the indexer needs.
type Store interface {
	IngestSubtitles(ctx context.Context, sf *models.SubtitlesFile, lines []database.IndexedLine) (bool, error)
	SubtitlesFileExists(ctx context.Context, directory, fileName string) (bool, error)
	ListMediaFilesInDirectory(ctx context.Context, directory string) ([]models.MediaFile, error)
	SearchLines(ctx context.Context, terms, simpleTerms []string, limit int) ([]database.SubtitleHit, error)
	GetSubtitlesFile(ctx context.Context, id int) (*models.SubtitlesFile, error)
	GetSubtitleLines(ctx context.Context, subtitlesFileID int) ([]models.SubtitleLine, error)
}

// Indexer ingests subtitle files and answers phrase lookups.
type Indexer struct {
	store   Store
	configs *Configs
	logger  *logrus.Logger
}

// New creates an Indexer. A nil configs uses DefaultConfigs.
func New(store Store, configs *Configs, logger *logrus.Logger) *Indexer {
	if configs == nil {
		configs = DefaultConfigs()
	}
	return &Indexer{store: store, configs: configs, logger: logger}
}

// Configs returns the language table in use.
func (ix *Indexer) Configs() *Configs {
	return ix.configs
}

// Hit is one line matching a lookup.
type Hit struct {
	LineID          int     `json:"lineId"`
	SubtitlesFileID int     `json:"subtitlesFileId"`
	MediaFileID     *int    `json:"mediaFileId,omitempty"`
	FileName        string  `json:"fileName"`
	Directory       string  `json:"-"`
	Language        string  `json:"language"`
	Text            string  `json:"text"`
	Start           float64 `json:"start"`
	Resume          string  `json:"resume"` // HH:MM:SS
}

// Ingest stores the SRT file at directory/fileName with all its valid cues.
// A file that is already stored is left alone and reported as not created.
func (ix *Indexer) Ingest(ctx context.Context, directory, fileName string) (*models.SubtitlesFile, bool, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if ext != "srt" {
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedFormat, fileName)
	}

	exists, err := ix.store.SubtitlesFileExists(ctx, directory, fileName)
	if err != nil {
		return nil, false, err
	}
	if exists {
		return nil, false, nil
	}

	path := filepath.Join(directory, fileName)
	cues, problems, err := subtitle.ParseSRTFile(path)
	if err != nil {
		return nil, false, err
	}
	for _, p := range problems {
		ix.logger.WithError(p).WithField("file", path).Warn("Skipping malformed cue")
	}

	sf := &models.SubtitlesFile{
		Directory: directory,
		FileName:  fileName,
		Extension: ext,
		Language:  ix.language(fileName, cues),
	}

	media, err := ix.store.ListMediaFilesInDirectory(ctx, directory)
	if err != nil {
		return nil, false, fmt.Errorf("list media files: %w", err)
	}
	if mf := matchMediaFile(fileName, media); mf != nil {
		id := mf.ID
		sf.MediaFileID = &id
	}

	lines := make([]database.IndexedLine, 0, len(cues))
	for _, c := range cues {
		terms := ix.configs.Lexemes(sf.Language, c.Text)
		lines = append(lines, database.IndexedLine{
			Line: models.SubtitleLine{
				Index:        c.Index,
				Start:        c.Start,
				End:          c.End,
				Text:         c.Text,
				SearchConfig: sf.Language,
				Vector:       strings.Join(terms, " "),
			},
			Terms: terms,
		})
	}

	created, err := ix.store.IngestSubtitles(ctx, sf, lines)
	if err != nil {
		return nil, false, fmt.Errorf("ingest %s: %w", fileName, err)
	}
	if created {
		ix.logger.WithFields(logrus.Fields{
			"file":     path,
			"language": sf.Language,
			"lines":    len(lines),
			"skipped":  len(problems),
		}).Info("Indexed subtitles")
	}
	return sf, created, nil
}

// language picks the search configuration from the file name tag, falling
// back to detection on the text and then to simple.
func (ix *Indexer) language(fileName string, cues []subtitle.Cue) string {
	if code := subtitle.LanguageFromFileName(fileName); code != "" {
		if cfg := ix.configs.ForLanguage(code); cfg != SimpleConfig {
			return cfg
		}
	}
	if code, ok := subtitle.DetectLanguage(cues); ok {
		return ix.configs.ForLanguage(code)
	}
	return SimpleConfig
}

// matchMediaFile returns the media file whose base name is the longest prefix
// of the subtitle name, compared case-insensitively.
func matchMediaFile(subName string, media []models.MediaFile) *models.MediaFile {
	name := strings.ToLower(subName)
	var best *models.MediaFile
	bestLen := 0
	for i := range media {
		base := strings.ToLower(strings.TrimSuffix(media[i].FileName, filepath.Ext(media[i].FileName)))
		if base == "" || !strings.HasPrefix(name, base) {
			continue
		}
		if len(base) > bestLen {
			best = &media[i]
			bestLen = len(base)
		}
	}
	return best
}

// Lookup finds lines containing every term of query under lang's
// configuration, plus simple-indexed lines containing every plain term.
func (ix *Indexer) Lookup(ctx context.Context, query, lang string, limit int) ([]Hit, error) {
	cfg := ix.configs.ForLanguage(lang)
	terms := ix.configs.Lexemes(cfg, query)
	simpleTerms := ix.configs.Lexemes(SimpleConfig, query)
	if len(terms) == 0 && len(simpleTerms) == 0 {
		return nil, nil
	}

	rows, err := ix.store.SearchLines(ctx, terms, simpleTerms, limit)
	if err != nil {
		return nil, fmt.Errorf("search lines: %w", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{
			LineID:          r.Line.ID,
			SubtitlesFileID: r.Line.SubtitlesFileID,
			MediaFileID:     r.MediaFileID,
			FileName:        r.FileName,
			Directory:       r.Directory,
			Language:        r.Language,
			Text:            r.Line.Text,
			Start:           r.Line.Start,
			Resume:          ResumePoint(r.Line.Start),
		})
	}
	return hits, nil
}

// ResumePoint is where to start playing to catch a line starting at start.
func ResumePoint(start float64) string {
	return timecode.FormatClock(math.Max(0, start-ResumeLead))
}

// Export writes the stored lines of a subtitles file as SRT, ordered by start.
func (ix *Indexer) Export(ctx context.Context, subtitlesFileID int, w io.Writer) error {
	if _, err := ix.store.GetSubtitlesFile(ctx, subtitlesFileID); err != nil {
		return err
	}
	lines, err := ix.store.GetSubtitleLines(ctx, subtitlesFileID)
	if err != nil {
		return fmt.Errorf("load lines: %w", err)
	}

	cues := make([]subtitle.Cue, len(lines))
	for i, l := range lines {
		cues[i] = subtitle.Cue{Index: l.Index, Start: l.Start, End: l.End, Text: l.Text}
	}
	return subtitle.WriteSRT(w, cues)
}

// ExportFile writes the SRT export to path.
func (ix *Indexer) ExportFile(ctx context.Context, subtitlesFileID int, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := ix.Export(ctx, subtitlesFileID, bw); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
