package subtitle

import (
	"path/filepath"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// LanguageFromFileName returns the language code embedded in names like
// "movie.spa.srt", lowercased, or "" when there is none.
func LanguageFromFileName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	ext := filepath.Ext(base)
	if ext == "" {
		return ""
	}
	code := strings.ToLower(strings.TrimPrefix(ext, "."))
	if len(code) < 2 || len(code) > 3 {
		return ""
	}
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return code
}

// DetectLanguage guesses the ISO 639-3 code of the cues' text. Only reliable detections
// are reported.
func DetectLanguage(cues []Cue) (string, bool) {
	var sb strings.Builder
	for _, c := range cues {
		sb.WriteString(c.Text)
		sb.WriteByte(' ')
		if sb.Len() > 4096 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", false
	}
	info := whatlanggo.Detect(sb.String())
	if !info.IsReliable() {
		return "", false
	}
	return info.Lang.Iso6393(), true
}
