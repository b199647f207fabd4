package indexer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SimpleConfig lowercases and splits only. It is always available.
const SimpleConfig = "simple"

// SearchConfig describes how text of one language is turned into lexemes.
type SearchConfig struct {
	Name        string
	Language    language.Tag
	Stopwords   []string
	FoldAccents bool
}

// Configs maps language codes to search configurations.
type Configs struct {
	languages map[string]string
	configs   map[string]*compiledConfig
}

type compiledConfig struct {
	SearchConfig
	lower     cases.Caser
	stopwords map[string]struct{}
}

// DefaultLanguages maps the language codes found in subtitle file names, and
// the ISO 639-3 codes reported by language detection, to configuration names.
var DefaultLanguages = map[string]string{
	"spa": "spanish",
	"esp": "spanish",
	"eng": "english",
	"ger": "german",
	"deu": "german",
	"fre": "french",
	"fra": "french",
	"por": "portuguese",
}

// DefaultSearchConfigs returns the built-in configurations.
func DefaultSearchConfigs() []SearchConfig {
	return []SearchConfig{
		{Name: "english", Language: language.English, Stopwords: englishStopwords},
		{Name: "spanish", Language: language.Spanish, Stopwords: spanishStopwords, FoldAccents: true},
		{Name: "german", Language: language.German, Stopwords: germanStopwords},
		{Name: "french", Language: language.French, Stopwords: frenchStopwords, FoldAccents: true},
		{Name: "portuguese", Language: language.Portuguese, Stopwords: portugueseStopwords, FoldAccents: true},
	}
}

// NewConfigs builds a configuration table. The simple configuration is added
// when configs does not define it.
func NewConfigs(languages map[string]string, configs []SearchConfig) *Configs {
	c := &Configs{
		languages: make(map[string]string, len(languages)),
		configs:   make(map[string]*compiledConfig, len(configs)+1),
	}
	for code, name := range languages {
		c.languages[strings.ToLower(code)] = name
	}
	for _, sc := range configs {
		c.add(sc)
	}
	if _, ok := c.configs[SimpleConfig]; !ok {
		c.add(SearchConfig{Name: SimpleConfig, Language: language.Und})
	}
	return c
}

// DefaultConfigs returns the built-in language table.
func DefaultConfigs() *Configs {
	return NewConfigs(DefaultLanguages, DefaultSearchConfigs())
}

func (c *Configs) add(sc SearchConfig) {
	cc := &compiledConfig{
		SearchConfig: sc,
		lower:        cases.Lower(sc.Language),
		stopwords:    make(map[string]struct{}, len(sc.Stopwords)),
	}
	for _, w := range sc.Stopwords {
		cc.stopwords[w] = struct{}{}
	}
	c.configs[sc.Name] = cc
}

// ForLanguage returns the configuration name for a language code. A known
// configuration name is returned as is; anything else maps to simple.
func (c *Configs) ForLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if name, ok := c.languages[code]; ok {
		if _, known := c.configs[name]; known {
			return name
		}
	}
	if _, ok := c.configs[code]; ok {
		return code
	}
	return SimpleConfig
}

// Names lists the configured configuration names.
func (c *Configs) Names() []string {
	names := make([]string, 0, len(c.configs))
	for name := range c.configs {
		names = append(names, name)
	}
	return names
}

// Lexemes turns text into the deduplicated, ordered terms it is indexed by
// under the named configuration.
func (c *Configs) Lexemes(config, text string) []string {
	cc, ok := c.configs[config]
	if !ok {
		cc = c.configs[SimpleConfig]
	}

	t := norm.NFC.String(text)
	if cc.FoldAccents {
		if folded, _, err := transform.String(accentFolder(), t); err == nil {
			t = folded
		}
	}
	t = cc.lower.String(t)

	words := strings.FieldsFunc(t, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(words))
	var out []string
	for _, w := range words {
		if _, stop := cc.stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// accentFolder strips combining marks; transformers are stateful so each
// call gets its own chain.
func accentFolder() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

var englishStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "if", "in", "into", "is",
	"it", "no", "not", "of", "on", "or", "such", "that", "the", "their", "then", "there",
	"these", "they", "this", "to", "was", "will", "with",
}

var spanishStopwords = []string{
	"a", "al", "con", "de", "del", "el", "en", "es", "la", "las", "lo", "los", "o", "para",
	"por", "que", "se", "su", "un", "una", "y",
}

var germanStopwords = []string{
	"der", "die", "das", "und", "ist", "ein", "eine", "zu", "den", "dem", "des", "mit", "von",
	"im", "in", "auf", "nicht", "es",
}

var frenchStopwords = []string{
	"le", "la", "les", "de", "des", "du", "un", "une", "et", "en", "est", "a", "au", "aux",
	"que", "qui", "dans", "pour", "pas", "ne", "se",
}

var portugueseStopwords = []string{
	"a", "o", "as", "os", "de", "do", "da", "dos", "das", "e", "em", "um", "uma", "que",
	"para", "com", "no", "na", "se", "por",
}
