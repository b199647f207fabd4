package server

import (
	"net/http"
	"strconv"

	"reelstream/internal/indexer"

	"github.com/sirupsen/logrus"
)

// SearchResponse is a subtitle lookup result.
type SearchResponse struct {
	Query    string        `json:"query"`
	Language string        `json:"language,omitempty"`
	Config   string        `json:"config"`
	Hits     []indexer.Hit `json:"hits"`
}

// handleSearchSubtitles finds subtitle lines by phrase. Hits in directories
// the user cannot browse are left out.
func (ms *Server) handleSearchSubtitles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := sanitizeInput(q.Get("q"))
	if verr := validateSearchQuery(query); verr != nil {
		ms.respondWithValidationError(w, r, *verr)
		return
	}
	lang := sanitizeInput(q.Get("lang"))

	limit := ms.config.Search.Limit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ms.respondWithValidationError(w, r, ValidationError{
				Field:   "limit",
				Message: "Limit must be a positive number",
				Code:    "INVALID_LIMIT",
			})
			return
		}
		if limit <= 0 || n < limit {
			limit = n
		}
	}

	acc, err := ms.accessFor(r.Context())
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error checking permissions", err)
		return
	}

	hits, err := ms.svc.Indexer.Lookup(r.Context(), query, lang, limit)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Search failed", err)
		return
	}

	visible := make([]indexer.Hit, 0, len(hits))
	for _, h := range hits {
		if acc.allows(h.Directory) {
			visible = append(visible, h)
		}
	}

	ms.logger.WithFields(logrus.Fields{
		"user":  acc.username,
		"query": query,
		"lang":  lang,
		"hits":  len(visible),
	}).Debug("Subtitle search")

	ms.respondJSON(w, http.StatusOK, SearchResponse{
		Query:    query,
		Language: lang,
		Config:   ms.svc.Indexer.Configs().ForLanguage(lang),
		Hits:     visible,
	})
}
