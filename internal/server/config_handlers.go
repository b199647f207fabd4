package server

import (
	"net/http"
	"sort"

	"reelstream/internal/indexer"
)

// ConfigResponse represents the public configuration sent to the frontend
type ConfigResponse struct {
	Auth      AuthConfigResponse      `json:"auth"`
	Subtitles SubtitlesConfigResponse `json:"subtitles"`
	Search    SearchConfigResponse    `json:"search"`
	PublicURL string                  `json:"publicUrl,omitempty"`
}

// AuthConfigResponse represents auth-related configuration for the frontend
type AuthConfigResponse struct {
	Enabled bool `json:"enabled"`
}

// SubtitlesConfigResponse tells the player how selections behave.
type SubtitlesConfigResponse struct {
	AutoInternal  bool `json:"autoInternal"`
	MaxSelections int  `json:"maxSelections"`
}

// SearchConfigResponse lists what the search language picker can offer.
type SearchConfigResponse struct {
	Languages      []string `json:"languages"`
	Configurations []string `json:"configurations"`
}

// handleGetConfig returns public configuration settings for the frontend
func (ms *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	configs := SearchConfigs(ms.config.Search)

	known := ms.config.Search.Languages
	if len(known) == 0 {
		known = indexer.DefaultLanguages
	}
	languages := make([]string, 0, len(known))
	for code := range known {
		languages = append(languages, code)
	}
	sort.Strings(languages)
	names := configs.Names()
	sort.Strings(names)

	ms.respondJSON(w, http.StatusOK, ConfigResponse{
		Auth: AuthConfigResponse{Enabled: ms.authService.IsEnabled()},
		Subtitles: SubtitlesConfigResponse{
			AutoInternal:  ms.config.Subtitles.AutoInternal,
			MaxSelections: MaxSelections,
		},
		Search: SearchConfigResponse{
			Languages:      languages,
			Configurations: names,
		},
		PublicURL: ms.PublicURL(),
	})
}
