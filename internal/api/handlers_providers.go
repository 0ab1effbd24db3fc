package api

import (
	"context"
	"net/http"
	"time"

	"github.com/fetcharr/fetcharr/internal/httputil"
)

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	type providerInfo struct {
		ID          string   `json:"id"`
		EntityTypes []string `json:"entity_types"`
		AuthMode    string   `json:"auth_mode"`
	}
	var out []providerInfo
	for _, a := range s.registry.Enabled() {
		caps := a.Capabilities()
		kinds := make([]string, 0, len(caps.EntityTypes))
		for _, k := range caps.EntityTypes {
			kinds = append(kinds, string(k))
		}
		out = append(out, providerInfo{ID: caps.ID, EntityTypes: kinds, AuthMode: caps.AuthMode})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleTestProviders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	results := map[string]any{}
	for id, err := range s.registry.TestAll(ctx) {
		if err != nil {
			results[id] = map[string]any{"ok": false, "error": err.Error()}
		} else {
			results[id] = map[string]any{"ok": true}
		}
	}
	httputil.WriteJSON(w, http.StatusOK, results)
}
