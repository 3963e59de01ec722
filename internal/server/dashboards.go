package server

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
)

// DashboardsHandler serves Grafana dashboard JSON keyed by URL path.
// GET /dashboards/ lists the available paths.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	etags := make(map[string]string, len(dashboards))
	for path, data := range dashboards {
		sum := sha256.Sum256(data)
		etags[path] = `"` + hex.EncodeToString(sum[:8]) + `"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/dashboards/" || path == "/dashboards" {
			paths := make([]string, 0, len(dashboards))
			for p := range dashboards {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			WriteJSON(w, http.StatusOK, map[string]any{"dashboards": paths})
			return
		}

		data, ok := dashboards[path]
		if !ok || !strings.HasSuffix(path, ".json") {
			WriteError(w, http.StatusNotFound, "not_found", "dashboard not found")
			return
		}
		etag := etags[path]
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}
