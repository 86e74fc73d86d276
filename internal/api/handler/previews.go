package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/roomscan/internal/api/response"
)

// NewPreviewHandler serves GET /api/v1/previews/{contentHash}. The
// model_version query parameter defaults to defaultVersion.
func NewPreviewHandler(stages StageRunner, defaultVersion string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := r.URL.Query().Get("model_version")
		if version == "" {
			version = defaultVersion
		}

		raw, err := stages.GetCachedPreview(r.Context(), chi.URLParam(r, "contentHash"), version)
		if err != nil {
			response.FromError(w, r, err)
			return
		}
		response.Raw(w, raw)
	}
}
