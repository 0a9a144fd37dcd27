package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// assets, if non-nil, serves vault files and accepts attachment uploads.
func NewRouter(svc Service, authEnabled bool, token string, sseHandler http.Handler, assets *AssetHandler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes.
	r.Get("/notes/*", h.Preview)
	r.Put("/active", h.SetActiveFile)

	// Local drafts.
	r.Get("/drafts/{account}/*", h.GetDraft)
	r.Put("/drafts/{account}/*", h.PutDraft)

	// Platforms.
	r.Post("/wechat/drafts/*", h.SendWeChat)
	r.Post("/redbook/exports/*", h.ExportRedBook)
	r.Post("/halo/posts/*", h.PublishHalo)

	r.Get("/themes", h.ListThemes)

	if assets != nil {
		r.Get("/assets/*", assets.ServeFile)
		r.Post("/attachments", assets.Upload)
	}

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
