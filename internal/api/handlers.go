package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/inkwell/internal/models"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc Service
}

// NewHandler creates a new Handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// notePath extracts the note path from the wildcard segment. Encoded
// slashes (posts%2Fhello.md) are accepted.
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// decodeOptional reads a JSON body into v. An empty body leaves v as is.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// Preview handles GET /api/notes/{path}/preview.
//
//	@Summary		Render a note for preview
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Param			theme	query		string	false	"Theme name or path"
//	@Success		200		{object}	publish.Preview
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path}/preview [get]
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	p, ok := strings.CutSuffix(notePath(r), "/preview")
	if !ok || p == "" {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	preview, err := h.svc.RenderNote(r.Context(), p, r.URL.Query().Get("theme"))
	if err != nil {
		writeError(w, "render note", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// GetDraft handles GET /api/drafts/{account}/{path}.
//
//	@Summary		Get the stored draft of a note
//	@Tags			drafts
//	@Produce		json
//	@Param			account	path		string	true	"Account name"
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	models.Draft
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/drafts/{account}/{path} [get]
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	d, err := h.svc.GetDraft(chi.URLParam(r, "account"), path)
	if err != nil {
		writeError(w, "get draft", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// PutDraft handles PUT /api/drafts/{account}/{path}. The account and path
// in the URL win over the body.
//
//	@Summary		Store the draft of a note
//	@Tags			drafts
//	@Accept			json
//	@Produce		json
//	@Param			account	path		string			true	"Account name"
//	@Param			path	path		string			true	"Note path"
//	@Param			body	body		models.Draft	true	"Draft"
//	@Success		200		{object}	PutDraftResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/drafts/{account}/{path} [put]
func (h *Handler) PutDraft(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var d models.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	written, err := h.svc.PutDraft(chi.URLParam(r, "account"), path, &d)
	if err != nil {
		writeError(w, "put draft", err)
		return
	}
	writeJSON(w, http.StatusOK, PutDraftResponse{Written: written, Draft: &d})
}

// SendWeChat handles POST /api/wechat/drafts/{path}.
//
//	@Summary		Send a note to a WeChat draft box
//	@Tags			wechat
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string				true	"Note path"
//	@Param			body	body		SendWeChatRequest	false	"Account and theme"
//	@Success		201		{object}	publish.WeChatResult
//	@Failure		422		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/wechat/drafts/{path} [post]
func (h *Handler) SendWeChat(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req SendWeChatRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.svc.SendWeChat(r.Context(), path, req.Account, req.Theme)
	if err != nil {
		writeError(w, "send wechat draft", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ExportRedBook handles POST /api/redbook/exports/{path}.
//
//	@Summary		Write the RedBook bundle of a note
//	@Tags			redbook
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		201		{object}	redbook.Result
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/redbook/exports/{path} [post]
func (h *Handler) ExportRedBook(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.svc.ExportRedBook(r.Context(), path)
	if err != nil {
		writeError(w, "export redbook", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// PublishHalo handles POST /api/halo/posts/{path}.
//
//	@Summary		Publish a note to a Halo site
//	@Tags			halo
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string				true	"Note path"
//	@Param			body	body		PublishHaloRequest	false	"Site and publish flag"
//	@Success		200		{object}	halo.Result
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/halo/posts/{path} [post]
func (h *Handler) PublishHalo(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req PublishHaloRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.svc.PublishHalo(r.Context(), path, req.Site, req.Publish)
	if err != nil {
		writeError(w, "publish halo", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListThemes handles GET /api/themes.
//
//	@Summary		List custom themes
//	@Tags			themes
//	@Produce		json
//	@Success		200	{array}	theme.Theme
//	@Security		BearerAuth
//	@Router			/themes [get]
func (h *Handler) ListThemes(w http.ResponseWriter, _ *http.Request) {
	themes, err := h.svc.ListThemes()
	if err != nil {
		writeError(w, "list themes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"themes": themes})
}

// SetActiveFile handles PUT /api/active.
//
//	@Summary		Announce the note a client has open
//	@Tags			notes
//	@Accept			json
//	@Param			body	body	ActiveFileRequest	true	"Note path"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/active [put]
func (h *Handler) SetActiveFile(w http.ResponseWriter, r *http.Request) {
	var req ActiveFileRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.SetActiveFile(req.Path); err != nil {
		writeError(w, "set active file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
