package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/render"
	"github.com/starford/inkwell/internal/vault"
)

const maxUploadBytes = 50 << 20

// AssetHandler serves vault files to previews and stores uploaded
// attachments.
type AssetHandler struct {
	vault  *vault.Vault
	writer FileWriter
	folder string
}

// FileWriter writes a vault-relative file. *storage.FS implements it.
type FileWriter interface {
	Write(path string, content []byte) error
}

// NewAssetHandler creates a handler. Uploads land in folder.
func NewAssetHandler(v *vault.Vault, w FileWriter, folder string) *AssetHandler {
	if folder == "" {
		folder = "attachments"
	}
	return &AssetHandler{vault: v, writer: w, folder: strings.Trim(folder, "/")}
}

// cleanPath rejects absolute paths, traversal and hidden segments.
func cleanPath(p string) (string, bool) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." || strings.HasPrefix(part, ".") {
			return "", false
		}
	}
	return path.Clean(p), true
}

// ServeFile handles GET /api/assets/*.
func (h *AssetHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	p, ok := cleanPath(notePath(r))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid path"))
		return
	}
	data, err := h.vault.ReadFile(p)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		writeError(w, "serve asset", err)
		return
	}
	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	http.ServeContent(w, r, path.Base(p), time.Time{}, bytes.NewReader(data))
}

// Upload handles POST /api/attachments (multipart/form-data, field "file").
func (h *AssetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name := header.Filename
	if name == "" || name != path.Base(name) || strings.ContainsAny(name, `\`) || strings.HasPrefix(name, ".") {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid filename: "+name))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	p := path.Join(h.folder, name)
	if err := h.writer.Write(p, data); err != nil {
		writeError(w, "upload attachment", err)
		return
	}
	h.vault.Invalidate()
	writeJSON(w, http.StatusCreated, AttachmentUploadResponse{
		Path: p,
		Size: int64(len(data)),
		URL:  render.DefaultAssetURL(p),
	})
}
