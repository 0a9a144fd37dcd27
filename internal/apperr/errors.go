// Package apperr holds sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidDraft is returned when a draft lacks its account or note path.
	ErrInvalidDraft = errors.New("invalid draft: account name and note path are required")
	// ErrSiteMismatch is returned when a note is already bound to a different remote site.
	ErrSiteMismatch = errors.New("note is already published to a different site")
	ErrConfig       = errors.New("configuration error")
	ErrMissingCover = errors.New("cover image is required")

	ErrAttachmentPermission    = errors.New("attachment upload not permitted")
	ErrAttachmentNotConfigured = errors.New("attachment storage is not configured on the server")
	ErrUploadFailed            = errors.New("upload failed")
)
