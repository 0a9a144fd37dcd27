package models

import "time"

// FileMetadata describes one file in the vault.
type FileMetadata struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsNote reports whether the file is a Markdown note.
func (m FileMetadata) IsNote() bool {
	return len(m.Path) > 3 && m.Path[len(m.Path)-3:] == ".md"
}
