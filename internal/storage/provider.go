// Package storage defines the vault file-system abstraction.
package storage

import "github.com/starford/inkwell/internal/models"

// Provider is the interface for vault file operations. All paths are
// slash-separated and relative to the vault root.
type Provider interface {
	// Notes returns metadata for every .md file under dir.
	Notes(dir string) ([]models.FileMetadata, error)
	// Files returns metadata for every regular file under dir, notes included.
	Files(dir string) ([]models.FileMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) bool
	// Root returns the absolute vault directory.
	Root() string
}
