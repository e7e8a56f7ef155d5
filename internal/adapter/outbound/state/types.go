// Package state provides file-based persistence for dashgate session tokens.
//
// The credentials file holds the persisted token entries. This package
// provides atomic writes, file locking and permission checks.
package state

import "time"

// currentVersion is the schema version written to new files.
const currentVersion = "1"

// CredentialsFile is the top-level structure persisted on disk.
type CredentialsFile struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// Entries maps storage keys to their values.
	Entries map[string]string `json:"entries"`

	// UpdatedAt is when the file was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

func newCredentialsFile() *CredentialsFile {
	return &CredentialsFile{
		Version: currentVersion,
		Entries: make(map[string]string),
	}
}
