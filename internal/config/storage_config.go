package config

import (
	"os"
	"path/filepath"
)

type StorageConfig interface {
	GetSessionFile() string
	GetGrantCacheFile() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetSessionFile returns the path of the session record shared by every
// context of this installation.
func (Storage) GetSessionFile() string {
	return GetEnv("SESSION_FILE", filepath.Join(configDir(), "session.json"))
}

// GetGrantCacheFile returns the path of the cached provider grant.
func (Storage) GetGrantCacheFile() string {
	return GetEnv("GRANT_CACHE_FILE", filepath.Join(configDir(), "grant.json"))
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".birthday-tracker"
	}
	return filepath.Join(home, ".config", "birthday-tracker")
}
