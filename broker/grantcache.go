package broker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// grantCache persists the provider grant between processes so silent token
// requests can succeed after a restart.
//
// The cached grant is a credential: the file is written with 0600
// permissions inside a 0700 directory, and grant values are never logged.
type grantCache struct {
	mu   sync.Mutex
	path string
}

func newGrantCache(path string) (*grantCache, error) {
	if path == "" {
		return nil, errors.New("[newGrantCache] path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "[newGrantCache] create cache directory")
	}
	return &grantCache{path: path}, nil
}

// Load returns the cached grant, or nil when none exists.
func (c *grantCache) Load() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[grantCache.Load] read cache file")
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, errors.Wrap(err, "[grantCache.Load] decode cached grant")
	}
	return &tok, nil
}

// Save replaces the cached grant atomically.
func (c *grantCache) Save(tok *oauth2.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(tok)
	if err != nil {
		return errors.Wrap(err, "[grantCache.Save] encode grant")
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "[grantCache.Save] write cache file")
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return errors.Wrap(err, "[grantCache.Save] replace cache file")
	}
	return nil
}

// Remove drops the cached grant. Removing an absent cache is not an error.
func (c *grantCache) Remove() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[grantCache.Remove] remove cache file")
	}
	return nil
}
