package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists image bytes under a key and hands back a retrievable URL.
type Store interface {
	Put(key string, data []byte) (string, error)
}

// LocalStore writes blobs under a root directory. Files are served back by
// the HTTP server's /files static route.
type LocalStore struct {
	root    string
	baseURL string
}

func NewLocalStore(root, baseURL string) *LocalStore {
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *LocalStore) Put(key string, data []byte) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("blobstore: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("blobstore: %v", err)
	}
	return fmt.Sprintf("%s/files/%s", s.baseURL, key), nil
}
