package blobstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStore(root, "http://localhost:4000/")

	url, err := s.Put("images/abc.jpg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000/files/images/abc.jpg", url)

	data, err := os.ReadFile(filepath.Join(root, "images", "abc.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}

func TestPutCreatesDirectories(t *testing.T) {
	s := NewLocalStore(t.TempDir(), "http://localhost:4000")

	_, err := s.Put("images/2024/01/deep.jpg", []byte("x"))
	assert.NoError(t, err)
}
