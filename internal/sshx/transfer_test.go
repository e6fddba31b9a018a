package sshx

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFS is an in-memory remoteFS.
type memFS struct {
	files  map[string][]byte
	closed bool
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string][]byte)}
}

func (f *memFS) Open(path string) (io.ReadCloser, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *memFS) Create(path string) (io.WriteCloser, error) {
	return &memFile{fs: f, path: path}, nil
}

func (f *memFS) ReadDir(path string) ([]os.FileInfo, error) {
	if path != "/data" {
		return nil, os.ErrNotExist
	}
	return []os.FileInfo{
		fileInfo{name: "report.csv", size: 1024},
		fileInfo{name: "logs", dir: true},
	}, nil
}

func (f *memFS) Close() error {
	f.closed = true
	return nil
}

type memFile struct {
	fs   *memFS
	path string
	buf  bytes.Buffer
}

func (m *memFile) Write(p []byte) (int, error) { return m.buf.Write(p) }

func (m *memFile) Close() error {
	m.fs.files[m.path] = m.buf.Bytes()
	return nil
}

type fileInfo struct {
	name string
	size int64
	dir  bool
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() os.FileMode  { return 0o644 }
func (fi fileInfo) ModTime() time.Time { return time.Unix(0, 0) }
func (fi fileInfo) IsDir() bool        { return fi.dir }
func (fi fileInfo) Sys() interface{}   { return nil }

func newTestTransfer(fs *memFS) *Transfer {
	return &Transfer{openFS: func(*Wrapper) (remoteFS, error) { return fs, nil }}
}

func TestUploadThenDownloadAcrossChunkBoundaries(t *testing.T) {
	fs := newMemFS()
	tr := newTestTransfer(fs)
	w := NewWrapper(nil)

	// More than three chunks, not chunk-aligned.
	payload := make([]byte, 3*chunkSize+777)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	up := <-tr.Upload(w, "/data/blob.bin", bytes.NewReader(payload))
	require.NoError(t, up.Err)
	assert.Equal(t, int64(len(payload)), up.Bytes)

	down := <-tr.Download(w, "/data/blob.bin")
	require.NoError(t, down.Err)
	assert.Equal(t, payload, down.Data)
	assert.Equal(t, "blob.bin", down.Filename)
}

func TestDownloadMissingFileFails(t *testing.T) {
	tr := newTestTransfer(newMemFS())

	result := <-tr.Download(NewWrapper(nil), "/data/missing.bin")
	assert.Error(t, result.Err)
	assert.Equal(t, "missing.bin", result.Filename)
}

func TestUploadEmptyFile(t *testing.T) {
	fs := newMemFS()
	tr := newTestTransfer(fs)

	result := <-tr.Upload(NewWrapper(nil), "/data/empty.txt", bytes.NewReader(nil))
	require.NoError(t, result.Err)
	assert.Equal(t, int64(0), result.Bytes)
	assert.Contains(t, fs.files, "/data/empty.txt")
}

func TestListMapsEntries(t *testing.T) {
	tr := newTestTransfer(newMemFS())

	entries, err := tr.List(NewWrapper(nil), "/data")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "report.csv", entries[0].Name)
	assert.Equal(t, int64(1024), entries[0].Size)
	assert.False(t, entries[0].IsDir)
	assert.True(t, entries[1].IsDir)
}

func TestTransferClosesFS(t *testing.T) {
	fs := newMemFS()
	tr := newTestTransfer(fs)

	<-tr.Upload(NewWrapper(nil), "/data/a", bytes.NewReader([]byte("x")))
	assert.True(t, fs.closed)
}
