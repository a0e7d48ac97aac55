package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "subdir", "gateway.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(logFile)
	assert.NoError(t, err)
}

func TestRotatingWriterWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := newRotatingWriter(fs, "/logs/gateway.log", 1024, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	data := []byte("tool.ok\n")
	n, err := rw.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	content, err := afero.ReadFile(fs, "/logs/gateway.log")
	require.NoError(t, err)
	assert.Equal(t, "tool.ok\n", string(content))
}

func TestRotatingWriterRotation(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := newRotatingWriter(fs, "/logs/gateway.log", 16, 0, false)
	require.NoError(t, err)
	rw.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	defer rw.Close()

	_, err = rw.Write([]byte("0123456789\n"))
	require.NoError(t, err)
	_, err = rw.Write([]byte("abcdefghij\n"))
	require.NoError(t, err)

	rotated, err := afero.ReadFile(fs, "/logs/gateway.log.20260301-100000")
	require.NoError(t, err)
	assert.Equal(t, "0123456789\n", string(rotated))

	current, err := afero.ReadFile(fs, "/logs/gateway.log")
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij\n", string(current))
}

func TestRotatingWriterOversizedFirstWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := newRotatingWriter(fs, "/logs/gateway.log", 4, 0, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = rw.Write([]byte("longer than four bytes"))
	require.NoError(t, err)

	matches, err := afero.Glob(fs, "/logs/gateway.log.*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRotatingWriterClose(t *testing.T) {
	rw, err := newRotatingWriter(afero.NewMemMapFs(), "/gateway.log", 1024, 7, false)
	require.NoError(t, err)

	require.NoError(t, rw.Close())
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestCompressFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/old.log", []byte("old content"), 0644))

	rw := &RotatingWriter{fs: fs}
	require.NoError(t, rw.compressFile("/old.log"))

	exists, err := afero.Exists(fs, "/old.log")
	require.NoError(t, err)
	assert.False(t, exists)

	f, err := fs.Open("/old.log.gz")
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "old content", string(content))
}

func TestCleanup(t *testing.T) {
	fs := afero.NewMemMapFs()
	oldFile := "/logs/gateway.log.20200101-120000"
	freshFile := "/logs/gateway.log.20260301-120000"
	require.NoError(t, afero.WriteFile(fs, oldFile, []byte("old"), 0644))
	require.NoError(t, afero.WriteFile(fs, freshFile, []byte("fresh"), 0644))

	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, fs.Chtimes(oldFile, oldTime, oldTime))

	rw, err := newRotatingWriter(fs, "/logs/gateway.log", 1024, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	exists, _ := afero.Exists(fs, oldFile)
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, freshFile)
	assert.True(t, exists)
}
