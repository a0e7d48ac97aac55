package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const rotatedSuffixLayout = "20060102-150405"

// RotatingWriter is a size-bounded log file. When the next write would pass
// maxSize the file is renamed with a timestamp suffix and a fresh one opened.
type RotatingWriter struct {
	mu       sync.Mutex
	fs       afero.Fs
	filename string
	maxSize  int64 // bytes
	maxAge   int   // days
	compress bool
	file     afero.File
	size     int64
	now      func() time.Time
}

// NewRotatingWriter opens filename on the OS filesystem
func NewRotatingWriter(filename string, maxSizeMB int, maxAge int, compress bool) (*RotatingWriter, error) {
	return newRotatingWriter(afero.NewOsFs(), filename, int64(maxSizeMB)*1024*1024, maxAge, compress)
}

func newRotatingWriter(fs afero.Fs, filename string, maxSize int64, maxAge int, compress bool) (*RotatingWriter, error) {
	if err := fs.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		fs:       fs,
		filename: filename,
		maxSize:  maxSize,
		maxAge:   maxAge,
		compress: compress,
		now:      time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}

	w.cleanup()

	return w, nil
}

func (w *RotatingWriter) open() error {
	file, err := w.fs.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would overflow the current file
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current log file
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	rotated := w.filename + "." + w.now().Format(rotatedSuffixLayout)
	if err := w.fs.Rename(w.filename, rotated); err != nil {
		return err
	}
	if w.compress {
		if err := w.compressFile(rotated); err != nil {
			return fmt.Errorf("failed to compress %s: %w", rotated, err)
		}
	}

	if err := w.open(); err != nil {
		return err
	}
	w.cleanup()
	return nil
}

// compressFile replaces filename with filename.gz
func (w *RotatingWriter) compressFile(filename string) error {
	src, err := w.fs.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := w.fs.Create(filename + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return w.fs.Remove(filename)
}

// cleanup removes rotated files older than maxAge days
func (w *RotatingWriter) cleanup() {
	if w.maxAge <= 0 {
		return
	}

	matches, err := afero.Glob(w.fs, w.filename+".*")
	if err != nil {
		return
	}

	cutoff := w.now().AddDate(0, 0, -w.maxAge)
	for _, path := range matches {
		info, err := w.fs.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		w.fs.Remove(path)
		if !strings.HasSuffix(path, ".gz") {
			w.fs.Remove(path + ".gz")
		}
	}
}
