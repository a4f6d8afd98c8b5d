package archive

import (
	"fmt"
	"io"
	"os"
)

// Spooled is a downloaded archive buffered to a temporary file so the zip
// directory at its end can be read.
type Spooled struct {
	file *os.File
	size int64
}

// Spool copies rc into a temporary file and closes rc.
func Spool(rc io.ReadCloser) (*Spooled, error) {
	defer rc.Close()

	f, err := os.CreateTemp("", "classification-results-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}

	n, err := io.Copy(f, rc)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("spool results: %w", err)
	}
	return &Spooled{file: f, size: n}, nil
}

// ReadAt implements io.ReaderAt.
func (s *Spooled) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the number of bytes spooled.
func (s *Spooled) Size() int64 {
	return s.size
}

// Close removes the temporary file.
func (s *Spooled) Close() error {
	name := s.file.Name()
	err := s.file.Close()
	if rmErr := os.Remove(name); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
