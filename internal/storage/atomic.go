package storage

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

var logger = log.New(os.Stdout, "STORAGE: ", log.LstdFlags|log.Lshortfile)

// WriteError reports an output file that could not be written. The previous
// file at Path, if any, is left as it was.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// writeAtomic streams the output of fill into a temp file next to path and
// renames it over path once everything is on disk.
func writeAtomic(path string, fill func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("could not create output dir: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("could not create temp file: %w", err)}
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			if rerr := os.Remove(tmpPath); rerr != nil && !os.IsNotExist(rerr) {
				logger.Printf("Warning: failed to remove temp file %s: %v", tmpPath, rerr)
			}
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err := fill(buf); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := buf.Flush(); err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("flush: %w", err)}
	}
	if err := tmp.Sync(); err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("sync: %w", err)}
	}
	if err := tmp.Chmod(0o644); err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("chmod: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("close: %w", err)}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("rename: %w", err)}
	}
	return nil
}
