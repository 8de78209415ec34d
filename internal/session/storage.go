package session

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Writer is one append-only log file.
type Writer interface {
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

// Storage creates named writers. Create must fail with an error wrapping
// fs.ErrExist when name is already taken.
type Storage interface {
	Create(name string) (Writer, error)
}

// DirStorage stores each writer as a buffered file under Dir.
type DirStorage struct {
	Dir string
}

func (d DirStorage) Create(name string) (Writer, error) {
	if d.Dir == "" {
		return nil, errors.New("session: storage dir is empty")
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: mkdir %s: %w", d.Dir, err)
	}
	path := filepath.Join(d.Dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: create %s: %w", path, err)
	}
	return &fileWriter{f: f, w: bufio.NewWriterSize(f, 32*1024)}, nil
}

type fileWriter struct {
	f      *os.File
	w      *bufio.Writer
	closed bool
}

func (fw *fileWriter) Write(p []byte) (int, error) {
	if fw.closed {
		return 0, errors.New("session: write on closed log")
	}
	return fw.w.Write(p)
}

func (fw *fileWriter) Flush() error {
	if fw.closed {
		return nil
	}
	return fw.w.Flush()
}

func (fw *fileWriter) Close() error {
	if fw.closed {
		return nil
	}
	fw.closed = true
	if err := fw.w.Flush(); err != nil {
		_ = fw.f.Close()
		return err
	}
	return fw.f.Close()
}
