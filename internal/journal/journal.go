// Package journal appends raw ingress log lines to gzip-compressed files,
// one per UTC day, so unparsed traffic can be replayed or inspected later.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Journal writes raw lines to <dir>/hlxd-YYYY-MM-DD.log.gz, rotating when
// the UTC day rolls over. Safe for concurrent use.
type Journal struct {
	dir string

	mu   sync.Mutex
	day  string
	file *os.File
	zw   *gzip.Writer
}

// New prepares a journal rooted at dir, creating it if needed.
func New(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	return &Journal{dir: dir}, nil
}

// Write appends one line, stamping it with the receive time and source.
func (j *Journal) Write(at time.Time, source, line string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	day := at.UTC().Format("2006-01-02")
	if day != j.day {
		if err := j.rotateLocked(day); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(j.zw, "%s %s %s\n", at.UTC().Format(time.RFC3339), source, line)
	return err
}

// rotateLocked closes the current file and opens the one for day.
func (j *Journal) rotateLocked(day string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}

	path := filepath.Join(j.dir, fmt.Sprintf("hlxd-%s.log.gz", day))
	// Append mode: gzip members concatenate cleanly, so restarts within one
	// day keep a single readable file.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal file: %w", err)
	}

	j.file = file
	j.zw = gzip.NewWriter(file)
	j.day = day
	return nil
}

// Flush pushes buffered data to disk.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.zw == nil {
		return nil
	}
	return j.zw.Flush()
}

// Close finishes the gzip stream and closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) closeLocked() error {
	if j.zw != nil {
		if err := j.zw.Close(); err != nil {
			j.file.Close()
			j.zw = nil
			j.file = nil
			return fmt.Errorf("closing gzip stream: %w", err)
		}
		j.zw = nil
	}
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		if err != nil {
			return fmt.Errorf("closing journal file: %w", err)
		}
	}
	j.day = ""
	return nil
}
