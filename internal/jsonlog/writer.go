package jsonlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/colindt/wall-display/internal/record"
)

const fileSuffix = ".jsonl"

// Writer appends documents to <dir>/<YYYY-MM-DD>.jsonl.
type Writer struct {
	mu  sync.Mutex
	dir string
	loc *time.Location
}

// NewWriter returns a Writer for dir. Dates and line times use loc
// (time.Local when nil).
func NewWriter(dir string, loc *time.Location) *Writer {
	if loc == nil {
		loc = time.Local
	}
	return &Writer{dir: dir, loc: loc}
}

// PathFor returns the file a reading taken at t is written to.
func (w *Writer) PathFor(t time.Time) string {
	return filepath.Join(w.dir, t.In(w.loc).Format(time.DateOnly)+fileSuffix)
}

// Write appends r as one line and returns the file it went to.
func (w *Writer) Write(r record.Reading) (string, error) {
	line, err := json.Marshal(FromReading(r, w.loc))
	if err != nil {
		return "", fmt.Errorf("marshal line: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", w.dir, err)
	}
	path := w.PathFor(r.Time)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, f.Close()
}

// Read yields one document per non-blank line of rd. A line that is not
// valid JSON stops the sequence with an error naming the line.
func Read(rd io.Reader) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		sc := bufio.NewScanner(rd)
		sc.Buffer(make([]byte, 0, 4096), 1<<20)
		n := 0
		for sc.Scan() {
			n++
			b := sc.Bytes()
			if len(b) == 0 {
				continue
			}
			var d Document
			if err := json.Unmarshal(b, &d); err != nil {
				yield(Document{}, fmt.Errorf("line %d: %w", n, err))
				return
			}
			if !yield(d, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(Document{}, err)
		}
	}
}
