// Package recordlog stores encoded readings in an append-only file of
// fixed-width records and replays them.
package recordlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/colindt/wall-display/internal/record"
)

const lockSuffix = ".lock"

var (
	ErrLogLocked = errors.New("record log is held by another writer")
	ErrLogClosed = errors.New("record log is closed")
)

type Options struct {
	// SyncWrites fsyncs after every appended record.
	SyncWrites bool

	// TruncateTail drops a trailing partial record found at open time
	// instead of refusing to open the file.
	TruncateTail bool
}

// Log is the single writer of a record file.
type Log struct {
	mu     sync.Mutex
	path   string
	opts   Options
	io     IOManager
	lock   *flock.Flock
	closed bool
}

// Open opens path for appending and takes an exclusive lock on it. Only
// one Log per path may be open across processes.
func Open(path string, opts Options) (*Log, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	lock := flock.New(path + lockSuffix)
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !held {
		return nil, ErrLogLocked
	}

	fio, err := NewFileIOManager(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := checkTail(fio, path, opts.TruncateTail); err != nil {
		_ = fio.Close()
		_ = lock.Unlock()
		return nil, err
	}

	return &Log{path: path, opts: opts, io: fio, lock: lock}, nil
}

// checkTail makes sure new records start on a record boundary.
func checkTail(fio IOManager, path string, truncate bool) error {
	size, err := fio.Size()
	if err != nil {
		return err
	}
	tail := size % record.Size
	if tail == 0 {
		return nil
	}
	if !truncate {
		return fmt.Errorf("%s: %d dangling bytes: %w", path, tail, record.ErrTruncatedRecord)
	}
	slog.Warn("dropping partial record at end of log", "path", path, "bytes", tail)
	return os.Truncate(path, size-tail)
}

// Path returns the file the log appends to.
func (l *Log) Path() string {
	return l.path
}

// Append encodes r and writes it as one record.
func (l *Log) Append(r record.Reading) error {
	b, err := record.Encode(r)
	if err != nil {
		return err
	}
	return l.AppendRaw(b)
}

// AppendRaw writes an already encoded record. Calls are serialized so
// records never interleave.
func (l *Log) AppendRaw(b []byte) error {
	if len(b) != record.Size {
		return fmt.Errorf("%w: got %d bytes, want %d", record.ErrMalformedRecord, len(b), record.Size)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}
	n, err := l.io.Write(b)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("append record: %w", io.ErrShortWrite)
	}
	if l.opts.SyncWrites {
		if err := l.io.Sync(); err != nil {
			return fmt.Errorf("sync record log: %w", err)
		}
	}
	return nil
}

// Close flushes and releases the file and its lock. Safe to call twice.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	err := l.io.Sync()
	if cerr := l.io.Close(); err == nil {
		err = cerr
	}
	if uerr := l.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// ReadAll replays the records stored at path. Every range over the
// returned sequence reopens the file and starts from the first record.
// A dangling tail yields record.ErrTruncatedRecord after the last whole
// record.
func ReadAll(path string) iter.Seq2[record.Reading, error] {
	return func(yield func(record.Reading, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(record.Reading{}, err)
			return
		}
		defer f.Close()

		for r, err := range Scan(f) {
			if !yield(r, err) {
				return
			}
		}
	}
}

// Scan decodes records from rd until EOF.
func Scan(rd io.Reader) iter.Seq2[record.Reading, error] {
	return func(yield func(record.Reading, error) bool) {
		br := bufio.NewReaderSize(rd, 64*record.Size)
		buf := make([]byte, record.Size)
		for {
			_, err := io.ReadFull(br, buf)
			switch {
			case errors.Is(err, io.EOF):
				return
			case errors.Is(err, io.ErrUnexpectedEOF):
				yield(record.Reading{}, record.ErrTruncatedRecord)
				return
			case err != nil:
				yield(record.Reading{}, err)
				return
			}

			r, err := record.Decode(buf)
			if !yield(r, err) || err != nil {
				return
			}
		}
	}
}

// Count returns the number of whole records at path and the number of
// trailing bytes that do not form one.
func Count(path string) (records int64, tail int64, err error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	return st.Size() / record.Size, st.Size() % record.Size, nil
}
