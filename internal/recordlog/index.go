package recordlog

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"time"

	"github.com/google/btree"

	"github.com/colindt/wall-display/internal/record"
)

// indexItem locates one record. Records sharing a timestamp are kept apart
// by their offset.
type indexItem struct {
	ts  int64
	off int64
}

func lessItem(a, b indexItem) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.off < b.off
}

// Index orders the records of a log file by timestamp so a time window can
// be replayed without scanning the whole file. It reflects the file at
// build time.
type Index struct {
	path string
	tree *btree.BTreeG[indexItem]
	tail int64
}

// BuildIndex scans path once. A dangling tail is left out of the index and
// reported by Tail.
func BuildIndex(path string) (*Index, error) {
	ix := &Index{path: path, tree: btree.NewG(32, lessItem)}

	var off int64
	for r, err := range ReadAll(path) {
		if errors.Is(err, record.ErrTruncatedRecord) {
			_, tail, cerr := Count(path)
			if cerr != nil {
				return nil, cerr
			}
			ix.tail = tail
			break
		}
		if err != nil {
			return nil, fmt.Errorf("index %s at byte %d: %w", path, off, err)
		}
		ix.tree.ReplaceOrInsert(indexItem{ts: r.Time.Unix(), off: off})
		off += record.Size
	}
	return ix, nil
}

// Len returns the number of indexed records.
func (ix *Index) Len() int {
	return ix.tree.Len()
}

// Tail returns the number of trailing bytes that did not form a record.
func (ix *Index) Tail() int64 {
	return ix.tail
}

// Span returns the earliest and latest indexed timestamps.
func (ix *Index) Span() (first, last time.Time, ok bool) {
	lo, ok := ix.tree.Min()
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	hi, _ := ix.tree.Max()
	return time.Unix(lo.ts, 0).UTC(), time.Unix(hi.ts, 0).UTC(), true
}

// Range yields the records with from <= Time < to in time order. A zero
// from or to leaves that side open. If the file ended in a partial record,
// record.ErrTruncatedRecord follows the last record of the window.
func (ix *Index) Range(from, to time.Time) iter.Seq2[record.Reading, error] {
	lo := indexItem{ts: math.MinInt64, off: math.MinInt64}
	if !from.IsZero() {
		lo.ts = ceilUnix(from)
	}
	hi := indexItem{ts: math.MaxInt64, off: math.MinInt64}
	if !to.IsZero() {
		hi.ts = ceilUnix(to)
	}

	return func(yield func(record.Reading, error) bool) {
		if lessItem(lo, hi) && !ix.ascend(lo, hi, yield) {
			return
		}
		if ix.tail != 0 {
			yield(record.Reading{}, fmt.Errorf("%s: %d dangling bytes: %w", ix.path, ix.tail, record.ErrTruncatedRecord))
		}
	}
}

// ascend yields the records in [lo, hi) and reports whether it ran to the
// end of the window.
func (ix *Index) ascend(lo, hi indexItem, yield func(record.Reading, error) bool) bool {
	f, err := os.Open(ix.path)
	if err != nil {
		yield(record.Reading{}, err)
		return false
	}
	defer f.Close()

	done := true
	buf := make([]byte, record.Size)
	ix.tree.AscendRange(lo, hi, func(it indexItem) bool {
		if _, err := f.ReadAt(buf, it.off); err != nil {
			if errors.Is(err, io.EOF) {
				err = record.ErrTruncatedRecord
			}
			yield(record.Reading{}, fmt.Errorf("read record at byte %d: %w", it.off, err))
			done = false
			return false
		}
		r, err := record.Decode(buf)
		if !yield(r, err) || err != nil {
			done = false
			return false
		}
		return true
	})
	return done
}

// ceilUnix rounds t up to a whole second.
func ceilUnix(t time.Time) int64 {
	if t.Nanosecond() != 0 {
		return t.Unix() + 1
	}
	return t.Unix()
}
