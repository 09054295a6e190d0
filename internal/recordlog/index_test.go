package recordlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colindt/wall-display/internal/record"
)

func writeLog(t *testing.T, rs []record.Reading, tail ...byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.dat")
	var data []byte
	for _, r := range rs {
		data = append(data, record.MustEncode(r)...)
	}
	data = append(data, tail...)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func rangeTimes(t *testing.T, ix *Index, from, to time.Time) []int64 {
	t.Helper()
	var out []int64
	for r, err := range ix.Range(from, to) {
		require.NoError(t, err)
		out = append(out, r.Time.Unix())
	}
	return out
}

func TestIndex_RangeOrdersByTime(t *testing.T) {
	rs := readings(6)
	// Clock steps backwards after record 3.
	rs[4].Time = rs[1].Time
	rs[5].Time = rs[0].Time.Add(-time.Minute)
	ix, err := BuildIndex(writeLog(t, rs))
	require.NoError(t, err)

	assert.Equal(t, 6, ix.Len())
	assert.Equal(t, int64(0), ix.Tail())

	base := rs[0].Time.Unix()
	all := rangeTimes(t, ix, time.Time{}, time.Time{})
	assert.Equal(t, []int64{base - 60, base, base + 60, base + 60, base + 120, base + 180}, all)

	first, last, ok := ix.Span()
	require.True(t, ok)
	assert.Equal(t, base-60, first.Unix())
	assert.Equal(t, base+180, last.Unix())
}

func TestIndex_RangeBounds(t *testing.T) {
	rs := readings(10)
	ix, err := BuildIndex(writeLog(t, rs))
	require.NoError(t, err)

	got := rangeTimes(t, ix, rs[2].Time, rs[5].Time)
	assert.Equal(t, []int64{rs[2].Time.Unix(), rs[3].Time.Unix(), rs[4].Time.Unix()}, got, "from inclusive, to exclusive")

	got = rangeTimes(t, ix, rs[8].Time, time.Time{})
	assert.Len(t, got, 2)

	got = rangeTimes(t, ix, time.Time{}, rs[1].Time)
	assert.Len(t, got, 1)

	assert.Empty(t, rangeTimes(t, ix, rs[5].Time, rs[5].Time))
	assert.Empty(t, rangeTimes(t, ix, rs[5].Time, rs[2].Time))
}

func TestIndex_RangeDecodesRecords(t *testing.T) {
	rs := readings(4)
	ix, err := BuildIndex(writeLog(t, rs))
	require.NoError(t, err)

	var got []record.Reading
	for r, err := range ix.Range(rs[1].Time, rs[3].Time) {
		require.NoError(t, err)
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assertSameReading(t, rs[1], got[0])
	assertSameReading(t, rs[2], got[1])
}

func TestIndex_EarlyBreak(t *testing.T) {
	ix, err := BuildIndex(writeLog(t, readings(5)))
	require.NoError(t, err)

	n := 0
	for range ix.Range(time.Time{}, time.Time{}) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestIndex_TruncatedTail(t *testing.T) {
	rs := readings(3)
	ix, err := BuildIndex(writeLog(t, rs, 0xAA, 0xBB))
	require.NoError(t, err)
	assert.Equal(t, 3, ix.Len())
	assert.Equal(t, int64(2), ix.Tail())

	var got []int64
	var errs []error
	for r, err := range ix.Range(rs[1].Time, time.Time{}) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		got = append(got, r.Time.Unix())
	}
	assert.Equal(t, []int64{rs[1].Time.Unix(), rs[2].Time.Unix()}, got)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], record.ErrTruncatedRecord)

	// An empty window still reports the damaged file.
	n := 0
	for _, err := range ix.Range(rs[2].Time, rs[1].Time) {
		assert.ErrorIs(t, err, record.ErrTruncatedRecord)
		n++
	}
	assert.Equal(t, 1, n)
}

func TestIndex_RangeFractionalBounds(t *testing.T) {
	rs := readings(4)
	ix, err := BuildIndex(writeLog(t, rs))
	require.NoError(t, err)

	half := 500 * time.Millisecond
	got := rangeTimes(t, ix, rs[1].Time.Add(half), time.Time{})
	assert.Equal(t, []int64{rs[2].Time.Unix(), rs[3].Time.Unix()}, got, "from rounds up")

	got = rangeTimes(t, ix, time.Time{}, rs[1].Time.Add(half))
	assert.Equal(t, []int64{rs[0].Time.Unix(), rs[1].Time.Unix()}, got, "to keeps the second it falls in")
}

func TestIndex_Empty(t *testing.T) {
	ix, err := BuildIndex(writeLog(t, nil))
	require.NoError(t, err)
	assert.Equal(t, 0, ix.Len())
	_, _, ok := ix.Span()
	assert.False(t, ok)
	assert.Empty(t, rangeTimes(t, ix, time.Time{}, time.Time{}))
}

func TestIndex_MissingFile(t *testing.T) {
	_, err := BuildIndex(filepath.Join(t.TempDir(), "absent.dat"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
