package journal

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readJournalFile(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	var lines []string
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir)
	require.NoError(t, err)

	at := time.Date(2024, 1, 15, 22, 30, 45, 0, time.UTC)
	require.NoError(t, j.Write(at, "192.0.2.10:27015", `L 01/15/2024 - 22:30:45: World triggered "Round_Start"`))
	require.NoError(t, j.Write(at.Add(time.Second), "192.0.2.10:27015", "second line"))
	require.NoError(t, j.Close())

	lines := readJournalFile(t, filepath.Join(dir, "hlxd-2024-01-15.log.gz"))
	require.Len(t, lines, 2)
	assert.Equal(t, `2024-01-15T22:30:45Z 192.0.2.10:27015 L 01/15/2024 - 22:30:45: World triggered "Round_Start"`, lines[0])
	assert.Equal(t, "2024-01-15T22:30:46Z 192.0.2.10:27015 second line", lines[1])
}

func TestRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, j.Write(time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC), "src", "old day"))
	require.NoError(t, j.Write(time.Date(2024, 1, 16, 0, 0, 1, 0, time.UTC), "src", "new day"))
	require.NoError(t, j.Close())

	first := readJournalFile(t, filepath.Join(dir, "hlxd-2024-01-15.log.gz"))
	second := readJournalFile(t, filepath.Join(dir, "hlxd-2024-01-16.log.gz"))
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Contains(t, first[0], "old day")
	assert.Contains(t, second[0], "new day")
}

func TestAppendAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	j, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, j.Write(at, "src", "before restart"))
	require.NoError(t, j.Close())

	// A second journal on the same day appends a new gzip member; readers see
	// one continuous stream.
	j, err = New(dir)
	require.NoError(t, err)
	require.NoError(t, j.Write(at.Add(time.Minute), "src", "after restart"))
	require.NoError(t, j.Close())

	lines := readJournalFile(t, filepath.Join(dir, "hlxd-2024-01-15.log.gz"))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "before restart")
	assert.Contains(t, lines[1], "after restart")
}

func TestFlushMakesDataVisible(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Write(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), "src", "flushed line"))
	require.NoError(t, j.Flush())

	// The stream has no trailer yet, so read what is there and tolerate the
	// truncated ending.
	f, err := os.Open(filepath.Join(dir, "hlxd-2024-01-15.log.gz"))
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	if err != nil {
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	}
	assert.Contains(t, string(data), "flushed line")
}

func TestFlushAndCloseWithoutWrites(t *testing.T) {
	j, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, j.Flush())
	assert.NoError(t, j.Close())
}
