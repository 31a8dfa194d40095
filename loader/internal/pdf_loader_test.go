package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/types"
)

func newTestLoader(t *testing.T) *PDFLoader {
	t.Helper()
	root := t.TempDir()
	l, err := NewPDFLoader(types.LoaderConfig{
		MonitoringTime: time.Minute,
		SourceDir:      filepath.Join(root, "source"),
		ArchiveDir:     filepath.Join(root, "archive"),
		BadDir:         filepath.Join(root, "bad"),
	}, zerolog.Nop())
	require.NoError(t, err)
	return l
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNormalizeText(t *testing.T) {
	tests := map[string]string{
		"":                "",
		"one line":        "one line",
		"first\nsecond":   "first second",
		"dos\r\nline":     "dos line",
		"old\rmac":        "old mac",
		"para\n\nbreak\n": "para  break ",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeText(in), "input %q", in)
	}
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "manual.pdf", DocumentID("/data/source/manual.pdf"))
	assert.Equal(t, "manual.pdf", DocumentID("manual.pdf"))
}

func TestCropMargins(t *testing.T) {
	assert.Equal(t, "36.00 0 18.50 0", cropMargins(36, 18.5))
}

func TestMoveDated_Conflicts(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var got []string
	for range 3 {
		p := filepath.Join(src, "report.pdf")
		writeFile(t, p, "x")
		dest, err := moveDated(p, root, now)
		require.NoError(t, err)
		got = append(got, dest)
		assert.NoFileExists(t, p)
	}

	dir := filepath.Join(root, "2026-03-01")
	assert.Equal(t, []string{
		filepath.Join(dir, "report.pdf"),
		filepath.Join(dir, "report_1.pdf"),
		filepath.Join(dir, "report_2.pdf"),
	}, got)
}

func TestMoveToArchive_Failed(t *testing.T) {
	l := newTestLoader(t)
	p := filepath.Join(l.cfg.SourceDir, "broken.pdf")
	writeFile(t, p, "x")

	dest, err := l.MoveToArchive(p, true)
	require.NoError(t, err)
	assert.FileExists(t, dest)
	rel, err := filepath.Rel(l.cfg.BadDir, dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(time.Now().Format("2006-01-02"), "broken.pdf"), rel)
}

func TestScan_WaitsForStableFile(t *testing.T) {
	l := newTestLoader(t)
	p := filepath.Join(l.cfg.SourceDir, "new.pdf")
	writeFile(t, p, "x")

	ctx := context.Background()
	fileChan := make(chan string, 1)

	require.True(t, l.scan(ctx, fileChan))
	assert.Empty(t, fileChan, "first sighting only starts tracking")

	require.True(t, l.scan(ctx, fileChan))
	assert.Empty(t, fileChan, "file is not stable yet")

	l.FileMutex.Lock()
	l.FileFirstSeen[p] = time.Now().Add(-time.Hour)
	l.FileMutex.Unlock()

	require.True(t, l.scan(ctx, fileChan))
	require.Len(t, fileChan, 1)
	assert.Equal(t, p, <-fileChan)

	require.True(t, l.scan(ctx, fileChan))
	assert.Empty(t, fileChan, "file in processing is not sent twice")

	l.Release(p)
	require.True(t, l.scan(ctx, fileChan))
	assert.Empty(t, fileChan, "released file is tracked from scratch")
}

func TestScan_ForgetsRemovedFiles(t *testing.T) {
	l := newTestLoader(t)
	p := filepath.Join(l.cfg.SourceDir, "gone.pdf")
	writeFile(t, p, "x")

	fileChan := make(chan string, 1)
	require.True(t, l.scan(context.Background(), fileChan))
	require.NoError(t, os.Remove(p))
	require.True(t, l.scan(context.Background(), fileChan))

	assert.NotContains(t, l.FileFirstSeen, p)
}

func TestLoadPages_InvalidPDF(t *testing.T) {
	l := newTestLoader(t)
	p := filepath.Join(t.TempDir(), "fake.pdf")
	writeFile(t, p, "this is not a pdf")

	_, err := l.LoadPages(context.Background(), p, "fake.pdf")
	assert.Error(t, err)
}

func TestLoadPages_OneUnitPerPage(t *testing.T) {
	l := newTestLoader(t)

	units, err := l.LoadPages(context.Background(), filepath.Join("testdata", "two_pages.pdf"), "two_pages.pdf")
	require.NoError(t, err)
	require.Len(t, units, 2)

	for i, u := range units {
		assert.Equal(t, i, u.PageIndex)
		assert.Equal(t, "two_pages.pdf", u.DocumentID)
		assert.NotContains(t, u.RawText, "\n")
	}
	assert.Contains(t, units[0].RawText, "First page line one")
	assert.Contains(t, units[0].RawText, "First page line two")
	assert.NotContains(t, units[0].RawText, "Second page")
	assert.Contains(t, units[1].RawText, "Second page text")
	assert.NotContains(t, units[1].RawText, "First page")
}

func TestLoadPages_CancelledContext(t *testing.T) {
	l := newTestLoader(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.LoadPages(ctx, filepath.Join("testdata", "two_pages.pdf"), "two_pages.pdf")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessFile_ForwardsFailures(t *testing.T) {
	l := newTestLoader(t)
	p := filepath.Join(l.cfg.SourceDir, "fake.pdf")
	writeFile(t, p, "not a pdf")

	fileChan := make(chan string, 1)
	docChan := make(chan Document, 1)
	fileChan <- p
	close(fileChan)

	l.ProcessFile(context.Background(), fileChan, docChan)

	require.Len(t, docChan, 1)
	doc := <-docChan
	assert.Equal(t, "fake.pdf", doc.ID)
	assert.Equal(t, p, doc.Path)
	assert.Error(t, doc.Err)
}
