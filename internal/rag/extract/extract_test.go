package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWhitespace(t *testing.T) {
	in := "Hello   world\n\n\n  foo\tbar  "
	got := normalizeWhitespace(in)
	assert.Equal(t, "Hello world\nfoo bar", got)
}

func TestHasMinContent(t *testing.T) {
	assert.False(t, hasMinContent(""))
	assert.False(t, hasMinContent(" "))
	assert.False(t, hasMinContent("a"))
	assert.True(t, hasMinContent("ab"))
}

func TestExtractPlainTXT(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.txt")
	require.NoError(t, os.WriteFile(path, []byte("  Hello   World  "), 0o644))

	e := New(nil)
	res, err := e.Extract(context.Background(), path, "txt")
	require.NoError(t, err)
	require.Len(t, res.Sections, 1)
	assert.Equal(t, "book", res.Sections[0].Title)
	assert.Equal(t, "Hello World", res.Sections[0].Text)
}

func TestExtractPlainEmptySkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte(" \n "), 0o644))

	e := New(nil)
	res, err := e.Extract(context.Background(), path, "txt")
	require.NoError(t, err)
	assert.Empty(t, res.Sections)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.xyz")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	e := New(nil)
	_, err := e.Extract(context.Background(), path, "")
	require.Error(t, err)
	var extractErr *Error
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, Unsupported, extractErr.Kind)
}

func TestExtractEPUBWithNavTOC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.epub")
	require.NoError(t, os.WriteFile(path, buildMinimalEPUB(t), 0o644))

	e := New(nil)
	res, err := e.Extract(context.Background(), path, "epub")
	require.NoError(t, err)
	require.Len(t, res.Sections, 2)
	assert.Equal(t, "Chapter One", res.Sections[0].Title)
	assert.Equal(t, "Chapter Two", res.Sections[1].Title)
	assert.Equal(t, "Minimal Book", res.Metadata.Title)
	assert.True(t, res.Hints.HasTOC)
}

// buildMinimalEPUB constructs a two-chapter EPUB3 in memory with a nav.xhtml
// TOC, sufficient to exercise the spine/manifest/nav parsing path.
func buildMinimalEPUB(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name, content string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	write("META-INF/container.xml", `<?xml version="1.0"?>
<container><rootfiles><rootfile full-path="OEBPS/content.opf"/></rootfiles></container>`)

	write("OEBPS/content.opf", `<?xml version="1.0"?>
<package><metadata>
<title>Minimal Book</title>
<creator>Jane Author</creator>
<language>en</language>
</metadata>
<manifest>
<item id="ch1" href="ch1.xhtml"/>
<item id="ch2" href="ch2.xhtml"/>
<item id="nav" href="nav.xhtml"/>
</manifest>
<spine>
<itemref idref="ch1"/>
<itemref idref="ch2"/>
</spine>
</package>`)

	write("OEBPS/nav.xhtml", `<html><body><nav><ol>
<li><a href="ch1.xhtml">Chapter One</a></li>
<li><a href="ch2.xhtml">Chapter Two</a></li>
</ol></nav></body></html>`)

	write("OEBPS/ch1.xhtml", `<html><body><p>First chapter body text.</p></body></html>`)
	write("OEBPS/ch2.xhtml", `<html><body><p>Second chapter body text.</p></body></html>`)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}
