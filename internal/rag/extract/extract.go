// Package extract implements the Text Extractor (C1): decoding EPUB, PDF,
// TXT, MD, and HTML sources into normalized text with structural hints the
// Chapter Detector (internal/rag/chapters) uses to find section boundaries.
package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Section is one logical unit of a book as seen by the extractor: an EPUB
// spine item, a whole TXT/MD/HTML document, or the concatenation of PDF
// pages. The Chapter Detector decides whether these already are the final
// top-level sections or need re-splitting.
type Section struct {
	Title string
	Text  string
	Order int
}

// Metadata is whatever book-identifying information the source file itself
// carries (EPUB OPF dc:metadata); it supplements, never replaces, the Book
// Catalog Adapter's record.
type Metadata struct {
	Title    string
	Authors  []string
	Language string
}

// Hints tells the Chapter Detector which strategy can succeed without it
// having to re-parse the source format.
type Hints struct {
	HasTOC bool // true when EPUB NCX/NAV entries already produced the Sections
	// PageBoundaries holds, for PDF, the byte offset at which each decoded
	// page begins in the page text as concatenated before whitespace
	// normalization; pages that are null or fail to decode get no entry.
	PageBoundaries []int
}

// Result is the full C1 output.
type Result struct {
	Sections []Section
	Metadata Metadata
	Hints    Hints
}

// Extractor decodes a single file into Result.
type Extractor interface {
	Extract(ctx context.Context, path, declaredFormat string) (Result, error)
}

type extractor struct {
	s3 *s3.Client
}

// New returns the default Extractor. s3Client may be nil if no s3:// paths
// are expected; EPUB/PDF/TXT/MD/HTML local and UNC paths work regardless.
func New(s3Client *s3.Client) Extractor {
	return &extractor{s3: s3Client}
}

func (e *extractor) Extract(ctx context.Context, path, declaredFormat string) (Result, error) {
	format := strings.ToLower(strings.TrimPrefix(declaredFormat, "."))
	if format == "" {
		format = strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	}

	raw, err := readAll(ctx, e.s3, path)
	if err != nil {
		return Result{}, newErr(Corrupted, path, err)
	}

	switch format {
	case "epub":
		return extractEPUB(path, raw)
	case "pdf":
		return extractPDF(path, raw)
	case "html", "htm":
		return extractHTML(path, raw)
	case "md", "markdown":
		return extractPlain(path, raw, true)
	case "txt", "text":
		return extractPlain(path, raw, false)
	default:
		return Result{}, newErr(Unsupported, path, fmt.Errorf("unrecognized format %q", format))
	}
}

// readAll resolves local, UNC long-path, and s3:// sources into memory.
// Books are small enough that buffering is simpler and safer than streaming
// through each format's own decoder.
func readAll(ctx context.Context, s3Client *s3.Client, path string) ([]byte, error) {
	if strings.HasPrefix(path, "s3://") {
		if s3Client == nil {
			return nil, fmt.Errorf("s3 source %q requires an s3 client", path)
		}
		bucket, key, ok := strings.Cut(strings.TrimPrefix(path, "s3://"), "/")
		if !ok {
			return nil, fmt.Errorf("invalid s3 path %q", path)
		}
		out, err := s3Client.GetObject(ctx, &s3.GetObjectInput{Bucket: awsString(bucket), Key: awsString(key)})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	}

	local := longPath(path)
	return os.ReadFile(local)
}

func awsString(s string) *string { return &s }

// longPath applies the platform-specific \\?\ prefix extension so paths
// beyond 248 bytes remain addressable on Windows; it is a no-op elsewhere.
func longPath(path string) string {
	if runtime.GOOS != "windows" {
		return path
	}
	if len(path) < 248 || strings.HasPrefix(path, `\\?\`) {
		return path
	}
	return `\\?\` + path
}

// normalizeWhitespace collapses runs of whitespace, per spec.md §4.1; the
// check that drops sections with fewer than 2 non-whitespace characters is
// hasMinContent.
func normalizeWhitespace(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == '\r' {
			continue
		}
		isSpace := r == ' ' || r == '\t' || r == '\n'
		if isSpace {
			if !lastSpace && b.Len() > 0 {
				if r == '\n' {
					b.WriteByte('\n')
				} else {
					b.WriteByte(' ')
				}
			}
			lastSpace = true
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

func hasMinContent(s string) bool {
	n := 0
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' {
			n++
			if n >= 2 {
				return true
			}
		}
	}
	return false
}

// decodeUTF8 decodes with a replacement-character fallback instead of
// failing outright, matching spec.md §4.1's TXT/MD/HTML decode behavior.
func decodeUTF8(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	var b strings.Builder
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		b.WriteRune(r)
		raw = raw[size:]
	}
	return b.String()
}

func filenameStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func extractPlain(path string, raw []byte, markdown bool) (Result, error) {
	text := decodeUTF8(raw)
	if markdown {
		text = stripMarkdown(text)
	}
	text = normalizeWhitespace(text)
	if !hasMinContent(text) {
		return Result{Metadata: Metadata{Title: filenameStem(path)}}, nil
	}
	return Result{
		Sections: []Section{{Title: filenameStem(path), Text: text, Order: 0}},
		Metadata: Metadata{Title: filenameStem(path)},
	}, nil
}

// stripMarkdown removes the most common MD punctuation while keeping
// heading lines recognizable as "# "/"## " for the Chapter Detector, since
// it already is Markdown; headings pass through untouched and inline
// emphasis markers are stripped.
func stripMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	for i, ln := range lines {
		trimmed := strings.TrimSpace(ln)
		if strings.HasPrefix(trimmed, "#") {
			lines[i] = trimmed
			continue
		}
		ln = strings.NewReplacer("**", "", "__", "", "*", "", "_", "", "`", "").Replace(ln)
		lines[i] = ln
	}
	return strings.Join(lines, "\n")
}
