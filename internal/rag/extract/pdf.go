package extract

import (
	"bytes"

	"github.com/ledongthuc/pdf"
)

// extractPDF concatenates page text into a single block plus a page
// boundary hint map, per spec.md §4.1.
func extractPDF(srcPath string, raw []byte) (Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		if err == pdf.ErrInvalidPassword {
			return Result{}, newErr(Encrypted, srcPath, err)
		}
		return Result{}, newErr(Corrupted, srcPath, err)
	}

	var b bytes.Buffer
	var boundaries []int
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // skip undecodable pages, keep the rest (spec.md §4.8 non-critical section recovery)
		}
		boundaries = append(boundaries, b.Len())
		b.WriteString(text)
		b.WriteString("\n")
	}

	full := normalizeWhitespace(b.String())
	if !hasMinContent(full) {
		return Result{}, nil
	}
	title := filenameStem(srcPath)
	return Result{
		Sections: []Section{{Title: title, Text: full, Order: 0}},
		Metadata: Metadata{Title: title},
		Hints:    Hints{PageBoundaries: boundaries},
	}, nil
}
