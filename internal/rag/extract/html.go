package extract

import (
	"bytes"
	"net/url"

	"github.com/go-shiori/go-readability"
)

// extractHTML uses go-readability to find the main-content boundary (strip
// nav/ads/boilerplate), then renders headings as "# "/"## " markers the
// Chapter Detector recognizes.
func extractHTML(srcPath string, raw []byte) (Result, error) {
	article, err := readability.FromReader(bytes.NewReader(raw), &url.URL{Path: srcPath})
	if err != nil {
		// readability's own content-boundary heuristic failed (e.g. a
		// malformed fragment); fall back to a direct heading-aware parse.
		text, h1 := htmlToSectionText(raw)
		text = normalizeWhitespace(text)
		if !hasMinContent(text) {
			return Result{}, nil
		}
		title := h1
		if title == "" {
			title = filenameStem(srcPath)
		}
		return Result{
			Sections: []Section{{Title: title, Text: text, Order: 0}},
			Metadata: Metadata{Title: title},
		}, nil
	}

	text, h1 := htmlToSectionText([]byte(article.Content))
	text = normalizeWhitespace(text)
	if !hasMinContent(text) {
		return Result{}, nil
	}
	title := article.Title
	if title == "" {
		title = h1
	}
	if title == "" {
		title = filenameStem(srcPath)
	}
	return Result{
		Sections: []Section{{Title: title, Text: text, Order: 0}},
		Metadata: Metadata{Title: title, Authors: authorList(article.Byline)},
	}, nil
}

func authorList(byline string) []string {
	if byline == "" {
		return nil
	}
	return []string{byline}
}
