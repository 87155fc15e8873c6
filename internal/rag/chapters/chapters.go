// Package chapters implements the Chapter Detector (C2): turning the Text
// Extractor's sections + hints into an ordered, contiguous list of
// top-level parent sections.
package chapters

import (
	"strconv"
	"strings"

	"alexandria/internal/rag/extract"

	"github.com/pkoukk/tiktoken-go"
)

// Chapter is one top-level section a parent chunk will be built from.
type Chapter struct {
	Title string
	Text  string
	Index int
}

// Strategy identifies which detection rule produced the chapter list, per
// spec.md §4.2's "emit the chosen strategy identifier alongside the list".
type Strategy string

const (
	StrategyTOC      Strategy = "toc"
	StrategyHeaders  Strategy = "headers"
	StrategyFallback Strategy = "fallback"
)

// Params configures the fallback fixed-size splitting rule.
type Params struct {
	FallbackTokenCount int // default 5000
	MinSizeTokens      int // default 500
}

func (p Params) withDefaults() Params {
	if p.FallbackTokenCount <= 0 {
		p.FallbackTokenCount = 5000
	}
	if p.MinSizeTokens <= 0 {
		p.MinSizeTokens = 500
	}
	return p
}

var encoding = mustEncoding()

func mustEncoding() *tiktoken.Tiktoken {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// cl100k_base ships with the library's embedded BPE ranks; a
		// lookup failure here means the dependency itself is broken.
		panic("chapters: tiktoken-go encoding unavailable: " + err.Error())
	}
	return enc
}

// CountTokens returns a stable, model-agnostic token count, shared with the
// Retrieval Engine's context-budget accounting (C9).
func CountTokens(s string) int {
	return len(encoding.Encode(s, nil, nil))
}

// Detect runs the first-success-wins strategy chain from spec.md §4.2.
func Detect(res extract.Result, params Params) ([]Chapter, Strategy) {
	params = params.withDefaults()

	if res.Hints.HasTOC && len(res.Sections) > 0 {
		return fromSections(res.Sections), StrategyTOC
	}

	if chs, ok := splitOnHeadings(res.Sections, "# "); ok {
		return chs, StrategyHeaders
	}
	if chs, ok := splitOnHeadings(res.Sections, "## "); ok {
		return chs, StrategyHeaders
	}

	return fallbackSplit(res.Sections, params), StrategyFallback
}

func fromSections(sections []extract.Section) []Chapter {
	out := make([]Chapter, 0, len(sections))
	for i, s := range sections {
		out = append(out, Chapter{Title: s.Title, Text: s.Text, Index: i})
	}
	return out
}

// splitOnHeadings splits the concatenation of all sections on lines
// beginning with marker ("# " or "## "), requiring at least two results to
// consider the strategy successful (spec.md §4.2 step 2's "if fewer than
// two results, retry with h2").
func splitOnHeadings(sections []extract.Section, marker string) ([]Chapter, bool) {
	var fullText strings.Builder
	for i, s := range sections {
		if i > 0 {
			fullText.WriteString("\n")
		}
		fullText.WriteString(s.Text)
	}
	lines := strings.Split(fullText.String(), "\n")

	var chapters []Chapter
	var title string
	var body strings.Builder
	flush := func() {
		text := strings.TrimSpace(body.String())
		if text == "" {
			return
		}
		t := title
		if t == "" {
			t = "Untitled"
		}
		chapters = append(chapters, Chapter{Title: t, Text: text, Index: len(chapters)})
		body.Reset()
	}
	started := false
	for _, ln := range lines {
		if strings.HasPrefix(ln, marker) {
			if started {
				flush()
			}
			title = strings.TrimSpace(strings.TrimPrefix(ln, marker))
			started = true
			continue
		}
		body.WriteString(ln)
		body.WriteString("\n")
	}
	flush()

	if len(chapters) < 2 {
		return nil, false
	}
	return chapters, true
}

// fallbackSplit accumulates whole paragraphs until the running token count
// reaches FallbackTokenCount, then cuts; a residual shorter than
// MinSizeTokens merges into the preceding section.
func fallbackSplit(sections []extract.Section, params Params) []Chapter {
	var paragraphs []string
	for i, s := range sections {
		if i > 0 {
			paragraphs = append(paragraphs, "")
		}
		for _, p := range strings.Split(s.Text, "\n\n") {
			if strings.TrimSpace(p) != "" {
				paragraphs = append(paragraphs, p)
			}
		}
	}

	var chapters []Chapter
	var buf strings.Builder
	bufTokens := 0
	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text == "" {
			return
		}
		chapters = append(chapters, Chapter{
			Title: synthesizedTitle(len(chapters)),
			Text:  text,
			Index: len(chapters),
		})
		buf.Reset()
		bufTokens = 0
	}
	for _, p := range paragraphs {
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p)
		bufTokens += CountTokens(p)
		if bufTokens >= params.FallbackTokenCount {
			flush()
		}
	}
	flush()

	// Merge a too-short trailing residual into the preceding chapter.
	if len(chapters) >= 2 {
		last := chapters[len(chapters)-1]
		if CountTokens(last.Text) < params.MinSizeTokens {
			prev := chapters[len(chapters)-2]
			merged := Chapter{
				Title: prev.Title,
				Text:  prev.Text + "\n\n" + last.Text,
				Index: prev.Index,
			}
			chapters = append(chapters[:len(chapters)-2], merged)
		}
	}
	return chapters
}

func synthesizedTitle(index int) string {
	return "Section " + strconv.Itoa(index+1)
}
