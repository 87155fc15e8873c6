package chapters

import (
	"strings"
	"testing"

	"alexandria/internal/rag/extract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectUsesTOCWhenPresent(t *testing.T) {
	res := extract.Result{
		Sections: []extract.Section{
			{Title: "Intro", Text: "intro text", Order: 0},
			{Title: "Middle", Text: "middle text", Order: 1},
		},
		Hints: extract.Hints{HasTOC: true},
	}
	chs, strategy := Detect(res, Params{})
	require.Equal(t, StrategyTOC, strategy)
	require.Len(t, chs, 2)
	assert.Equal(t, "Intro", chs[0].Title)
	assert.Equal(t, "Middle", chs[1].Title)
}

func TestDetectSplitsOnH1(t *testing.T) {
	text := "# One\nfirst body\n# Two\nsecond body\n"
	res := extract.Result{Sections: []extract.Section{{Title: "doc", Text: text}}}
	chs, strategy := Detect(res, Params{})
	require.Equal(t, StrategyHeaders, strategy)
	require.Len(t, chs, 2)
	assert.Equal(t, "One", chs[0].Title)
	assert.Contains(t, chs[0].Text, "first body")
	assert.Equal(t, "Two", chs[1].Title)
}

func TestDetectFallsBackToHeaderSplitH2(t *testing.T) {
	text := "## One\nfirst body\n## Two\nsecond body\n"
	res := extract.Result{Sections: []extract.Section{{Title: "doc", Text: text}}}
	chs, strategy := Detect(res, Params{})
	require.Equal(t, StrategyHeaders, strategy)
	require.Len(t, chs, 2)
}

func TestDetectFallbackFixedSize(t *testing.T) {
	para := strings.Repeat("word ", 1000) // ~1000 tokens
	text := strings.Repeat(para+"\n\n", 6)
	res := extract.Result{Sections: []extract.Section{{Title: "doc", Text: text}}}
	chs, strategy := Detect(res, Params{FallbackTokenCount: 2000, MinSizeTokens: 200})
	require.Equal(t, StrategyFallback, strategy)
	assert.GreaterOrEqual(t, len(chs), 2)
	for i, c := range chs {
		assert.Equal(t, i, c.Index)
	}
}

func TestCountTokensStable(t *testing.T) {
	n1 := CountTokens("The quick brown fox jumps over the lazy dog.")
	n2 := CountTokens("The quick brown fox jumps over the lazy dog.")
	assert.Equal(t, n1, n2)
	assert.Greater(t, n1, 0)
}
