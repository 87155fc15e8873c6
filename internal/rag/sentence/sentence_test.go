package sentence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitBasic(t *testing.T) {
	got := Split("This is one. This is two! Is this three? Yes.")
	assert.Equal(t, []string{
		"This is one.",
		"This is two!",
		"Is this three?",
		"Yes.",
	}, got)
}

func TestSplitDropsShortFragments(t *testing.T) {
	got := Split("Ok. A. This one survives.")
	for _, s := range got {
		assert.Greater(t, len(s), 2)
	}
	assert.Contains(t, got, "This one survives.")
}

func TestSplitEmpty(t *testing.T) {
	assert.Nil(t, Split(""))
	assert.Nil(t, Split("   "))
}

func TestSplitSingleSentence(t *testing.T) {
	got := Split("Just one sentence without trailing punctuation")
	assert.Len(t, got, 1)
}
