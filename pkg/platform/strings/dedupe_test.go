package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "blank", input: "  ", expected: nil},
		{name: "single", input: "k1:9092", expected: []string{"k1:9092"}},
		{name: "trims and drops empties", input: " aa, bb ,", expected: []string{"aa", "bb"}},
		{name: "drops repeats preserving order", input: "b,a,b,c,a", expected: []string{"b", "a", "c"}},
		{name: "preserves case", input: "Foo,foo", expected: []string{"Foo", "foo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitList(tt.input))
		})
	}
}

func TestDedupeAndTrim(t *testing.T) {
	assert.Nil(t, DedupeAndTrim(nil))
	assert.Equal(t, []string{}, DedupeAndTrim([]string{}))
	assert.Equal(t, []string{"foo", "bar"}, DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  ", "bar"}))
}
