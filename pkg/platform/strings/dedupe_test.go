package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	assert.Equal(t, []string{"foo", "bar"}, DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "}))
	assert.Empty(t, DedupeAndTrim(nil))
}

func TestSortedSet(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedSet([]string{"c", " a", "b", "a"}))
}

func TestDiff(t *testing.T) {
	t.Run("computes adds and removes", func(t *testing.T) {
		add, remove := Diff([]string{"member:active", "stale"}, []string{"member:active", "type:member"})
		assert.Equal(t, []string{"type:member"}, add)
		assert.Equal(t, []string{"stale"}, remove)
	})

	t.Run("identical sets produce empty diff", func(t *testing.T) {
		add, remove := Diff([]string{"b", "a"}, []string{"a", "b", " a"})
		assert.Empty(t, add)
		assert.Empty(t, remove)
	})
}
