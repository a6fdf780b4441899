package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSortEntriesOrder is Testable Property 10.
func TestSortEntriesOrder(t *testing.T) {
	entries := []DirEntry{
		{Name: "zebra.txt", IsDir: false},
		{Name: "Apple", IsDir: true},
		{Name: "banana.txt", IsDir: false},
		{Name: "apple2", IsDir: true},
	}
	SortEntries(entries)

	require := assert.New(t)
	require.True(entries[0].IsDir)
	require.True(entries[1].IsDir)
	require.False(entries[2].IsDir)
	require.False(entries[3].IsDir)
	require.Equal("Apple", entries[0].Name)
	require.Equal("apple2", entries[1].Name)
	require.Equal("banana.txt", entries[2].Name)
	require.Equal("zebra.txt", entries[3].Name)
}

func TestResolveNameConflict(t *testing.T) {
	existing := map[string]bool{"report.txt": true, "report_2.txt": true}
	got := ResolveNameConflict("report.txt", existing)
	assert.Equal(t, "report_3.txt", got)

	existing2 := map[string]bool{"readme": true}
	got2 := ResolveNameConflict("readme", existing2)
	assert.Equal(t, "readme_2", got2)

	assert.Equal(t, "new.txt", ResolveNameConflict("new.txt", map[string]bool{}))
}
