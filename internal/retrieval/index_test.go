package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexSearchRanksExactMatches(t *testing.T) {
	idx := NewIndex(
		Document{Source: "groceries.md", Content: "Buy milk, eggs and bread on Friday."},
		Document{Source: "travel.md", Content: "Flight to Lisbon departs Monday morning."},
		Document{Source: "pets.md", Content: "The cat needs milk and a vet visit."},
	)

	results, err := idx.Search(context.Background(), "milk eggs", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "groceries.md", results[0].Source)
	assert.Equal(t, "pets.md", results[1].Source)
}

func TestIndexSearchNoTerms(t *testing.T) {
	idx := NewIndex(Document{Content: "anything"})
	results, err := idx.Search(context.Background(), "a an", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("lisbon flight"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.bin"), []byte("ignored"), 0o644))

	idx := NewIndex()
	require.NoError(t, idx.LoadDir(dir))
	assert.Equal(t, 1, idx.Len())

	results, err := idx.Search(context.Background(), "lisbon", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.md", results[0].Source)
}
