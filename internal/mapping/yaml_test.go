package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

func TestDefaultMapping(t *testing.T) {
	r := Default()

	parent, err := r.Entity("Parent")
	require.NoError(t, err)
	child, ok := parent.Association("child")
	require.True(t, ok)
	assert.True(t, child.IsOwningSide())
	assert.Equal(t, "child_id", child.JoinColumn)

	c, err := r.Entity("Child")
	require.NoError(t, err)
	inverse, ok := c.Association("parent")
	require.True(t, ok)
	assert.False(t, inverse.IsOwningSide())
	assert.Equal(t, "child", inverse.MappedBy)
	assert.Equal(t, "gh_child", c.Table)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	doc := `entities:
  - name: Solo
    id: id
    fields:
      - name: id
        kind: integer
        colum: typo
`
	_, err := Parse([]byte(doc))
	assert.ErrorIs(t, err, types.ErrInvalidMapping)
}

func TestLoadFileAndMarshalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(DefaultYAML), 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)

	out, err := Marshal(r)
	require.NoError(t, err)

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, r.Entities(), again.Entities())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
