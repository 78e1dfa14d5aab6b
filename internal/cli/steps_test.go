// File: internal/cli/steps_test.go
package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourforge/anchor/pkg/anchor/validate"
)

func writeTempSteps(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steps.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSteps(t *testing.T) {
	t.Run("wrapped object form", func(t *testing.T) {
		path := writeTempSteps(t, `{"steps":[{"name":"intro","element":"#intro"},{"name":"done","element":["#done",".finish"],"required":false}]}`)
		steps, err := loadSteps(path)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, "intro", steps[0].Name)
		assert.Equal(t, validate.ElementList{"#intro"}, steps[0].Element)
		assert.True(t, steps[0].Required, "steps default to required")
		assert.Equal(t, validate.ElementList{"#done", ".finish"}, steps[1].Element)
		assert.False(t, steps[1].Required)
	})

	t.Run("bare array shorthand", func(t *testing.T) {
		path := writeTempSteps(t, `[{"name":"only","element":"#only"}]`)
		steps, err := loadSteps(path)
		require.NoError(t, err)
		require.Len(t, steps, 1)
		assert.Equal(t, "only", steps[0].Name)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadSteps(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("malformed content", func(t *testing.T) {
		path := writeTempSteps(t, `{"steps": "not-a-list"`)
		_, err := loadSteps(path)
		assert.Error(t, err)
	})
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://example.com", normalizeURL("example.com"))
	assert.Equal(t, "http://example.com", normalizeURL("http://example.com"))
	assert.Equal(t, "https://app.local/tour", normalizeURL("https://app.local/tour"))
}
