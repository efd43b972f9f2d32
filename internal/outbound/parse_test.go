package outbound

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeImageResponse(t *testing.T) {
	t.Parallel()

	t.Run("top-level list of url objects", func(t *testing.T) {
		t.Parallel()
		images, err := NormalizeImageResponse(json.RawMessage(
			`[{"url": "https://img.example.com/a.png"}, {"url": "https://img.example.com/b.png"}]`))
		require.NoError(t, err)
		require.Len(t, images, 2)
		assert.Equal(t, "https://img.example.com/a.png", images[0].URL)
		assert.Equal(t, "image", images[0].Type)
	})

	t.Run("top-level list of plain url strings", func(t *testing.T) {
		t.Parallel()
		images, err := NormalizeImageResponse(json.RawMessage(
			`["https://img.example.com/a.png"]`))
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, "https://img.example.com/a.png", images[0].URL)
	})

	t.Run("top-level list with inline base64", func(t *testing.T) {
		t.Parallel()
		images, err := NormalizeImageResponse(json.RawMessage(
			`[{"b64_json": "aGVsbG8="}]`))
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, "data:image/png;base64,aGVsbG8=", images[0].URL)
	})

	t.Run("data field wrapper", func(t *testing.T) {
		t.Parallel()
		images, err := NormalizeImageResponse(json.RawMessage(
			`{"data": [{"url": "https://img.example.com/a.png"}]}`))
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, "https://img.example.com/a.png", images[0].URL)
	})

	t.Run("images field wrapper", func(t *testing.T) {
		t.Parallel()
		images, err := NormalizeImageResponse(json.RawMessage(
			`{"images": [{"b64_json": "Zm94"}]}`))
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, "data:image/png;base64,Zm94", images[0].URL)
	})

	t.Run("single url field", func(t *testing.T) {
		t.Parallel()
		images, err := NormalizeImageResponse(json.RawMessage(
			`{"url": "https://img.example.com/a.png"}`))
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, "https://img.example.com/a.png", images[0].URL)
	})

	t.Run("single b64 field", func(t *testing.T) {
		t.Parallel()
		images, err := NormalizeImageResponse(json.RawMessage(
			`{"b64_json": "Zm94"}`))
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, "data:image/png;base64,Zm94", images[0].URL)
	})

	t.Run("data wrapper wins over single url key", func(t *testing.T) {
		t.Parallel()
		images, err := NormalizeImageResponse(json.RawMessage(
			`{"data": [{"url": "https://img.example.com/from-data.png"}], "url": "https://img.example.com/top.png"}`))
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, "https://img.example.com/from-data.png", images[0].URL)
	})

	t.Run("entries without url or base64 are dropped", func(t *testing.T) {
		t.Parallel()
		images, err := NormalizeImageResponse(json.RawMessage(
			`{"data": [{"revised_prompt": "a fox"}, {"url": "https://img.example.com/a.png"}]}`))
		require.NoError(t, err)
		require.Len(t, images, 1)
	})

	t.Run("unrecognized shapes are rejected", func(t *testing.T) {
		t.Parallel()
		for name, raw := range map[string]string{
			"empty object":    `{}`,
			"empty list":      `[]`,
			"scalar":          `42`,
			"unrelated field": `{"status": "ok"}`,
			"empty url":       `{"url": ""}`,
		} {
			_, err := NormalizeImageResponse(json.RawMessage(raw))
			assert.Error(t, err, "shape %q should not normalize", name)
		}
	})
}
