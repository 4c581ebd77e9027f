package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xhad/scribe/internal/models"
)

func newTestWriter(t *testing.T, config WriterConfig) *Writer {
	t.Helper()
	if config.Dir == "" {
		config.Dir = t.TempDir()
	}
	w, err := NewWithConfig(config)
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2025, 3, 7, 9, 5, 0, 0, time.UTC) }
	return w
}

func parseQMD(t *testing.T, data []byte) (frontMatter, string) {
	t.Helper()
	text := string(data)
	require.True(t, strings.HasPrefix(text, "---\n"))
	parts := strings.SplitN(text[4:], "\n---\n", 2)
	require.Len(t, parts, 2)

	var meta frontMatter
	require.NoError(t, yaml.Unmarshal([]byte(parts[0]), &meta))
	return meta, strings.TrimLeft(parts[1], "\n")
}

func TestWriteQMD(t *testing.T) {
	w := newTestWriter(t, WriterConfig{
		Author:     "Jane Doe",
		Categories: []string{"LLM", "AI"},
		Image:      "https://picsum.photos/id/92/200",
	})

	path, err := w.Write(&models.Post{
		Body:        "# A \"quoted\" title\n\nFirst paragraph.\n\n## Section\n\nMore.",
		Description: `Says "hello": twice.`,
	})
	require.NoError(t, err)
	assert.Equal(t, "202503070905.qmd", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	meta, body := parseQMD(t, data)
	assert.Equal(t, `A "quoted" title`, meta.Title)
	assert.Equal(t, `Says "hello": twice.`, meta.Description)
	assert.Equal(t, "Jane Doe", meta.Author)
	assert.Equal(t, "2025-03-07", meta.Date)
	assert.Equal(t, []string{"LLM", "AI"}, meta.Categories)
	assert.Equal(t, "First paragraph.\n\n## Section\n\nMore.\n", body)
}

func TestWriteQMDWithoutHeading(t *testing.T) {
	w := newTestWriter(t, WriterConfig{})

	path, err := w.Write(&models.Post{Body: "Just text."})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	meta, body := parseQMD(t, data)
	assert.Equal(t, "Untitled", meta.Title)
	assert.Empty(t, meta.Author)
	assert.NotContains(t, string(data), "author:")
	assert.Equal(t, "Just text.\n", body)
}

func TestWriteMarkdown(t *testing.T) {
	w := newTestWriter(t, WriterConfig{Format: FormatMD})

	body := "# Title\n\nBody."
	path, err := w.Write(&models.Post{Body: body, Description: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "202503070905.md", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body+"\n", string(data))
}

func TestWriteNeverOverwrites(t *testing.T) {
	w := newTestWriter(t, WriterConfig{Format: FormatMD})

	first, err := w.Write(&models.Post{Body: "one"})
	require.NoError(t, err)
	second, err := w.Write(&models.Post{Body: "two"})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, "202503070905-1.md", filepath.Base(second))

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(data))
}

func TestWriteCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "output")
	w := newTestWriter(t, WriterConfig{Dir: dir})

	path, err := w.Write(&models.Post{Body: "# T\n\nx"})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
}

func TestWriteRejectsEmptyPost(t *testing.T) {
	w := newTestWriter(t, WriterConfig{})

	_, err := w.Write(&models.Post{Body: "  \n"})
	assert.Error(t, err)
	_, err = w.Write(nil)
	assert.Error(t, err)
}

func TestPostURL(t *testing.T) {
	w := newTestWriter(t, WriterConfig{BaseURL: "https://blog.example/posts/"})
	assert.Equal(t, "https://blog.example/posts/202503070905-1.html", w.PostURL("output/202503070905-1.qmd"))
	assert.Empty(t, w.PostURL(""))

	w = newTestWriter(t, WriterConfig{})
	assert.Empty(t, w.PostURL("output/202503070905.qmd"))
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := NewWithConfig(WriterConfig{Format: "docx"})
	assert.ErrorContains(t, err, "docx")
}
