package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/scribe/internal/models"
)

// wordEmbedder hashes words into a small bag-of-words vector.
type wordEmbedder struct{ dim int }

func (e wordEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(e.dim)]++
	}
	v[0] += 0.01 // never the zero vector
	return v, nil
}

// fakeRow assigns values to Scan destinations positionally, like a pgx row.
type fakeRow struct{ values []any }

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan %d destinations from %d columns", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *float64:
			*p = r.values[i].(float64)
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

func TestScanRelatedFollowsColumnOrder(t *testing.T) {
	columns := strings.Split(relatedColumns, ", ")
	require.Equal(t, []string{"id", "post_url", "source_url"}, columns[:3])

	row := fakeRow{values: []any{
		"01J",
		"https://blog.example/202501010000.html",
		"https://news.example/story",
		"Earlier title",
		"Earlier description",
		0.25,
	}}
	p, err := scanRelated(row)
	require.NoError(t, err)

	assert.Equal(t, "01J", p.ID)
	assert.Equal(t, "https://blog.example/202501010000.html", p.URL)
	assert.Equal(t, "https://news.example/story", p.SourceURL)
	assert.Equal(t, "Earlier title", p.Title)
	assert.Equal(t, "Earlier description", p.Description)
	assert.Equal(t, 0.25, p.Distance)
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "ok", sanitizeUTF8("ok"))
	assert.Equal(t, "ab", sanitizeUTF8("a\xffb"))
	assert.Equal(t, "日本", sanitizeUTF8("日\xfe本"))
}

func TestEmbeddingText(t *testing.T) {
	assert.Equal(t, "Title\nDesc", embeddingText(&models.Post{Title: "Title", Description: "Desc", Body: "body"}))
	assert.Equal(t, "body only", embeddingText(&models.Post{Body: "body only"}))

	long := strings.Repeat("字", 2500)
	assert.Equal(t, 2000, len([]rune(embeddingText(&models.Post{Body: long}))))
}

func TestNewRejectsBadTableName(t *testing.T) {
	_, err := NewWithConfig(context.Background(), ArchiveConfig{TableName: "posts; DROP TABLE x"}, wordEmbedder{dim: 8})
	assert.ErrorContains(t, err, "invalid table name")

	_, err = NewWithConfig(context.Background(), ArchiveConfig{}, nil)
	assert.Error(t, err)
}

func TestPostArchive(t *testing.T) {
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	table := "test_posts_" + time.Now().Format("150405")
	a, err := NewWithConfig(ctx, ArchiveConfig{
		ConnString: connString,
		TableName:  table,
		VectorDim:  16,
	}, wordEmbedder{dim: 16})
	require.NoError(t, err)
	defer func() {
		a.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table)
		a.Close()
	}()

	posts := []*models.Post{
		{ID: "1", SourceURL: "https://example.com/go", URL: "https://blog.example/1.html", Title: "Go generics", Description: "type parameters in go", Queries: []string{"go generics"}, CreatedAt: time.Now()},
		{ID: "2", SourceURL: "https://example.com/rust", URL: "https://blog.example/2.html", Title: "Rust lifetimes", Description: "borrow checker", CreatedAt: time.Now()},
		{ID: "3", SourceURL: "https://example.com/go2", Title: "Go generics again", Description: "type parameters in go", CreatedAt: time.Now()},
	}
	for _, p := range posts {
		require.NoError(t, a.Save(ctx, p))
	}

	related, err := a.Related(ctx, "go generics type parameters", 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "1", related[0].ID)
	assert.Equal(t, "https://blog.example/1.html", related[0].URL)
	assert.Equal(t, "https://example.com/go", related[0].SourceURL)

	all, err := a.Related(ctx, "go generics type parameters", 10)
	require.NoError(t, err)
	for _, p := range all {
		assert.NotEqual(t, "3", p.ID, "posts without a post URL are not linkable")
	}

	found, err := a.FindBySource(ctx, "https://example.com/go")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Go generics", found.Title)
	assert.Equal(t, "https://blog.example/1.html", found.URL)
	assert.Equal(t, []string{"go generics"}, found.Queries)

	missing, err := a.FindBySource(ctx, "https://example.com/none")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
