package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSetGet(t *testing.T) {
	s := New()

	_, ok := s.Get(OriginalURL)
	assert.False(t, ok)

	_, err := s.MustGet(OriginalURL)
	assert.ErrorContains(t, err, `"original_url" has not been set`)

	s.Set(OriginalURL, "https://example.com")
	v, err := s.MustGet(OriginalURL)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", v)
}

func TestSummaryKey(t *testing.T) {
	assert.Equal(t, "summary_1", SummaryKey(1))
	assert.Equal(t, "summary_3", SummaryKey(3))
}

func TestStateConcurrentWriters(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Set(SummaryKey(i), fmt.Sprintf("summary %d", i))
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Len(t, snap, 3)
	assert.Equal(t, "summary 2", snap["summary_2"])

	snap["summary_1"] = "changed"
	v, _ := s.Get(SummaryKey(1))
	assert.Equal(t, "summary 1", v)
}
