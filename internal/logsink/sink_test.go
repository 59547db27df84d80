package logsink

import (
	"fmt"
	"sync"
	"testing"

	"github.com/podushkina/sarflow/internal/log"
	"github.com/podushkina/sarflow/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestSink(t *testing.T, n int) *Sink {
	t.Helper()
	s := New(log.Discard())
	for i := 0; i < n; i++ {
		s.Append("t1", task.LogEntry{Level: task.LevelInfo, Stage: "search", Message: fmt.Sprintf("m%d", i)})
	}
	return s
}

func TestSink_ReadPage(t *testing.T) {
	s := setupTestSink(t, 10)

	page := s.Read("t1", 3, 4)

	assert.Equal(t, 10, page.Total)
	require.Len(t, page.Entries, 4)
	assert.Equal(t, "m3", page.Entries[0].Message)
	assert.Equal(t, 3, page.Entries[0].Seq)
	assert.Equal(t, "m6", page.Entries[3].Message)
	assert.False(t, page.Entries[0].Timestamp.IsZero())
}

func TestSink_ReadPastEnd(t *testing.T) {
	s := setupTestSink(t, 3)

	for _, offset := range []int{3, 4, 1000} {
		page := s.Read("t1", offset, 100)
		assert.NotNil(t, page.Entries)
		assert.Empty(t, page.Entries)
		assert.Equal(t, 3, page.Total)
	}
}

func TestSink_ReadIsIdempotent(t *testing.T) {
	s := setupTestSink(t, 5)

	first := s.Read("t1", 1, 3)
	second := s.Read("t1", 1, 3)

	assert.Equal(t, first, second)
}

func TestSink_ReadUnknownTask(t *testing.T) {
	s := New(nil)

	page := s.Read("missing", 0, 10)

	assert.Empty(t, page.Entries)
	assert.Equal(t, 0, page.Total)
}

func TestSink_ReadClampsLimit(t *testing.T) {
	s := setupTestSink(t, 5)

	assert.Len(t, s.Read("t1", 2, 100).Entries, 3)
	assert.Empty(t, s.Read("t1", 0, 0).Entries)
	assert.Len(t, s.Read("t1", -4, 2).Entries, 2)
}

func TestSink_ReadReturnsCopy(t *testing.T) {
	s := setupTestSink(t, 2)

	page := s.Read("t1", 0, 2)
	page.Entries[0].Message = "mutated"

	assert.Equal(t, "m0", s.Read("t1", 0, 1).Entries[0].Message)
}

func TestSink_ConcurrentAppendsKeepPerWriterOrder(t *testing.T) {
	s := New(nil)
	const writers, perWriter = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			taskID := fmt.Sprintf("task-%d", w%2)
			for i := 0; i < perWriter; i++ {
				s.Append(taskID, task.LogEntry{Message: fmt.Sprintf("%d:%d", w, i)})
			}
		}(w)
	}
	wg.Wait()

	for _, id := range []string{"task-0", "task-1"} {
		page := s.Read(id, 0, writers*perWriter)
		require.Equal(t, writers/2*perWriter, page.Total)

		last := map[int]int{}
		for i, e := range page.Entries {
			assert.Equal(t, i, e.Seq)
			var w, n int
			_, err := fmt.Sscanf(e.Message, "%d:%d", &w, &n)
			require.NoError(t, err)
			if prev, ok := last[w]; ok {
				assert.Greater(t, n, prev)
			}
			last[w] = n
		}
	}
}

func TestScope_WritesStageAndLevel(t *testing.T) {
	s := New(nil)
	sc := s.Scope("t1", "acquisition")

	sc.Infof("downloaded %d%%", 10)
	sc.Warnf("slow")
	sc.Errorf("boom")

	page := s.Read("t1", 0, 10)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, "acquisition", page.Entries[0].Stage)
	assert.Equal(t, "downloaded 10%", page.Entries[0].Message)
	assert.Equal(t, task.LevelWarning, page.Entries[1].Level)
	assert.Equal(t, task.LevelError, page.Entries[2].Level)
}

func TestSink_Drop(t *testing.T) {
	s := setupTestSink(t, 2)

	s.Drop("t1")

	assert.Equal(t, 0, s.Len("t1"))
}
