package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixedIDs(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewAlertID().String(), "alert_"))
	assert.True(t, strings.HasPrefix(NewSessionID().String(), "sess_"))
	assert.True(t, strings.HasPrefix(NewWorkerID().String(), "wrk_"))
	assert.True(t, strings.HasPrefix(NewRequestID().String(), "req_"))
}

func TestGeneratedULIDsAreValid(t *testing.T) {
	g := NewGenerator()

	raw := g.GenerateString()
	assert.True(t, IsValid(raw))

	prefixed := g.GenerateWithPrefix(AlertPrefix)
	parts := strings.SplitN(prefixed, "_", 2)
	require.Len(t, parts, 2)
	assert.True(t, IsValid(parts[1]))
}

func TestULIDsSortByCreationTime(t *testing.T) {
	g := NewGenerator()

	first := g.GenerateString()
	time.Sleep(2 * time.Millisecond)
	second := g.GenerateString()

	ids := []string{second, first}
	sort.Strings(ids)
	assert.Equal(t, first, ids[0])
}

func TestConcurrentGeneration(t *testing.T) {
	g := NewGenerator()

	const n = 200
	out := make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- g.GenerateString()
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[string]bool, n)
	for id := range out {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestIsValidRejectsGarbage(t *testing.T) {
	assert.False(t, IsValid("not-a-ulid"))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("alert_01HNY"))
}
