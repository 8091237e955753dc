package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtZero(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
}

func TestClock_NewClockAt(t *testing.T) {
	c := NewClockAt(100)
	assert.Equal(t, int64(100), c.Current())
	assert.Equal(t, int64(101), c.Next())
}

func TestClock_AdvanceTo(t *testing.T) {
	tests := []struct {
		name  string
		start int64
		to    int64
		want  int64
	}{
		{"forward", 3, 41, 41},
		{"same", 41, 41, 41},
		{"never backwards", 50, 41, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClockAt(tt.start)
			c.AdvanceTo(tt.to)
			assert.Equal(t, tt.want, c.Current())
			assert.Equal(t, tt.want+1, c.Next())
		})
	}
}

func TestClock_ConcurrentNextIsUnique(t *testing.T) {
	c := NewClock()
	const workers, calls = 32, 50

	var wg sync.WaitGroup
	seqs := make(chan int64, workers*calls)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seqs <- c.Next()
			}
			c.AdvanceTo(int64(i))
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool, workers*calls)
	for seq := range seqs {
		assert.False(t, seen[seq], "seq %d issued twice", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, workers*calls)
	assert.Equal(t, int64(workers*calls), c.Current())
}
