package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedger_Counters(t *testing.T) {
	l := NewLedger()

	for i := 0; i < 3; i++ {
		l.AddProcessed(100)
	}
	l.AddProcessed(200)
	l.AddError(100)
	l.AddError(100)

	assert.Equal(t, Entry{Processed: 3, Errors: 2}, l.Get(100))
	assert.Equal(t, Entry{Processed: 1, Errors: 0}, l.Get(200))
	assert.Equal(t, Entry{}, l.Get(999), "unknown chat reads as zero")
}

func TestLedger_Reset(t *testing.T) {
	l := NewLedger()
	l.AddProcessed(1)
	l.AddError(1)

	l.Reset()

	assert.Equal(t, Entry{}, l.Get(1))
	assert.Empty(t, l.Snapshot())

	// counters keep working after a reset
	l.AddProcessed(1)
	assert.Equal(t, Entry{Processed: 1}, l.Get(1))
}

func TestLedger_Totals(t *testing.T) {
	l := NewLedger()
	l.AddProcessed(1)
	l.AddProcessed(2)
	l.AddError(3)

	assert.Equal(t, Entry{Processed: 2, Errors: 1}, l.Totals())
}

func TestLedger_SnapshotIsCopy(t *testing.T) {
	l := NewLedger()
	l.AddProcessed(1)

	snap := l.Snapshot()
	snap[1] = Entry{Processed: 99}

	assert.Equal(t, Entry{Processed: 1}, l.Get(1))
}

func TestLedger_ConcurrentUpdates(t *testing.T) {
	l := NewLedger()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.AddProcessed(42)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, l.Get(42).Processed)
}
