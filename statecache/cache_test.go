package statecache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/telemetry"
)

func sample(deviceID int, hr float64, at time.Time) telemetry.Reading {
	return telemetry.Reading{
		DeviceID:    deviceID,
		HeartRate:   hr,
		Temperature: 38.0,
		ReceivedAt:  at,
	}
}

var safeEval = safety.Evaluation{
	Overall:  safety.StatusSafe,
	Vitals:   safety.StatusSafe,
	Location: safety.StatusSafe,
}

func TestUpsertAndGet(t *testing.T) {
	c := New()
	now := time.Now()

	c.Upsert(sample(7, 65, now), safeEval)

	entry, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, 65.0, entry.Reading.HeartRate)
	assert.Equal(t, now, entry.UpdatedAt)

	_, ok = c.Get(99)
	assert.False(t, ok)
}

func TestUpsertLastWriteWins(t *testing.T) {
	c := New()
	base := time.Now()

	c.Upsert(sample(7, 65, base), safeEval)
	c.Upsert(sample(7, 110, base.Add(time.Second)), safety.Evaluation{
		Overall: safety.StatusDanger,
		Vitals:  safety.StatusDanger,
	})

	entry, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, 110.0, entry.Reading.HeartRate)
	assert.Equal(t, safety.StatusDanger, entry.Evaluation.Overall)
	assert.Equal(t, 1, c.Len())
}

func TestSnapshotIsPointInTime(t *testing.T) {
	c := New()
	now := time.Now()

	c.Upsert(sample(1, 60, now), safeEval)
	c.Upsert(sample(2, 70, now), safeEval)

	snap := c.Snapshot()
	require.Len(t, snap, 2)

	c.Upsert(sample(3, 80, now), safeEval)
	assert.Len(t, snap, 2)
	assert.Equal(t, 3, c.Len())
}

func TestEntryReplacedAtomically(t *testing.T) {
	c := New()
	base := time.Unix(0, 0)
	var wg sync.WaitGroup

	// Writers tie HeartRate and UpdatedAt together; a reader seeing a
	// mixed pair would mean the entry was replaced field by field.
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			c.Upsert(sample(7, float64(seq), base.Add(time.Duration(seq))), safeEval)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			if entry, ok := c.Get(7); ok {
				want := base.Add(time.Duration(int(entry.Reading.HeartRate)))
				assert.Equal(t, want, entry.UpdatedAt)
			}
		}
	}()

	wg.Wait()
	<-done
}

func TestConcurrentUpsertsNoTornReads(t *testing.T) {
	c := New()
	now := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			c.Upsert(sample(7, float64(seq), now.Add(time.Duration(seq))), safeEval)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if entry, ok := c.Get(7); ok {
				// A torn entry would show a heart rate outside the
				// written range.
				assert.GreaterOrEqual(t, entry.Reading.HeartRate, 0.0)
				assert.Less(t, entry.Reading.HeartRate, 50.0)
			}
		}
	}()

	wg.Wait()
	<-done

	entry, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, 1, c.Len())
	assert.Less(t, entry.Reading.HeartRate, 50.0)
}
