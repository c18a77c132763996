package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"merlodigital/site/models"
)

func actions(events []*models.TrackingEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Action
	}
	return out
}

func TestBuffer_BelowThresholdKeepsArrivalOrder(t *testing.T) {
	b := NewBuffer(10, 0, quartz.NewMock(t))
	want := []string{}
	for i := 0; i < 9; i++ {
		a := string(rune('a' + i))
		want = append(want, a)
		n, batch, trigger := b.Push(newEvent(a))
		require.Equal(t, i+1, n)
		require.Nil(t, batch)
		require.Equal(t, TriggerNone, trigger)
	}
	require.Equal(t, want, actions(b.Snapshot()))
}

func TestBuffer_ThresholdTakesWholeBuffer(t *testing.T) {
	b := NewBuffer(3, 0, quartz.NewMock(t))
	b.Push(newEvent("1"))
	b.Push(newEvent("2"))
	n, batch, trigger := b.Push(newEvent("3"))

	require.Zero(t, n)
	require.Equal(t, TriggerThreshold, trigger)
	require.Equal(t, []string{"1", "2", "3"}, actions(batch))
	require.Zero(t, b.Len())
}

func TestBuffer_AgeTrigger(t *testing.T) {
	clock := quartz.NewMock(t)
	b := NewBuffer(100, 30*time.Minute, clock)

	_, batch, trigger := b.Push(newEvent("old"))
	require.Nil(t, batch)
	require.Equal(t, TriggerNone, trigger)

	clock.Advance(29 * time.Minute)
	_, _, trigger = b.Push(newEvent("mid"))
	require.Equal(t, TriggerNone, trigger)

	clock.Advance(2 * time.Minute)
	_, batch, trigger = b.Push(newEvent("new"))
	require.Equal(t, TriggerAge, trigger)
	require.Equal(t, []string{"old", "mid", "new"}, actions(batch))

	// The age window restarts with the next event.
	_, _, trigger = b.Push(newEvent("fresh"))
	require.Equal(t, TriggerNone, trigger)
}

func TestBuffer_RequeueGoesToHead(t *testing.T) {
	b := NewBuffer(10, 0, quartz.NewMock(t))
	taken := []*models.TrackingEvent{newEvent("1"), newEvent("2")}
	b.Push(newEvent("3"))
	b.Requeue(taken)
	require.Equal(t, []string{"1", "2", "3"}, actions(b.Drain()))
	require.Zero(t, b.Len())
	require.Empty(t, b.Drain())
}

func TestBuffer_ConcurrentPushNeverLosesOrDuplicates(t *testing.T) {
	const total = 1000
	b := NewBuffer(7, 0, quartz.NewReal())

	var (
		mu   sync.Mutex
		seen = make(map[*models.TrackingEvent]int)
		wg   sync.WaitGroup
	)
	record := func(events []*models.TrackingEvent) {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			seen[ev]++
		}
	}

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, batch, _ := b.Push(newEvent("x"))
			record(batch)
			if i%50 == 0 {
				record(b.Drain())
			}
		}()
	}
	wg.Wait()
	record(b.Drain())

	require.Len(t, seen, total)
	for _, n := range seen {
		require.Equal(t, 1, n)
	}
}
