package tracker

import (
	"sync"
	"time"

	"github.com/coder/quartz"

	"merlodigital/site/metrics"
	"merlodigital/site/models"
)

// Trigger names what caused a flush.
type Trigger string

const (
	TriggerNone      Trigger = ""
	TriggerThreshold Trigger = "threshold"
	TriggerAge       Trigger = "age"
	TriggerPeriodic  Trigger = "periodic"
	TriggerShutdown  Trigger = "shutdown"
)

// Buffer is the ordered set of clicks waiting for delivery. Every mutation
// happens under one mutex, so a flush takes each event exactly once.
type Buffer struct {
	mu        sync.Mutex
	events    []*models.TrackingEvent
	oldest    time.Time
	threshold int
	maxAge    time.Duration
	clock     quartz.Clock
}

// NewBuffer returns an empty buffer. maxAge 0 disables the age trigger.
func NewBuffer(threshold int, maxAge time.Duration, clock quartz.Clock) *Buffer {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Buffer{threshold: threshold, maxAge: maxAge, clock: clock}
}

// Push appends ev. When the threshold is reached, or the oldest pending event
// has waited longer than maxAge, the whole buffer is taken in the same step
// and returned with the trigger that fired; pending is then 0.
func (b *Buffer) Push(ev *models.TrackingEvent) (pending int, batch []*models.TrackingEvent, trigger Trigger) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		b.oldest = b.clock.Now()
	}
	b.events = append(b.events, ev)

	switch {
	case len(b.events) >= b.threshold:
		trigger = TriggerThreshold
	case b.maxAge > 0 && b.clock.Since(b.oldest) >= b.maxAge:
		trigger = TriggerAge
	default:
		metrics.BufferSize.Set(float64(len(b.events)))
		return len(b.events), nil, TriggerNone
	}
	return 0, b.takeLocked(), trigger
}

// Drain removes and returns every pending event.
func (b *Buffer) Drain() []*models.TrackingEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.takeLocked()
}

// Requeue puts events back at the head of the buffer, ahead of anything that
// arrived since they were taken.
func (b *Buffer) Requeue(events []*models.TrackingEvent) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		b.oldest = b.clock.Now()
	}
	merged := make([]*models.TrackingEvent, 0, len(events)+len(b.events))
	merged = append(merged, events...)
	b.events = append(merged, b.events...)
	metrics.BufferSize.Set(float64(len(b.events)))
}

// Len returns the number of pending events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Snapshot returns a copy of the pending events in arrival order.
func (b *Buffer) Snapshot() []*models.TrackingEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.TrackingEvent, len(b.events))
	copy(out, b.events)
	return out
}

func (b *Buffer) takeLocked() []*models.TrackingEvent {
	out := b.events
	b.events = nil
	b.oldest = time.Time{}
	metrics.BufferSize.Set(0)
	return out
}
