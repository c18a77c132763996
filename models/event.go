package models

import (
	"sync"
	"time"
)

// TrackClickRequest is the body posted by the site's click tracker script.
type TrackClickRequest struct {
	Action      string `json:"botao"`
	Page        string `json:"pagina_origem"`
	Destination string `json:"url_destino"`
}

// TrackingEvent is one accepted click. CreatedAt is fixed at ingest; the
// enrichment fields are written once by the delivery pipeline.
type TrackingEvent struct {
	EventID     string    `json:"eventId"`
	VisitorID   string    `json:"visitorId"`
	NewVisitor  bool      `json:"newVisitor"`
	Action      string    `json:"action"`
	Page        string    `json:"page"`
	Destination string    `json:"destination"`
	Referrer    string    `json:"referrer"`
	IPAddress   string    `json:"ipAddress"`
	Device      string    `json:"device"`
	CreatedAt   time.Time `json:"createdAt"`

	mu        sync.Mutex
	location  string
	network   string
	enriched  bool
	persisted bool
	attempts  int
}

// Enrich sets the location and network labels. Only the first call has an
// effect; it reports whether it did.
func (e *TrackingEvent) Enrich(location, network string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enriched {
		return false
	}
	e.location, e.network, e.enriched = location, network, true
	return true
}

func (e *TrackingEvent) Enriched() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enriched
}

// Location returns the enrichment labels, empty while pending.
func (e *TrackingEvent) Location() (location, network string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.location, e.network
}

func (e *TrackingEvent) MarkPersisted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.persisted = true
}

func (e *TrackingEvent) Persisted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persisted
}

// RecordAttempt counts a delivery attempt and returns the new total.
func (e *TrackingEvent) RecordAttempt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts++
	return e.attempts
}

// ClickCountByTime is one bucket of a clicks-over-time series.
type ClickCountByTime struct {
	Time  time.Time `json:"time"`
	Count uint64    `json:"count"`
}

// ActionCount is how often one action label was clicked.
type ActionCount struct {
	Action string `json:"action"`
	Count  uint64 `json:"count"`
}
