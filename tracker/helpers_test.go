package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"merlodigital/site/enrich"
	"merlodigital/site/mailer"
	"merlodigital/site/models"
)

const (
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	botUA     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

var testSecret = []byte("test-secret")

type fakeEnricher struct {
	calls atomic.Int32
}

func (f *fakeEnricher) Lookup(_ context.Context, _ string) enrich.Result {
	f.calls.Add(1)
	return enrich.Result{Location: "Curitiba/Parana (BR)", Network: "Vivo (Telefonica)"}
}

type fakeStore struct {
	mu      sync.Mutex
	failFor map[string]bool
	rows    []string
}

func (s *fakeStore) InsertEvent(_ context.Context, ev *models.TrackingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[ev.Action] {
		return errors.New("insert failed")
	}
	s.rows = append(s.rows, ev.Action)
	return nil
}

func (s *fakeStore) Rows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rows...)
}

// fakeMailer records messages. When block is non-nil Send signals started and
// waits for block to close.
type fakeMailer struct {
	mu      sync.Mutex
	err     error
	sent    []mailer.Message
	started chan struct{}
	block   chan struct{}
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	if m.block != nil {
		m.started <- struct{}{}
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *fakeMailer) Sent() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

func (m *fakeMailer) waitForSent(t *testing.T, n int) []mailer.Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(m.Sent()) >= n }, 2*time.Second, 5*time.Millisecond)
	return m.Sent()
}

type fakeWarmer struct {
	calls atomic.Int32
}

func (w *fakeWarmer) Refresh(context.Context) int {
	w.calls.Add(1)
	return 7
}

func newEvent(action string) *models.TrackingEvent {
	return &models.TrackingEvent{
		EventID:   action,
		Action:    action,
		IPAddress: "203.0.113.7",
		CreatedAt: time.Now(),
	}
}

func newTestTracker(t *testing.T, opts Options, m *fakeMailer, warmer CacheWarmer) *Tracker {
	t.Helper()
	cls := NewClassifier(testSecret, time.Hour, []string{"192.168.0.101"})
	p := NewPipeline(PipelineConfig{
		Enricher: &fakeEnricher{},
		Mailer:   m,
		To:       []string{"dono@merlodigital.com"},
	})
	tr := New(cls, p, warmer, opts)
	t.Cleanup(func() {
		if m.block != nil {
			select {
			case <-m.block:
			default:
				close(m.block)
			}
		}
		require.NoError(t, tr.Shutdown(context.Background()))
	})
	return tr
}

func click(action string) Click {
	return Click{
		TrackClickRequest: models.TrackClickRequest{Action: action, Page: "/servicos", Destination: "https://wa.me/55"},
		UserAgent:         desktopUA,
		IP:                "203.0.113.7",
	}
}
