package tracker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
)

func TestTrack_BelowThresholdAccumulates(t *testing.T) {
	m := &fakeMailer{}
	tr := newTestTracker(t, Options{Threshold: 10, Workers: 1, QueueDepth: 2}, m, nil)

	for i := 1; i <= 9; i++ {
		res := tr.Track(click("Ver Projetos"))
		require.Equal(t, StatusAccumulating, res.Status)
		require.Equal(t, i, res.Pending)
	}
	require.Equal(t, 9, tr.Pending())
	require.Empty(t, m.Sent())
}

func TestTrack_TenthClickFlushesOnce(t *testing.T) {
	m := &fakeMailer{}
	tr := newTestTracker(t, Options{Threshold: 10, Workers: 2, QueueDepth: 2}, m, nil)

	for i := 0; i < 9; i++ {
		tr.Track(click("Ver Projetos"))
	}
	res := tr.Track(click("WhatsApp"))
	require.Equal(t, StatusProcessing, res.Status)
	require.Zero(t, tr.Pending())

	sent := m.waitForSent(t, 1)
	require.Len(t, sent, 1)
	require.True(t, strings.HasPrefix(sent[0].Subject, "🎯 10 Novos"), sent[0].Subject)

	res = tr.Track(click("Ver Projetos"))
	require.Equal(t, StatusAccumulating, res.Status)
	require.Equal(t, 1, res.Pending)
}

func TestTrack_IgnoredClicksAreNotBuffered(t *testing.T) {
	tr := newTestTracker(t, Options{Threshold: 10}, &fakeMailer{}, nil)

	bot := click("x")
	bot.UserAgent = botUA
	require.Equal(t, TrackResult{Status: StatusIgnored, Reason: ReasonBot}, tr.Track(bot))

	owner := click("x")
	owner.IP = "192.168.0.101"
	require.Equal(t, TrackResult{Status: StatusIgnored, Reason: ReasonOwner}, tr.Track(owner))

	require.Zero(t, tr.Pending())
}

func TestTrack_IssuesTokenOnlyForNewVisitors(t *testing.T) {
	tr := newTestTracker(t, Options{Threshold: 10}, &fakeMailer{}, nil)

	first := tr.Track(click("a"))
	require.True(t, first.NewVisitor)
	require.NotEmpty(t, first.Token)

	c := click("b")
	c.Token = first.Token
	again := tr.Track(c)
	require.False(t, again.NewVisitor)
	require.Empty(t, again.Token)
}

func TestTrack_FillsDefaultsAndReferrer(t *testing.T) {
	tr := newTestTracker(t, Options{Threshold: 10, HostURL: "https://merlodigital.com"}, &fakeMailer{}, nil)

	tr.Track(Click{UserAgent: desktopUA, IP: "203.0.113.7"})
	ext := click("b")
	ext.Referrer = "https://google.com/"
	tr.Track(ext)
	internal := click("c")
	internal.Referrer = "https://merlodigital.com/servicos"
	tr.Track(internal)

	events := tr.buffer.Snapshot()
	require.Len(t, events, 3)
	require.Equal(t, DefaultAction, events[0].Action)
	require.Equal(t, DefaultPage, events[0].Page)
	require.Equal(t, DefaultDestination, events[0].Destination)
	require.Equal(t, "Acesso Direto / Navegação Interna", events[0].Referrer)
	require.Equal(t, "Veio de: https://google.com/", events[1].Referrer)
	require.Equal(t, "Acesso Direto / Navegação Interna", events[2].Referrer)
}

func TestTrack_CreatedAtUsesSiteTimeZone(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2030, 6, 1, 15, 0, 0, 0, time.UTC))

	tr := newTestTracker(t, Options{Threshold: 10, Location: loc, Clock: clock}, &fakeMailer{}, nil)
	tr.Track(click("a"))

	ev := tr.buffer.Snapshot()[0]
	require.Equal(t, loc, ev.CreatedAt.Location())
	require.Equal(t, 12, ev.CreatedAt.Hour())
}

func TestTrack_AgeTriggerSendsInBackground(t *testing.T) {
	clock := quartz.NewMock(t)
	m := &fakeMailer{}
	tr := newTestTracker(t, Options{Threshold: 10, MaxAge: 30 * time.Minute, Workers: 1, QueueDepth: 1, Clock: clock}, m, nil)

	tr.Track(click("a"))
	clock.Advance(31 * time.Minute)
	res := tr.Track(click("b"))
	require.Equal(t, StatusSending, res.Status)

	sent := m.waitForSent(t, 1)
	require.Contains(t, sent[0].Subject, "2 Novos")
	require.Contains(t, sent[0].Subject, ReasonAge)
}

func TestMaintain_FlushesNinePendingAsOneBatch(t *testing.T) {
	m := &fakeMailer{}
	w := &fakeWarmer{}
	tr := newTestTracker(t, Options{Threshold: 10, Workers: 1, QueueDepth: 1}, m, w)

	for i := 0; i < 9; i++ {
		tr.Track(click("Ver Projetos"))
	}
	res, err := tr.Maintain(context.Background(), ReasonPeriodic)
	require.NoError(t, err)
	require.Equal(t, MaintenanceResult{Action: ActionDispatched, Events: 9}, res)
	require.Zero(t, tr.Pending())
	require.Zero(t, w.calls.Load())

	sent := m.waitForSent(t, 1)
	require.Equal(t, "🎯 9 Novos Leads/Cliques no Site (Cron Job (Periódico))", sent[0].Subject)

	next := tr.Track(click("Ver Projetos"))
	require.Equal(t, StatusAccumulating, next.Status)
	require.Equal(t, 1, next.Pending)
}

func TestMaintain_EmptyBufferWarmsCache(t *testing.T) {
	w := &fakeWarmer{}
	tr := newTestTracker(t, Options{Threshold: 10}, &fakeMailer{}, w)

	res, err := tr.Maintain(context.Background(), ReasonPeriodic)
	require.NoError(t, err)
	require.Equal(t, MaintenanceResult{Action: ActionCacheWarmed, Projects: 7}, res)
	require.EqualValues(t, 1, w.calls.Load())
}

func TestMaintain_QueueFullKeepsEvents(t *testing.T) {
	m := &fakeMailer{started: make(chan struct{}, 1), block: make(chan struct{})}
	tr := newTestTracker(t, Options{Threshold: 100, Workers: 1, QueueDepth: 1}, m, nil)

	tr.Track(click("first"))
	_, err := tr.Maintain(context.Background(), ReasonPeriodic)
	require.NoError(t, err)
	<-m.started

	tr.Track(click("second"))
	_, err = tr.Maintain(context.Background(), ReasonPeriodic)
	require.NoError(t, err)

	tr.Track(click("third"))
	res, err := tr.Maintain(context.Background(), ReasonPeriodic)
	require.ErrorIs(t, err, ErrQueueFull)
	require.Equal(t, ActionQueueFull, res.Action)
	require.Equal(t, 1, tr.Pending())
	require.Equal(t, []string{"third"}, actions(tr.buffer.Snapshot()))

	close(m.block)
	<-m.started // second batch
}

func TestShutdown_DeliversRemainingEvents(t *testing.T) {
	m := &fakeMailer{}
	cls := NewClassifier(testSecret, time.Hour, nil)
	p := NewPipeline(PipelineConfig{Enricher: &fakeEnricher{}, Mailer: m, To: []string{"x@y.z"}})
	tr := New(cls, p, nil, Options{Threshold: 10})

	tr.Track(click("a"))
	tr.Track(click("b"))
	require.NoError(t, tr.Shutdown(context.Background()))

	sent := m.Sent()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].Subject, ReasonShutdown)
	require.Zero(t, tr.Pending())
	require.Equal(t, StatusAccumulating, tr.Track(click("late")).Status)
}

func TestTrack_StalledStoreKeepsBufferBounded(t *testing.T) {
	m := &fakeMailer{}
	cls := NewClassifier(testSecret, time.Hour, nil)
	p := NewPipeline(PipelineConfig{
		Enricher:       &fakeEnricher{},
		Store:          &stalledStore{},
		Mailer:         m,
		To:             []string{"x@y.z"},
		PersistTimeout: 20 * time.Millisecond,
	})
	tr := New(cls, p, nil, Options{Threshold: 2, Workers: 1, QueueDepth: 4})
	t.Cleanup(func() { require.NoError(t, tr.Shutdown(context.Background())) })

	for i := 0; i < 6; i++ {
		tr.Track(click("WhatsApp"))
	}
	m.waitForSent(t, 3)
	require.Zero(t, tr.Pending())
}

func TestShutdown_DeadlineCancelsInFlightDelivery(t *testing.T) {
	m := &fakeMailer{}
	store := &stalledStore{}
	cls := NewClassifier(testSecret, time.Hour, nil)
	p := NewPipeline(PipelineConfig{
		Enricher:       &fakeEnricher{},
		Store:          store,
		Mailer:         m,
		To:             []string{"x@y.z"},
		PersistTimeout: time.Hour,
	})
	tr := New(cls, p, nil, Options{Threshold: 1, Workers: 1, QueueDepth: 1})

	tr.Track(click("Contato"))
	require.Eventually(t, func() bool { return store.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tr.Shutdown(ctx), context.DeadlineExceeded)

	// The cancelled write releases the worker, which still reports the batch.
	m.waitForSent(t, 1)
}
