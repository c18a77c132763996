// Package tracker buffers site clicks and hands them to a bounded pool of
// delivery workers that enrich, persist and email them.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"merlodigital/site/logging"
	"merlodigital/site/metrics"
	"merlodigital/site/models"
	"merlodigital/site/utils"
)

// Ingest statuses.
const (
	StatusIgnored      = "ignorado"
	StatusAccumulating = "acumulando"
	StatusProcessing   = "processando_background"
	StatusSending      = "enviando_background"
)

// Maintenance actions.
const (
	ActionDispatched  = "thread_iniciada"
	ActionCacheWarmed = "cache_atualizado"
	ActionQueueFull   = "fila_cheia"
)

// Batch reasons shown in the report.
const (
	ReasonThreshold = "Buffer Cheio (Alta Demanda)"
	ReasonAge       = "Tempo Limite"
	ReasonPeriodic  = "Cron Job (Periódico)"
	ReasonScheduled = "Agendamento Interno"
	ReasonShutdown  = "Encerramento do Servidor"
)

// Defaults for a click with missing fields.
const (
	DefaultAction      = "Clique Genérico"
	DefaultPage        = "/"
	DefaultDestination = "#"
)

// ErrQueueFull is returned when every delivery worker is busy and the queue
// is full. The events stay in the buffer.
var ErrQueueFull = errors.New("delivery queue is full")

// CacheWarmer refreshes a cache and returns how many entries it holds.
type CacheWarmer interface {
	Refresh(ctx context.Context) int
}

// Click is one inbound tracking request after transport decoding.
type Click struct {
	models.TrackClickRequest
	UserAgent string
	IP        string
	Token     string
	Referrer  string
}

// TrackResult is the outcome of Track.
type TrackResult struct {
	Status     string
	Reason     string
	Pending    int
	NewVisitor bool
	// Token is set when a new identity cookie must be issued.
	Token string
}

// MaintenanceResult is the outcome of Maintain.
type MaintenanceResult struct {
	Action   string
	Events   int
	Projects int
}

// Options configures a Tracker.
type Options struct {
	Threshold  int
	MaxAge     time.Duration
	Workers    int
	QueueDepth int
	// HostURL tells internal navigation apart from external referrers.
	HostURL  string
	Location *time.Location
	Clock    quartz.Clock
}

// Tracker owns the click buffer and the delivery workers.
type Tracker struct {
	classifier *Classifier
	buffer     *Buffer
	pipeline   *Pipeline
	pool       *workerPool[Batch]
	cancel     context.CancelFunc
	warmer     CacheWarmer
	hostURL    string
	loc        *time.Location
	clock      quartz.Clock
}

// New starts the delivery workers. warmer may be nil.
func New(classifier *Classifier, pipeline *Pipeline, warmer CacheWarmer, opts Options) *Tracker {
	if opts.Threshold < 1 {
		opts.Threshold = 10
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueDepth < 1 {
		opts.QueueDepth = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}

	t := &Tracker{
		classifier: classifier,
		buffer:     NewBuffer(opts.Threshold, opts.MaxAge, opts.Clock),
		pipeline:   pipeline,
		warmer:     warmer,
		hostURL:    opts.HostURL,
		loc:        opts.Location,
		clock:      opts.Clock,
	}
	pipeline.requeue = t.buffer.Requeue
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.pool = newWorkerPool(ctx, opts.Workers, opts.QueueDepth, func(ctx context.Context, b Batch) {
		pipeline.Deliver(ctx, b)
	})
	return t
}

// Track classifies a click and buffers it. It never waits for delivery.
func (t *Tracker) Track(c Click) TrackResult {
	cl := t.classifier.Classify(c.UserAgent, c.IP, c.Token)
	if !cl.Accepted {
		metrics.ClicksReceived.WithLabelValues(cl.Reason).Inc()
		return TrackResult{Status: StatusIgnored, Reason: cl.Reason}
	}
	metrics.ClicksReceived.WithLabelValues("accepted").Inc()

	res := TrackResult{NewVisitor: cl.NewVisitor}
	if cl.NewVisitor {
		metrics.VisitorsNew.Inc()
		token, err := t.classifier.IssueToken(cl.VisitorID)
		if err != nil {
			logging.Error().Err(err).Msg("failed to issue visitor token")
		}
		res.Token = token
	}

	ev := &models.TrackingEvent{
		EventID:     uuid.NewString(),
		VisitorID:   cl.VisitorID,
		NewVisitor:  cl.NewVisitor,
		Action:      utils.DefaultString(c.Action, DefaultAction),
		Page:        utils.DefaultString(c.Page, DefaultPage),
		Destination: utils.DefaultString(c.Destination, DefaultDestination),
		Referrer:    utils.ReferrerLabel(c.Referrer, t.hostURL),
		IPAddress:   c.IP,
		Device:      cl.Device,
		CreatedAt:   t.clock.Now().In(t.loc),
	}

	pending, events, trigger := t.buffer.Push(ev)
	switch trigger {
	case TriggerNone:
		res.Status, res.Pending = StatusAccumulating, pending
		return res
	case TriggerAge:
		res.Status = StatusSending
		err := t.dispatch(Batch{Reason: ReasonAge, Trigger: trigger, Events: events})
		if err == nil {
			return res
		}
	default:
		res.Status = StatusProcessing
		err := t.dispatch(Batch{Reason: ReasonThreshold, Trigger: trigger, Events: events})
		if err == nil {
			return res
		}
	}
	res.Status, res.Pending = StatusAccumulating, t.buffer.Len()
	return res
}

// Flush hands everything pending to the workers and returns how many events
// were dispatched.
func (t *Tracker) Flush(reason string, trigger Trigger) (int, error) {
	events := t.buffer.Drain()
	if len(events) == 0 {
		return 0, nil
	}
	if err := t.dispatch(Batch{Reason: reason, Trigger: trigger, Events: events}); err != nil {
		return 0, err
	}
	return len(events), nil
}

// Maintain is the periodic heartbeat: flush when clicks are pending,
// otherwise refresh the warmer's cache.
func (t *Tracker) Maintain(ctx context.Context, reason string) (MaintenanceResult, error) {
	n, err := t.Flush(reason, TriggerPeriodic)
	if err != nil {
		return MaintenanceResult{Action: ActionQueueFull, Events: t.buffer.Len()}, err
	}
	if n > 0 {
		return MaintenanceResult{Action: ActionDispatched, Events: n}, nil
	}

	res := MaintenanceResult{Action: ActionCacheWarmed}
	if t.warmer != nil {
		res.Projects = t.warmer.Refresh(ctx)
	}
	return res, nil
}

// Pending returns the number of buffered clicks.
func (t *Tracker) Pending() int {
	return t.buffer.Len()
}

// SetIgnored replaces the classifier's exclusion list.
func (t *Tracker) SetIgnored(entries []string) {
	t.classifier.SetIgnored(entries)
}

// Shutdown waits for queued batches, then delivers whatever is left in the
// buffer on the calling goroutine. If ctx expires first, in-flight deliveries
// are cancelled.
func (t *Tracker) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.pool.Drain()
		close(done)
	}()
	select {
	case <-done:
		t.cancel()
	case <-ctx.Done():
		t.cancel()
		return ctx.Err()
	}

	events := t.buffer.Drain()
	if len(events) == 0 {
		return nil
	}
	metrics.Flushes.WithLabelValues(string(TriggerShutdown)).Inc()
	t.pipeline.Deliver(ctx, Batch{ID: uuid.NewString(), Reason: ReasonShutdown, Trigger: TriggerShutdown, Events: events})
	return nil
}

func (t *Tracker) dispatch(b Batch) error {
	b.ID = uuid.NewString()
	if !t.pool.Submit(b) {
		t.buffer.Requeue(b.Events)
		metrics.DeliveryRejected.Inc()
		logging.Warn().Str("reason", b.Reason).Int("events", len(b.Events)).Msg("delivery queue full, events kept in buffer")
		return ErrQueueFull
	}
	metrics.Flushes.WithLabelValues(string(b.Trigger)).Inc()
	logging.Info().Str("batch_id", b.ID).Str("reason", b.Reason).Int("events", len(b.Events)).Msg("batch handed to delivery")
	return nil
}
