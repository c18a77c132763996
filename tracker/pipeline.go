package tracker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"merlodigital/site/enrich"
	"merlodigital/site/logging"
	"merlodigital/site/mailer"
	"merlodigital/site/metrics"
	"merlodigital/site/models"
)

// Enricher resolves a client address. Implementations degrade instead of
// failing.
type Enricher interface {
	Lookup(ctx context.Context, ip string) enrich.Result
}

// EventStore persists one click.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *models.TrackingEvent) error
}

// Batch is one flushed buffer on its way to delivery.
type Batch struct {
	ID      string
	Reason  string
	Trigger Trigger
	Events  []*models.TrackingEvent
}

// DeliveryReport summarizes what happened to a batch.
type DeliveryReport struct {
	BatchID       string
	Events        int
	Enriched      int
	Persisted     int
	PersistFailed int
	EmailSent     bool
	Requeued      int
	Dropped       int
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Enricher Enricher
	// Store may be nil when no durable store is configured.
	Store  EventStore
	Mailer mailer.Mailer
	From   string
	To     []string
	// EnrichConcurrency caps parallel lookups per batch. Default 4.
	EnrichConcurrency int
	Location          *time.Location
	// RequeueOnFailure puts a batch back in the buffer when its email could
	// not be sent, up to MaxDeliveryAttempts per event.
	RequeueOnFailure    bool
	MaxDeliveryAttempts int
	// PersistTimeout bounds each store write. Default 10s.
	PersistTimeout time.Duration
}

// Pipeline enriches, persists and reports batches.
type Pipeline struct {
	cfg     PipelineConfig
	requeue func([]*models.TrackingEvent)
}

// NewPipeline returns a pipeline for cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.EnrichConcurrency < 1 {
		cfg.EnrichConcurrency = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxDeliveryAttempts < 1 {
		cfg.MaxDeliveryAttempts = 1
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &Pipeline{cfg: cfg}
}

// Deliver processes one batch. Failures are logged and counted; nothing is
// returned to the caller beyond the report.
func (p *Pipeline) Deliver(ctx context.Context, b Batch) DeliveryReport {
	log := logging.WithComponent("delivery").With().Str("batch_id", b.ID).Str("reason", b.Reason).Logger()
	rep := DeliveryReport{BatchID: b.ID, Events: len(b.Events)}
	if len(b.Events) == 0 {
		return rep
	}

	rep.Enriched = p.enrich(ctx, b.Events)
	rep.Persisted, rep.PersistFailed = p.persist(ctx, b.Events)

	err := p.sendReport(ctx, b)
	switch {
	case err == nil:
		rep.EmailSent = true
		metrics.EmailsSent.WithLabelValues("report", "sent").Inc()
	case errors.Is(err, mailer.ErrNotConfigured):
		metrics.EmailsSent.WithLabelValues("report", "skipped").Inc()
		log.Warn().Err(err).Int("events", len(b.Events)).Msg("report email not sent")
	default:
		metrics.EmailsSent.WithLabelValues("report", "failed").Inc()
		log.Error().Err(err).Int("events", len(b.Events)).Msg("report email failed")
		rep.Requeued, rep.Dropped = p.handleFailure(b.Events)
	}

	log.Info().
		Int("events", rep.Events).
		Int("enriched", rep.Enriched).
		Int("persisted", rep.Persisted).
		Int("persist_failed", rep.PersistFailed).
		Bool("email_sent", rep.EmailSent).
		Int("requeued", rep.Requeued).
		Msg("batch delivered")
	return rep
}

// enrich looks up every event that has not been enriched yet.
func (p *Pipeline) enrich(ctx context.Context, events []*models.TrackingEvent) int {
	var enriched atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EnrichConcurrency)
	for _, ev := range events {
		if ev.Enriched() {
			continue
		}
		g.Go(func() error {
			res := p.cfg.Enricher.Lookup(gctx, ev.IPAddress)
			if ev.Enrich(res.Location, res.Network) {
				enriched.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(enriched.Load())
}

// persist writes events in order. One failure never stops the others, except
// a timed-out write: the store is then treated as unavailable for the rest
// of the batch so the report is not held up.
func (p *Pipeline) persist(ctx context.Context, events []*models.TrackingEvent) (ok, failed int) {
	if p.cfg.Store == nil {
		return 0, 0
	}
	for i, ev := range events {
		if ev.Persisted() {
			continue
		}
		err := p.insert(ctx, ev)
		if err == nil {
			ev.MarkPersisted()
			ok++
			metrics.PersistWrites.WithLabelValues("ok").Inc()
			continue
		}
		failed++
		metrics.PersistWrites.WithLabelValues("failed").Inc()
		logging.Error().Err(err).Str("event_id", ev.EventID).Msg("failed to persist tracking event")

		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			skipped := 0
			for _, rest := range events[i+1:] {
				if !rest.Persisted() {
					skipped++
				}
			}
			if skipped > 0 {
				failed += skipped
				metrics.PersistWrites.WithLabelValues("skipped").Add(float64(skipped))
				logging.Warn().Int("events", skipped).Msg("store write timed out, skipping the rest of the batch")
			}
			return ok, failed
		}
	}
	return ok, failed
}

func (p *Pipeline) insert(ctx context.Context, ev *models.TrackingEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PersistTimeout)
	defer cancel()
	return p.cfg.Store.InsertEvent(ctx, ev)
}

func (p *Pipeline) sendReport(ctx context.Context, b Batch) error {
	html, err := RenderReport(b.Reason, b.Events, p.cfg.Location)
	if err != nil {
		return err
	}
	return p.cfg.Mailer.Send(ctx, mailer.Message{
		From:    p.cfg.From,
		To:      p.cfg.To,
		Subject: ReportSubject(len(b.Events), b.Reason),
		HTML:    html,
	})
}

// handleFailure requeues events that still have attempts left and drops the
// rest. Without RequeueOnFailure every event is dropped.
func (p *Pipeline) handleFailure(events []*models.TrackingEvent) (requeued, dropped int) {
	if !p.cfg.RequeueOnFailure || p.requeue == nil {
		metrics.DeliveryDropped.Add(float64(len(events)))
		return 0, len(events)
	}
	keep := make([]*models.TrackingEvent, 0, len(events))
	for _, ev := range events {
		if ev.RecordAttempt() < p.cfg.MaxDeliveryAttempts {
			keep = append(keep, ev)
		}
	}
	dropped = len(events) - len(keep)
	if len(keep) > 0 {
		p.requeue(keep)
		metrics.DeliveryRequeued.Add(float64(len(keep)))
	}
	if dropped > 0 {
		metrics.DeliveryDropped.Add(float64(dropped))
	}
	return len(keep), dropped
}
