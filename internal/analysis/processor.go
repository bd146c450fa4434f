package analysis

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ashen-peak/logtide/internal/alerting"
	"github.com/ashen-peak/logtide/internal/bus"
	"github.com/ashen-peak/logtide/internal/metrics"
	"github.com/ashen-peak/logtide/internal/models"
	"github.com/ashen-peak/logtide/internal/notifier"
	"github.com/ashen-peak/logtide/internal/storage"
)

// Processor drives the analysis pipeline: claim a batch of unanalyzed
// entries, triage them inside the claim transaction, then run deep
// analysis and alerting on the flagged ones.
type Processor struct {
	store  storage.Store
	deep   *DeepAnalyzer
	alerts *alerting.Engine
	bus    bus.Bus
	notify *notifier.Dispatcher
	logger *log.Logger

	batchSize int
	interval  time.Duration
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	// BatchSize bounds entries claimed per cycle. Default 50.
	BatchSize int
	// Interval paces batch cycles. Default 10s.
	Interval time.Duration
	// Notify dispatches raised alerts to external channels. Optional.
	Notify *notifier.Dispatcher
	Logger *log.Logger
}

// NewProcessor creates a batch processor.
func NewProcessor(store storage.Store, deep *DeepAnalyzer, alerts *alerting.Engine, b bus.Bus, opts ProcessorOptions) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Processor{
		store:     store,
		deep:      deep,
		alerts:    alerts,
		bus:       b,
		notify:    opts.Notify,
		logger:    opts.Logger,
		batchSize: opts.BatchSize,
		interval:  opts.Interval,
	}
}

// Run cycles until the context is cancelled. An in-flight batch finishes
// before shutdown completes.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.RunOnce(ctx, 0); err != nil && ctx.Err() == nil {
				p.logger.Printf("analysis: batch cycle failed: %v", err)
			}
		}
	}
}

// RunOnce processes a single batch and returns how many entries were
// claimed. A non-positive limit uses the configured batch size. Triage
// verdicts and the analyzed flag commit atomically with the claim;
// enrichment and alerting run afterwards and cannot undo it.
func (p *Processor) RunOnce(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = p.batchSize
	}

	var (
		mu       sync.Mutex
		verdicts = make(map[string]Verdict)
	)

	entries, err := p.store.Logs().ClaimAndAnalyze(ctx, limit, func(batch []*models.LogEntry) {
		mu.Lock()
		defer mu.Unlock()
		for _, entry := range batch {
			v := Triage(entry.Level, entry.Message)
			v.Apply(entry)
			verdicts[entry.ID] = v
		}
	})
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	metrics.EntriesAnalyzedTotal.Add(float64(len(entries)))

	// The claim has committed: the entries are terminally analyzed and no
	// later cycle will revisit them. Cancellation must not cut the tail
	// short or their alerts would be lost; enrichment carries its own
	// timeout and the loop ends once the batch is drained.
	tail := context.WithoutCancel(ctx)

	for _, entry := range entries {
		verdict := verdicts[entry.ID]
		if !verdict.Flagged() {
			continue
		}
		if verdict.IsError {
			metrics.EntriesFlaggedTotal.WithLabelValues("error").Inc()
		}
		if verdict.IsAnomaly {
			metrics.EntriesFlaggedTotal.WithLabelValues("anomaly").Inc()
		}
		p.enrichAndAlert(tail, entry, verdict)
	}
	return len(entries), nil
}

// enrichAndAlert runs the best-effort tail of the pipeline for one flagged
// entry. Failures are logged and skipped; the entry stays analyzed.
func (p *Processor) enrichAndAlert(ctx context.Context, entry *models.LogEntry, verdict Verdict) {
	summary := p.deep.Summarize(ctx, entry)
	entry.AISummary = summary

	if err := p.store.Logs().UpdateSummary(ctx, entry.ID, summary); err != nil {
		p.logger.Printf("analysis: persist summary for %s: %v", entry.ID, err)
	}

	alert, created, err := p.alerts.Process(ctx, entry, verdict.Severity, summary)
	if err != nil {
		p.logger.Printf("analysis: alert for entry %s: %v", entry.ID, err)
		return
	}
	if !created {
		metrics.AlertsTotal.WithLabelValues("suppressed").Inc()
		return
	}
	metrics.AlertsTotal.WithLabelValues("raised").Inc()

	event := models.NewStreamEvent(models.EventAlert, alert.ProjectID, alert)
	if err := p.bus.Publish(ctx, event); err != nil {
		p.logger.Printf("analysis: publish alert %s: %v", alert.ID, err)
	} else {
		metrics.BusEventsTotal.WithLabelValues(string(models.EventAlert)).Inc()
	}

	if p.notify != nil {
		if err := p.notify.Dispatch(ctx, alert); err != nil {
			p.logger.Printf("analysis: notify alert %s: %v", alert.ID, err)
		}
	}
}
