package analysis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashen-peak/logtide/internal/metrics"
	"github.com/ashen-peak/logtide/internal/models"
)

// Summarizer produces a natural-language summary for a prompt. It may fail
// or time out; callers must treat it as best-effort.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// DeepAnalyzer enriches flagged entries with a short summary. Every failure
// mode degrades to a templated summary; it never returns an error and never
// blocks past its timeout.
type DeepAnalyzer struct {
	summarizer Summarizer
	timeout    time.Duration
	limiter    *rate.Limiter
	maxLen     int
	logger     *log.Logger
}

// DeepOptions configures a DeepAnalyzer.
type DeepOptions struct {
	// Timeout bounds a single enrichment call. Default 10s.
	Timeout time.Duration
	// RatePerMinute caps enrichment calls; excess entries get the
	// templated summary. Default 30.
	RatePerMinute int
	// MaxSummaryLen truncates model output. Default 500.
	MaxSummaryLen int
	Logger        *log.Logger
}

func (o *DeepOptions) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RatePerMinute <= 0 {
		o.RatePerMinute = 30
	}
	if o.MaxSummaryLen <= 0 {
		o.MaxSummaryLen = 500
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// NewDeepAnalyzer creates a deep analyzer over the given summarizer. A nil
// summarizer disables enrichment; every entry gets the templated summary.
func NewDeepAnalyzer(summarizer Summarizer, opts DeepOptions) *DeepAnalyzer {
	opts.setDefaults()
	return &DeepAnalyzer{
		summarizer: summarizer,
		timeout:    opts.Timeout,
		limiter:    rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60.0), opts.RatePerMinute),
		maxLen:     opts.MaxSummaryLen,
		logger:     opts.Logger,
	}
}

// Summarize returns a summary for the entry. The result is always usable:
// on any failure, timeout, or rate exhaustion it is the templated fallback.
func (d *DeepAnalyzer) Summarize(ctx context.Context, entry *models.LogEntry) string {
	if d.summarizer == nil {
		return d.fallback(entry)
	}
	if !d.limiter.Allow() {
		return d.fallback(entry)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	summary, err := d.summarizer.Summarize(callCtx, buildPrompt(entry))
	if err != nil {
		d.logger.Printf("analysis: enrichment failed for entry %s, using fallback: %v", entry.ID, err)
		return d.fallback(entry)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return d.fallback(entry)
	}
	if len(summary) > d.maxLen {
		summary = summary[:d.maxLen]
	}
	return summary
}

func (d *DeepAnalyzer) fallback(entry *models.LogEntry) string {
	metrics.EnrichmentFallbacksTotal.Inc()
	return FallbackSummary(entry)
}

// FallbackSummary builds the templated summary used when enrichment is
// unavailable.
func FallbackSummary(entry *models.LogEntry) string {
	source := entry.Source
	if source == "" {
		source = "unknown source"
	}
	return fmt.Sprintf("%s event from %s", entry.Level, source)
}

func buildPrompt(entry *models.LogEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Level: %s\n", entry.Level)
	if entry.Source != "" {
		fmt.Fprintf(&sb, "Source: %s\n", entry.Source)
	}
	fmt.Fprintf(&sb, "Timestamp: %s\n", entry.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Message: %s\n", entry.Message)
	for k, v := range entry.Metadata {
		fmt.Fprintf(&sb, "%s: %s\n", k, v)
	}
	return sb.String()
}
