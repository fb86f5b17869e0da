package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/rokeefe/inkwire/internal/email"
	"github.com/rokeefe/inkwire/internal/issues"
	"github.com/rokeefe/inkwire/internal/logging"
	"github.com/rokeefe/inkwire/internal/metrics"
	"github.com/rokeefe/inkwire/internal/outbox"
	"github.com/rokeefe/inkwire/internal/tracing"
)

// Claim is one locked delivery task and its resolution handles. Exactly one
// of Complete or Defer resolves it; Release returns it unresolved.
type Claim interface {
	Task() outbox.DeliveryTask
	Complete(ctx context.Context) error
	Defer(ctx context.Context, delay time.Duration) error
	Release(ctx context.Context)
}

// TaskSource hands out claimed tasks. A nil Claim with a nil error means
// the queue has nothing due.
type TaskSource interface {
	ClaimNext(ctx context.Context) (Claim, error)
}

// RepoSource adapts the outbox repository to TaskSource.
type RepoSource struct {
	Repo *outbox.Repo
}

func (s RepoSource) ClaimNext(ctx context.Context) (Claim, error) {
	claimed, err := s.Repo.ClaimNext(ctx)
	if err != nil || claimed == nil {
		return nil, err
	}
	return claimed, nil
}

type issueGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*issues.Issue, error)
}

// TopicPublisher is the slice of an NSQ producer the worker needs for
// dead-letter publication.
type TopicPublisher interface {
	Publish(topic string, body []byte) error
}

// Options tunes the delivery loop. Zero values are replaced by defaults
// matching the env-config defaults.
type Options struct {
	MaxAttempts  int
	Backoff      []time.Duration
	JitterPct    float64
	IdleInterval time.Duration
	SendTimeout  time.Duration
}

func (o *Options) fillDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if len(o.Backoff) == 0 {
		o.Backoff = []time.Duration{
			time.Second,
			4 * time.Second,
			16 * time.Second,
			time.Minute,
			4 * time.Minute,
			10 * time.Minute,
		}
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 15 * time.Second
	}
}

// Worker drains the delivery queue: claim one task, render and send the
// issue, resolve the claim according to the outcome.
type Worker struct {
	source    TaskSource
	issues    issueGetter
	sender    email.Sender
	opts      Options
	dlq       TopicPublisher // nil disables topic publication
	dlqTopic  string
	logger    *logging.Logger
	issueByID map[uuid.UUID]*issues.Issue // per-worker render cache
}

func NewWorker(source TaskSource, issueStore issueGetter, sender email.Sender, opts Options, logger *logging.Logger) *Worker {
	opts.fillDefaults()
	return &Worker{
		source:    source,
		issues:    issueStore,
		sender:    sender,
		opts:      opts,
		logger:    logger,
		issueByID: make(map[uuid.UUID]*issues.Issue),
	}
}

// WithDeadLetterTopic enables dead-letter publication for abandoned tasks.
func (w *Worker) WithDeadLetterTopic(pub TopicPublisher, topic string) *Worker {
	w.dlq = pub
	w.dlqTopic = topic
	return w
}

// Run polls the queue until ctx is cancelled. Claim errors are logged and
// absorbed with an idle backoff so a storage blip does not kill the worker.
func (w *Worker) Run(ctx context.Context) error {
	for {
		worked, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			w.logger.WithContext(ctx).WithError(err).Error("delivery attempt failed")
		}
		if worked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.opts.IdleInterval):
		}
	}
}

// RunOnce claims and processes at most one task. It reports whether a task
// was claimed. An unresolved claim is always released, so a crash mid-send
// or an unexpected error leaves the task claimable by another worker.
func (w *Worker) RunOnce(ctx context.Context) (worked bool, err error) {
	claim, err := w.source.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	if claim == nil {
		return false, nil
	}
	defer claim.Release(context.WithoutCancel(ctx))

	t := claim.Task()
	ctx, span := tracing.StartSpan(ctx, "worker.delivery",
		attribute.Int64("task_id", t.TaskID),
		attribute.String("issue_id", t.IssueID.String()),
		attribute.String("recipient", t.RecipientEmail),
		attribute.Int("attempt", t.AttemptCount),
	)
	defer span.End()

	issue, err := w.issue(ctx, t.IssueID)
	if errors.Is(err, issues.ErrNotFound) {
		// The issue row is gone; there is nothing to send. Drop the task
		// rather than retrying forever.
		tracing.AddSpanEvent(ctx, "delivery.skipped")
		if err := claim.Complete(ctx); err != nil {
			return true, err
		}
		metrics.RecordDelivery("skipped", 0)
		w.logger.WithContext(ctx).WithTask(t.TaskID).WithIssue(t.IssueID.String()).Warn("issue missing, task dropped")
		return true, nil
	}
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return true, fmt.Errorf("load issue %s: %w", t.IssueID, err)
	}

	tracing.AddSpanEvent(ctx, "email.send")
	sendCtx, cancel := context.WithTimeout(ctx, w.opts.SendTimeout)
	start := time.Now()
	sendErr := w.sender.Send(sendCtx, t.RecipientEmail, issue.Title, issue.HTMLContent, issue.TextContent)
	latency := time.Since(start)
	cancel()

	span.SetAttributes(attribute.Int64("send.latency_ms", latency.Milliseconds()))

	if sendErr == nil {
		tracing.AddSpanEvent(ctx, "delivery.success")
		if err := claim.Complete(ctx); err != nil {
			return true, err
		}
		metrics.RecordDelivery("delivered", latency)
		w.logger.WithContext(ctx).WithTask(t.TaskID).WithIssue(t.IssueID.String()).WithRecipient(t.RecipientEmail).Info("issue delivered")
		return true, nil
	}

	attempt := t.AttemptCount + 1
	reason := email.FailureReason(sendErr)
	span.SetAttributes(attribute.String("failure_reason", reason))
	tracing.SetSpanError(ctx, sendErr)

	if email.IsPermanent(sendErr) || attempt >= w.opts.MaxAttempts {
		tracing.AddSpanEvent(ctx, "delivery.dead_letter", attribute.Int("attempt", attempt))
		if !email.IsPermanent(sendErr) {
			reason = "max_attempts"
		}
		w.publishDeadLetter(ctx, t, attempt, sendErr, reason)
		if err := claim.Complete(ctx); err != nil {
			return true, err
		}
		metrics.RecordDeadLettered()
		w.logger.WithContext(ctx).WithTask(t.TaskID).WithRecipient(t.RecipientEmail).WithError(sendErr).WithFields(map[string]any{
			"attempt": attempt,
			"reason":  reason,
		}).Error("delivery abandoned")
		return true, nil
	}

	delay := computeDelay(attempt, w.opts.Backoff, w.opts.JitterPct)
	tracing.AddSpanEvent(ctx, "delivery.requeue",
		attribute.Int("attempt", attempt),
		attribute.String("delay", delay.String()),
	)
	if err := claim.Defer(ctx, delay); err != nil {
		return true, err
	}
	metrics.RecordRetry(reason)
	w.logger.WithContext(ctx).WithTask(t.TaskID).WithRecipient(t.RecipientEmail).WithFields(map[string]any{
		"attempt": attempt,
		"delay":   delay.String(),
		"reason":  reason,
	}).Info("delivery requeued")
	return true, nil
}

// issue loads an issue once per worker; the content is immutable after
// publication, so the cache never invalidates.
func (w *Worker) issue(ctx context.Context, id uuid.UUID) (*issues.Issue, error) {
	if iss, ok := w.issueByID[id]; ok {
		return iss, nil
	}
	iss, err := w.issues.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	w.issueByID[id] = iss
	return iss, nil
}

func (w *Worker) publishDeadLetter(ctx context.Context, t outbox.DeliveryTask, attempt int, sendErr error, reason string) {
	status := 0
	var se *email.SendError
	if errors.As(sendErr, &se) {
		status = se.Status
	}
	env := NewDeadLetter(t, attempt, status, sendErr.Error(), reason)
	env.TraceHeaders = tracing.InjectTraceHeaders(ctx)

	if w.dlq == nil {
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		w.logger.WithContext(ctx).WithTask(t.TaskID).WithError(err).Error("dead letter marshal failed")
		return
	}
	if err := w.dlq.Publish(w.dlqTopic, b); err != nil {
		w.logger.WithContext(ctx).WithTask(t.TaskID).WithError(err).Error("dead letter publish failed")
		tracing.SetSpanError(ctx, err)
		return
	}
	w.logger.WithContext(ctx).WithTask(t.TaskID).WithField("topic", w.dlqTopic).Info("dead letter published")
}

// Pool runs a fixed number of workers over the same queue. Concurrency is
// safe because each claim locks its row for the life of the attempt.
type Pool struct {
	workers []*Worker
}

// NewPool builds n workers sharing a source, store, and sender. Each worker
// keeps its own issue cache.
func NewPool(n int, build func(i int) *Worker) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{workers: make([]*Worker, n)}
	for i := range p.workers {
		p.workers[i] = build(i)
	}
	return p
}

// Run blocks until ctx is cancelled and every worker has drained out.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}
