package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rokeefe/inkwire/internal/email"
	"github.com/rokeefe/inkwire/internal/issues"
	"github.com/rokeefe/inkwire/internal/logging"
	"github.com/rokeefe/inkwire/internal/outbox"
)

type fakeClaim struct {
	task       outbox.DeliveryTask
	completed  bool
	deferred   bool
	released   bool
	deferDelay time.Duration
	resolveErr error
}

func (c *fakeClaim) Task() outbox.DeliveryTask { return c.task }

func (c *fakeClaim) Complete(ctx context.Context) error {
	if c.resolveErr != nil {
		return c.resolveErr
	}
	c.completed = true
	return nil
}

func (c *fakeClaim) Defer(ctx context.Context, delay time.Duration) error {
	if c.resolveErr != nil {
		return c.resolveErr
	}
	c.deferred = true
	c.deferDelay = delay
	return nil
}

func (c *fakeClaim) Release(ctx context.Context) {
	if !c.completed && !c.deferred {
		c.released = true
	}
}

type fakeSource struct {
	claims   []*fakeClaim
	claimErr error
}

func (s *fakeSource) ClaimNext(ctx context.Context) (Claim, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if len(s.claims) == 0 {
		return nil, nil
	}
	c := s.claims[0]
	s.claims = s.claims[1:]
	return c, nil
}

type fakeIssueStore struct {
	issues map[uuid.UUID]*issues.Issue
	gets   int
	err    error
}

func (s *fakeIssueStore) Get(ctx context.Context, id uuid.UUID) (*issues.Issue, error) {
	s.gets++
	if s.err != nil {
		return nil, s.err
	}
	iss, ok := s.issues[id]
	if !ok {
		return nil, issues.ErrNotFound
	}
	return iss, nil
}

type sentMail struct {
	recipient, subject, html, text string
}

type fakeSender struct {
	errs []error // consumed per call; nil past the end
	sent []sentMail
}

func (s *fakeSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	s.sent = append(s.sent, sentMail{recipient, subject, htmlBody, textBody})
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

type fakePublisher struct {
	topics  []string
	letters []DeadLetter
	err     error
}

func (p *fakePublisher) Publish(topic string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	var dl DeadLetter
	if err := json.Unmarshal(body, &dl); err != nil {
		return err
	}
	p.topics = append(p.topics, topic)
	p.letters = append(p.letters, dl)
	return nil
}

type workerFixture struct {
	source *fakeSource
	store  *fakeIssueStore
	sender *fakeSender
	dlq    *fakePublisher
	worker *Worker
	issue  *issues.Issue
}

func newWorkerFixture(opts Options) *workerFixture {
	issueID := uuid.New()
	f := &workerFixture{
		source: &fakeSource{},
		store: &fakeIssueStore{issues: map[uuid.UUID]*issues.Issue{
			issueID: {
				ID:          issueID,
				Title:       "Issue #1",
				TextContent: "hello",
				HTMLContent: "<p>hello</p>",
			},
		}},
		sender: &fakeSender{},
		dlq:    &fakePublisher{},
	}
	f.issue = f.store.issues[issueID]
	f.worker = NewWorker(f.source, f.store, f.sender, opts, logging.New("test")).
		WithDeadLetterTopic(f.dlq, "deliveries_dlq")
	return f
}

func (f *workerFixture) enqueue(attempts int) *fakeClaim {
	c := &fakeClaim{task: outbox.DeliveryTask{
		TaskID:         int64(len(f.source.claims) + 1),
		IssueID:        f.issue.ID,
		RecipientEmail: "reader@x.test",
		AttemptCount:   attempts,
	}}
	f.source.claims = append(f.source.claims, c)
	return c
}

func transientErr(status int) error {
	return &email.SendError{Kind: email.KindTransient, Status: status, Reason: "unavailable"}
}

func permanentErr(status int) error {
	return &email.SendError{Kind: email.KindPermanent, Status: status, Reason: "rejected"}
}

func TestRunOnceDelivers(t *testing.T) {
	f := newWorkerFixture(Options{})
	claim := f.enqueue(0)

	worked, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !worked {
		t.Fatal("worked = false, want true")
	}
	if !claim.completed || claim.deferred || claim.released {
		t.Errorf("claim state = %+v, want completed only", claim)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(f.sender.sent))
	}
	mail := f.sender.sent[0]
	if mail.recipient != "reader@x.test" || mail.subject != "Issue #1" || mail.html != "<p>hello</p>" || mail.text != "hello" {
		t.Errorf("sent = %+v, want issue content", mail)
	}
}

func TestRunOnceIdleQueue(t *testing.T) {
	f := newWorkerFixture(Options{})
	worked, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if worked {
		t.Error("worked = true on empty queue")
	}
}

func TestRunOnceTransientFailureDefers(t *testing.T) {
	f := newWorkerFixture(Options{
		Backoff:   []time.Duration{time.Second, 4 * time.Second},
		JitterPct: 0,
	})
	f.sender.errs = []error{transientErr(503)}
	claim := f.enqueue(0)

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !claim.deferred || claim.completed {
		t.Fatalf("claim state = %+v, want deferred", claim)
	}
	// First failure maps to the first schedule slot.
	if claim.deferDelay != time.Second {
		t.Errorf("defer delay = %v, want 1s", claim.deferDelay)
	}
	if len(f.dlq.letters) != 0 {
		t.Errorf("dead letters = %d, want 0", len(f.dlq.letters))
	}
}

func TestRunOnceBackoffGrowsWithAttempts(t *testing.T) {
	f := newWorkerFixture(Options{
		Backoff:   []time.Duration{time.Second, 4 * time.Second, 16 * time.Second},
		JitterPct: 0,
	})
	f.sender.errs = []error{transientErr(500)}
	claim := f.enqueue(2) // third attempt

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if claim.deferDelay != 16*time.Second {
		t.Errorf("defer delay = %v, want 16s", claim.deferDelay)
	}
}

func TestRunOnceUntaggedErrorIsTransient(t *testing.T) {
	f := newWorkerFixture(Options{JitterPct: 0})
	f.sender.errs = []error{errors.New("unexpected provider wobble")}
	claim := f.enqueue(0)

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !claim.deferred {
		t.Errorf("claim state = %+v, want deferred (untagged errors retry)", claim)
	}
	if len(f.dlq.letters) != 0 {
		t.Error("untagged error was dead-lettered")
	}
}

func TestRunOncePermanentFailureDeadLetters(t *testing.T) {
	f := newWorkerFixture(Options{})
	f.sender.errs = []error{permanentErr(422)}
	claim := f.enqueue(0)

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// Abandoned tasks are removed, not requeued.
	if !claim.completed || claim.deferred {
		t.Fatalf("claim state = %+v, want completed", claim)
	}
	if len(f.dlq.letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(f.dlq.letters))
	}
	dl := f.dlq.letters[0]
	if f.dlq.topics[0] != "deliveries_dlq" {
		t.Errorf("topic = %q", f.dlq.topics[0])
	}
	if dl.Type != DLQType || dl.Version != "v1" {
		t.Errorf("envelope header = %q/%q", dl.Type, dl.Version)
	}
	if dl.Reason != "provider_4xx" || dl.HTTPStatus != 422 || dl.Attempt != 1 {
		t.Errorf("envelope = %+v", dl)
	}
	if dl.Task.RecipientEmail != "reader@x.test" {
		t.Errorf("task snapshot recipient = %q", dl.Task.RecipientEmail)
	}
}

func TestRunOnceAttemptCeilingEscalates(t *testing.T) {
	f := newWorkerFixture(Options{MaxAttempts: 3})
	f.sender.errs = []error{transientErr(503)}
	claim := f.enqueue(2) // this is attempt 3 of 3

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !claim.completed || claim.deferred {
		t.Fatalf("claim state = %+v, want completed (ceiling)", claim)
	}
	if len(f.dlq.letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(f.dlq.letters))
	}
	if f.dlq.letters[0].Reason != "max_attempts" {
		t.Errorf("reason = %q, want max_attempts", f.dlq.letters[0].Reason)
	}
}

func TestRunOnceBelowCeilingStillRetries(t *testing.T) {
	f := newWorkerFixture(Options{MaxAttempts: 3, JitterPct: 0})
	f.sender.errs = []error{transientErr(503)}
	claim := f.enqueue(1) // attempt 2 of 3

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !claim.deferred {
		t.Errorf("claim state = %+v, want deferred", claim)
	}
}

func TestRunOnceMissingIssueDropsTask(t *testing.T) {
	f := newWorkerFixture(Options{})
	claim := f.enqueue(0)
	claim.task.IssueID = uuid.New() // unknown issue

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !claim.completed {
		t.Errorf("claim state = %+v, want completed (dropped)", claim)
	}
	if len(f.sender.sent) != 0 {
		t.Error("send attempted for a missing issue")
	}
}

func TestRunOnceStorageFailureReleasesClaim(t *testing.T) {
	f := newWorkerFixture(Options{})
	f.store.err = errors.New("storage gone")
	claim := f.enqueue(0)

	_, err := f.worker.RunOnce(context.Background())
	if err == nil {
		t.Fatal("RunOnce succeeded, want error")
	}
	if !claim.released || claim.completed || claim.deferred {
		t.Errorf("claim state = %+v, want released", claim)
	}
}

func TestRunOnceResolveFailureSurfacesAndReleases(t *testing.T) {
	f := newWorkerFixture(Options{})
	claim := f.enqueue(0)
	claim.resolveErr = errors.New("commit failed")

	_, err := f.worker.RunOnce(context.Background())
	if err == nil {
		t.Fatal("RunOnce succeeded, want error")
	}
	if !claim.released {
		t.Errorf("claim state = %+v, want released after failed resolve", claim)
	}
}

func TestRunOnceIssueCachedAcrossTasks(t *testing.T) {
	f := newWorkerFixture(Options{})
	f.enqueue(0)
	f.enqueue(0)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := f.worker.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
	}
	if f.store.gets != 1 {
		t.Errorf("issue store reads = %d, want 1 (cached)", f.store.gets)
	}
	if len(f.sender.sent) != 2 {
		t.Errorf("sent = %d, want 2", len(f.sender.sent))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newWorkerFixture(Options{IdleInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestPoolRunsAllWorkersAndStops(t *testing.T) {
	source := &fakeSource{}
	store := &fakeIssueStore{issues: map[uuid.UUID]*issues.Issue{}}
	sender := &fakeSender{}

	built := 0
	pool := NewPool(3, func(i int) *Worker {
		built++
		return NewWorker(source, store, sender, Options{IdleInterval: 5 * time.Millisecond}, logging.New("test"))
	})
	if built != 3 {
		t.Fatalf("built %d workers, want 3", built)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Pool.Run = %v, want nil on cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}
