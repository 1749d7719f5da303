package processing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
	"github.com/acme/lead-pipeline-scheduler/internal/queue"
	"github.com/acme/lead-pipeline-scheduler/internal/repository"
	"github.com/acme/lead-pipeline-scheduler/internal/transport"
	"github.com/acme/lead-pipeline-scheduler/pkg/logger"
)

type fakeLeadRepo struct {
	leads map[uuid.UUID]*domain.Lead
}

func newFakeLeadRepo() *fakeLeadRepo {
	return &fakeLeadRepo{leads: make(map[uuid.UUID]*domain.Lead)}
}

func (f *fakeLeadRepo) Get(_ context.Context, id uuid.UUID) (*domain.Lead, error) {
	lead, ok := f.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *lead
	return &copied, nil
}

func (f *fakeLeadRepo) ListEligible(context.Context, []domain.LeadState, int) ([]*domain.Lead, error) {
	return nil, nil
}

func (f *fakeLeadRepo) SetState(_ context.Context, id uuid.UUID, expected, next domain.LeadState) error {
	lead, ok := f.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	if lead.State != expected {
		return repository.ErrConflict
	}
	lead.State = next
	return nil
}

func (f *fakeLeadRepo) IncrementRetry(_ context.Context, id uuid.UUID) (int, error) {
	lead, ok := f.leads[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	lead.RetryCount++
	return lead.RetryCount, nil
}

type fakeQueueRepo struct {
	entries map[uuid.UUID]*domain.QueueEntry
	order   []uuid.UUID
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{entries: make(map[uuid.UUID]*domain.QueueEntry)}
}

func (f *fakeQueueRepo) add(e *domain.QueueEntry) {
	f.entries[e.ID] = e
	f.order = append(f.order, e.ID)
}

func (f *fakeQueueRepo) CreateEntries(_ context.Context, entries []*domain.QueueEntry) (int, error) {
	for _, e := range entries {
		copied := *e
		f.add(&copied)
	}
	return len(entries), nil
}

func (f *fakeQueueRepo) CountForDate(_ context.Context, date domain.Date) (int, error) {
	count := 0
	for _, e := range f.entries {
		if e.ScheduledFor == date {
			count++
		}
	}
	return count, nil
}

func (f *fakeQueueRepo) CountProcessedOn(_ context.Context, date domain.Date) (int, error) {
	count := 0
	for _, e := range f.entries {
		if e.ScheduledFor == date && e.State.Terminal() {
			count++
		}
	}
	return count, nil
}

func (f *fakeQueueRepo) CountInFlightOn(_ context.Context, date domain.Date) (int, error) {
	count := 0
	for _, e := range f.entries {
		if e.ScheduledFor == date && e.State == domain.QueueStateSending {
			count++
		}
	}
	return count, nil
}

func (f *fakeQueueRepo) CountByState(_ context.Context, state domain.QueueState) (int, error) {
	count := 0
	for _, e := range f.entries {
		if e.State == state {
			count++
		}
	}
	return count, nil
}

func (f *fakeQueueRepo) ListDue(_ context.Context, until domain.Date, limit int) ([]*domain.QueueEntry, error) {
	var due []*domain.QueueEntry
	for _, id := range f.order {
		e := f.entries[id]
		if e.State == domain.QueueStateQueued && !e.ScheduledFor.After(until) {
			copied := *e
			due = append(due, &copied)
		}
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (f *fakeQueueRepo) Transition(_ context.Context, id uuid.UUID, expected, next domain.QueueState) error {
	e, ok := f.entries[id]
	if !ok {
		return repository.ErrNotFound
	}
	if e.State != expected {
		return repository.ErrConflict
	}
	e.State = next
	return nil
}

func (f *fakeQueueRepo) IncrementAttempts(_ context.Context, id uuid.UUID) (int, error) {
	e, ok := f.entries[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	e.Attempts++
	return e.Attempts, nil
}

func (f *fakeQueueRepo) ActiveByLeads(context.Context, []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeQueueRepo) RemoveByLeads(context.Context, []uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeQueueRepo) RescheduleByLeads(context.Context, []uuid.UUID, domain.Date) (int, error) {
	return 0, nil
}

func (f *fakeQueueRepo) RequeueStale(_ context.Context, before time.Time) (int, error) {
	requeued := 0
	for _, e := range f.entries {
		if e.State == domain.QueueStateSending && e.UpdatedAt.Before(before) {
			e.State = domain.QueueStateQueued
			requeued++
		}
	}
	return requeued, nil
}

func (f *fakeQueueRepo) MaxPositionForDate(context.Context, domain.Date) (int, error) {
	return 0, nil
}

type fakeDeliveryLog struct {
	attempts []domain.DeliveryAttempt
}

func (f *fakeDeliveryLog) AppendAttempt(_ context.Context, attempt domain.DeliveryAttempt) error {
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeDeliveryLog) ListByLead(_ context.Context, leadID uuid.UUID, limit int) ([]domain.DeliveryAttempt, error) {
	var result []domain.DeliveryAttempt
	for _, a := range f.attempts {
		if a.LeadID == leadID {
			result = append(result, a)
		}
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

type staticSettings struct {
	settings domain.Settings
}

func (s staticSettings) Get(context.Context, string) (domain.Settings, error) {
	return s.settings, nil
}

type capturePublisher struct {
	transitions []queue.TransitionMessage
	deadLetters []queue.DeadLetterMessage
}

func (p *capturePublisher) PublishTransition(_ context.Context, msg queue.TransitionMessage) error {
	p.transitions = append(p.transitions, msg)
	return nil
}

func (p *capturePublisher) PublishDeadLetter(_ context.Context, msg queue.DeadLetterMessage) error {
	p.deadLetters = append(p.deadLetters, msg)
	return nil
}

// scriptedProvider returns its results in order, repeating the last one.
type scriptedProvider struct {
	results []transport.Result
	calls   int
}

func (p *scriptedProvider) Send(context.Context, transport.Message) (transport.Result, error) {
	i := p.calls
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	p.calls++
	return p.results[i], nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return lg
}

func testSettings() domain.Settings {
	s := domain.DefaultSettings()
	s.Targets.DailyTarget = 5
	s.Targets.MaxDailyCapacity = 10
	s.Advanced.ProcessingDelay = 0
	return s
}

// Monday Jan 8 2024, 10:00 UTC, inside the default 09:00-17:00 window.
var mondayMorning = time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)

var mondayDate = domain.Date{Year: 2024, Month: time.January, Day: 8}

type harness struct {
	leads   *fakeLeadRepo
	entries *fakeQueueRepo
	log     *fakeDeliveryLog
	pub     *capturePublisher
	driver  *Driver
}

func newHarness(t *testing.T, s domain.Settings, provider transport.Provider) *harness {
	t.Helper()
	h := &harness{
		leads:   newFakeLeadRepo(),
		entries: newFakeQueueRepo(),
		log:     &fakeDeliveryLog{},
		pub:     &capturePublisher{},
	}
	h.driver = NewDriver(h.leads, h.entries, h.log, staticSettings{settings: s},
		provider, h.pub, h.pub, 0, testLogger(t))
	return h
}

func (h *harness) queueLead(attempts int) (*domain.Lead, *domain.QueueEntry) {
	lead := &domain.Lead{
		ID:    uuid.New(),
		Stage: domain.LeadStageContacted,
		State: domain.LeadStateQueued,
		Class: domain.LeadClassWarm,
	}
	h.leads.leads[lead.ID] = lead
	entry := &domain.QueueEntry{
		ID:           uuid.New(),
		LeadID:       lead.ID,
		ScheduledFor: mondayDate,
		State:        domain.QueueStateQueued,
		Attempts:     attempts,
	}
	h.entries.add(entry)
	return lead, entry
}

func TestStartBatchDeliversEntries(t *testing.T) {
	provider := &scriptedProvider{results: []transport.Result{
		{Delivered: true, Duration: 150 * time.Millisecond},
	}}
	h := newHarness(t, testSettings(), provider)
	lead, entry := h.queueLead(0)

	result, err := h.driver.StartBatch(context.Background(), "user-1", mondayMorning, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded != 1 || result.Attempted != 1 {
		t.Fatalf("result = %+v, want 1 attempted, 1 succeeded", result)
	}
	if h.entries.entries[entry.ID].State != domain.QueueStateSent {
		t.Fatalf("entry state = %s, want sent", h.entries.entries[entry.ID].State)
	}
	if h.leads.leads[lead.ID].State != domain.LeadStateProcessed {
		t.Fatalf("lead state = %s, want processed", h.leads.leads[lead.ID].State)
	}
	if len(h.log.attempts) != 1 || h.log.attempts[0].State != domain.QueueStateSent {
		t.Fatalf("delivery log = %+v, want one sent attempt", h.log.attempts)
	}
	// queued->sending and sending->sent
	if len(h.pub.transitions) != 2 {
		t.Fatalf("published %d transitions, want 2", len(h.pub.transitions))
	}
	if h.pub.transitions[1].To != domain.QueueStateSent {
		t.Fatalf("final transition to %s, want sent", h.pub.transitions[1].To)
	}
}

func TestStartBatchRequeuesRetryableFailure(t *testing.T) {
	provider := &scriptedProvider{results: []transport.Result{
		{Delivered: false, Retryable: true, Error: "provider timeout", Duration: 50 * time.Millisecond},
	}}
	h := newHarness(t, testSettings(), provider)
	lead, entry := h.queueLead(0)

	result, err := h.driver.StartBatch(context.Background(), "user-1", mondayMorning, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Requeued != 1 {
		t.Fatalf("requeued = %d, want 1", result.Requeued)
	}
	if got := h.entries.entries[entry.ID].State; got != domain.QueueStateQueued {
		t.Fatalf("entry state = %s, want queued", got)
	}
	if got := h.leads.leads[lead.ID]; got.State != domain.LeadStateQueued || got.RetryCount != 1 {
		t.Fatalf("lead state = %s retries = %d, want queued with 1 retry", got.State, got.RetryCount)
	}
	if len(h.pub.deadLetters) != 0 {
		t.Fatal("retryable failure must not dead letter")
	}
}

func TestStartBatchDeadLettersAfterMaxRetries(t *testing.T) {
	provider := &scriptedProvider{results: []transport.Result{
		{Delivered: false, Retryable: true, Error: "provider timeout"},
	}}
	h := newHarness(t, testSettings(), provider)
	// three attempts already burned; the next failure is the fourth
	lead, entry := h.queueLead(3)

	result, err := h.driver.StartBatch(context.Background(), "user-1", mondayMorning, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DeadLettered != 1 {
		t.Fatalf("dead lettered = %d, want 1", result.DeadLettered)
	}
	if got := h.entries.entries[entry.ID].State; got != domain.QueueStateDeadLettered {
		t.Fatalf("entry state = %s, want dead_lettered", got)
	}
	if got := h.leads.leads[lead.ID].State; got != domain.LeadStateDeadLettered {
		t.Fatalf("lead state = %s, want dead_lettered", got)
	}
	if len(h.pub.deadLetters) != 1 || h.pub.deadLetters[0].Attempts != 4 {
		t.Fatalf("dead letters = %+v, want one with 4 attempts", h.pub.deadLetters)
	}
}

func TestStartBatchDeadLettersNonRetryable(t *testing.T) {
	provider := &scriptedProvider{results: []transport.Result{
		{Delivered: false, Retryable: false, Error: "invalid destination"},
	}}
	h := newHarness(t, testSettings(), provider)
	_, entry := h.queueLead(0)

	result, err := h.driver.StartBatch(context.Background(), "user-1", mondayMorning, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DeadLettered != 1 {
		t.Fatalf("dead lettered = %d, want 1", result.DeadLettered)
	}
	if got := h.entries.entries[entry.ID].State; got != domain.QueueStateDeadLettered {
		t.Fatalf("entry state = %s, want dead_lettered", got)
	}
}

func TestStartBatchSkipsOutsideCalendar(t *testing.T) {
	provider := &scriptedProvider{results: []transport.Result{{Delivered: true}}}
	h := newHarness(t, testSettings(), provider)
	h.queueLead(0)

	saturday := time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC)
	result, err := h.driver.StartBatch(context.Background(), "user-1", saturday, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Skipped || result.Attempted != 0 {
		t.Fatalf("result = %+v, want skipped batch", result)
	}
	if provider.calls != 0 {
		t.Fatal("provider must not be called outside the calendar")
	}
}

func TestStartBatchForceBypassesCalendarNotCapacity(t *testing.T) {
	provider := &scriptedProvider{results: []transport.Result{{Delivered: true}}}
	s := testSettings()
	s.Targets.DailyTarget = 1
	h := newHarness(t, testSettings(), provider)
	h.driver = NewDriver(h.leads, h.entries, h.log, staticSettings{settings: s},
		provider, h.pub, h.pub, 0, testLogger(t))
	h.queueLead(0)
	h.queueLead(0)

	saturday := time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC)
	// a Saturday entry so the forced run has due work
	for _, e := range h.entries.entries {
		e.ScheduledFor = domain.Date{Year: 2024, Month: time.January, Day: 6}
	}

	result, err := h.driver.StartBatch(context.Background(), "user-1", saturday, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped {
		t.Fatalf("forced run skipped: %s", result.Message)
	}
	if result.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want capacity-bound 1", result.Succeeded)
	}
}

func TestStartBatchStopsAtDailyCapacity(t *testing.T) {
	provider := &scriptedProvider{results: []transport.Result{{Delivered: true}}}
	s := testSettings()
	s.Targets.DailyTarget = 2
	h := newHarness(t, s, provider)
	h.driver = NewDriver(h.leads, h.entries, h.log, staticSettings{settings: s},
		provider, h.pub, h.pub, 0, testLogger(t))
	// two already processed today
	for i := 0; i < 2; i++ {
		_, entry := h.queueLead(1)
		h.entries.entries[entry.ID].State = domain.QueueStateSent
	}
	h.queueLead(0)

	result, err := h.driver.StartBatch(context.Background(), "user-1", mondayMorning, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("result = %+v, want skip at capacity", result)
	}
	if provider.calls != 0 {
		t.Fatal("provider must not be called at capacity")
	}
}

func TestStartBatchCountsInFlightAgainstCapacity(t *testing.T) {
	provider := &scriptedProvider{results: []transport.Result{{Delivered: true}}}
	s := testSettings()
	s.Targets.DailyTarget = 2
	h := newHarness(t, s, provider)
	// one claim still in flight from an overlapping batch
	_, inFlight := h.queueLead(1)
	h.entries.entries[inFlight.ID].State = domain.QueueStateSending
	h.entries.entries[inFlight.ID].UpdatedAt = mondayMorning
	h.queueLead(0)
	h.queueLead(0)

	result, err := h.driver.StartBatch(context.Background(), "user-1", mondayMorning, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded != 1 || provider.calls != 1 {
		t.Fatalf("result = %+v, provider calls = %d, want exactly one delivery", result, provider.calls)
	}
	if h.entries.entries[inFlight.ID].State != domain.QueueStateSending {
		t.Fatalf("in-flight entry state = %s, want sending untouched", h.entries.entries[inFlight.ID].State)
	}
}

func TestStartBatchRecoversStaleClaims(t *testing.T) {
	provider := &scriptedProvider{results: []transport.Result{{Delivered: true}}}
	h := newHarness(t, testSettings(), provider)
	_, stale := h.queueLead(1)
	h.entries.entries[stale.ID].State = domain.QueueStateSending
	h.entries.entries[stale.ID].UpdatedAt = mondayMorning.Add(-time.Hour)

	result, err := h.driver.StartBatch(context.Background(), "user-1", mondayMorning, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("result = %+v, want the orphaned claim requeued and delivered", result)
	}
	if h.entries.entries[stale.ID].State != domain.QueueStateSent {
		t.Fatalf("entry state = %s, want sent", h.entries.entries[stale.ID].State)
	}
}

func TestCanProcessNow(t *testing.T) {
	s := testSettings()
	h := newHarness(t, s, &scriptedProvider{results: []transport.Result{{}}})

	cases := []struct {
		name    string
		now     time.Time
		force   bool
		allowed bool
	}{
		{"weekday within hours", mondayMorning, false, true},
		{"weekday before hours", time.Date(2024, 1, 8, 7, 0, 0, 0, time.UTC), false, false},
		{"weekend", time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC), false, false},
		{"weekend forced", time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC), true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			avail, err := h.driver.CanProcessNow(context.Background(), "user-1", tc.now, tc.force)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if avail.Allowed != tc.allowed {
				t.Fatalf("allowed = %v (%s), want %v", avail.Allowed, avail.Reason, tc.allowed)
			}
		})
	}
}
