package admission

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
	"github.com/acme/lead-pipeline-scheduler/internal/queue"
	"github.com/acme/lead-pipeline-scheduler/internal/repository"
	"github.com/acme/lead-pipeline-scheduler/pkg/logger"
)

type fakeLeadRepo struct {
	leads map[uuid.UUID]*domain.Lead
	order []uuid.UUID
}

func newFakeLeadRepo() *fakeLeadRepo {
	return &fakeLeadRepo{leads: make(map[uuid.UUID]*domain.Lead)}
}

func (f *fakeLeadRepo) add(lead *domain.Lead) {
	f.leads[lead.ID] = lead
	f.order = append(f.order, lead.ID)
}

func (f *fakeLeadRepo) Get(_ context.Context, id uuid.UUID) (*domain.Lead, error) {
	lead, ok := f.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *lead
	return &copied, nil
}

func (f *fakeLeadRepo) ListEligible(_ context.Context, states []domain.LeadState, limit int) ([]*domain.Lead, error) {
	match := func(s domain.LeadState) bool {
		for _, want := range states {
			if s == want {
				return true
			}
		}
		return false
	}

	var result []*domain.Lead
	for _, id := range f.order {
		lead := f.leads[id]
		if !match(lead.State) {
			continue
		}
		copied := *lead
		result = append(result, &copied)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
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
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{entries: make(map[uuid.UUID]*domain.QueueEntry)}
}

func (f *fakeQueueRepo) CreateEntries(_ context.Context, entries []*domain.QueueEntry) (int, error) {
	for _, e := range entries {
		copied := *e
		f.entries[e.ID] = &copied
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
	for _, e := range f.entries {
		if e.State == domain.QueueStateQueued && !e.ScheduledFor.After(until) {
			copied := *e
			due = append(due, &copied)
		}
	}
	if len(due) > limit {
		due = due[:limit]
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

func (f *fakeQueueRepo) ActiveByLeads(_ context.Context, leadIDs []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	result := make(map[uuid.UUID]uuid.UUID)
	for _, e := range f.entries {
		if e.State.Terminal() {
			continue
		}
		for _, id := range leadIDs {
			if e.LeadID == id {
				result[id] = e.ID
			}
		}
	}
	return result, nil
}

func (f *fakeQueueRepo) RemoveByLeads(_ context.Context, leadIDs []uuid.UUID) (int, error) {
	removed := 0
	for id, e := range f.entries {
		if e.State.Terminal() {
			continue
		}
		for _, leadID := range leadIDs {
			if e.LeadID == leadID {
				delete(f.entries, id)
				removed++
			}
		}
	}
	return removed, nil
}

func (f *fakeQueueRepo) RescheduleByLeads(_ context.Context, leadIDs []uuid.UUID, date domain.Date) (int, error) {
	moved := 0
	for _, e := range f.entries {
		if e.State != domain.QueueStateQueued && e.State != domain.QueueStateFailed {
			continue
		}
		for _, leadID := range leadIDs {
			if e.LeadID == leadID {
				e.ScheduledFor = date
				moved++
			}
		}
	}
	return moved, nil
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

func (f *fakeQueueRepo) MaxPositionForDate(_ context.Context, date domain.Date) (int, error) {
	max := 0
	for _, e := range f.entries {
		if e.ScheduledFor == date && e.QueuePosition > max {
			max = e.QueuePosition
		}
	}
	return max, nil
}

type staticSettings struct {
	settings domain.Settings
}

func (s staticSettings) Get(context.Context, string) (domain.Settings, error) {
	return s.settings, nil
}

type capturePublisher struct {
	messages []queue.TransitionMessage
}

func (p *capturePublisher) PublishTransition(_ context.Context, msg queue.TransitionMessage) error {
	p.messages = append(p.messages, msg)
	return nil
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
	return s
}

// Friday noon UTC; the next business day is Monday Jan 8.
var friday = time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

var monday = domain.Date{Year: 2024, Month: time.January, Day: 8}

func newService(t *testing.T, leads *fakeLeadRepo, entries *fakeQueueRepo, s domain.Settings) (*Service, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	return NewService(leads, entries, staticSettings{settings: s}, pub, testLogger(t)), pub
}

func addPendingLeads(repo *fakeLeadRepo, n int, class domain.LeadClass) []uuid.UUID {
	ids := make([]uuid.UUID, 0, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		id := uuid.New()
		repo.add(&domain.Lead{
			ID:        id,
			Stage:     domain.LeadStageNew,
			State:     domain.LeadStatePending,
			Class:     class,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		ids = append(ids, id)
	}
	return ids
}

func TestPrepareQueueAdmitsUpToQuota(t *testing.T) {
	leads := newFakeLeadRepo()
	entries := newFakeQueueRepo()
	addPendingLeads(leads, 8, domain.LeadClassWarm)
	svc, pub := newService(t, leads, entries, testSettings())

	result, err := svc.PrepareQueue(context.Background(), "user-1", friday, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TargetDate != monday {
		t.Fatalf("target date = %s, want %s", result.TargetDate, monday)
	}
	if result.Admitted != 5 {
		t.Fatalf("admitted = %d, want quota 5", result.Admitted)
	}
	if len(pub.messages) != 5 {
		t.Fatalf("published transitions = %d, want 5", len(pub.messages))
	}

	queued, _ := entries.CountForDate(context.Background(), monday)
	if queued != 5 {
		t.Fatalf("queued entries = %d, want 5", queued)
	}
}

func TestPrepareQueueIdempotent(t *testing.T) {
	leads := newFakeLeadRepo()
	entries := newFakeQueueRepo()
	addPendingLeads(leads, 20, domain.LeadClassWarm)
	svc, _ := newService(t, leads, entries, testSettings())

	first, err := svc.PrepareQueue(context.Background(), "user-1", friday, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.PrepareQueue(context.Background(), "user-1", friday, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if !second.Saturated {
		t.Fatal("second run should report saturation")
	}
	if second.Admitted != 0 {
		t.Fatalf("second run admitted %d, want 0", second.Admitted)
	}

	total, _ := entries.CountForDate(context.Background(), monday)
	if total != first.Quota {
		t.Fatalf("total admitted %d exceeds quota %d", total, first.Quota)
	}
}

func TestPrepareQueueNormalizesRequestedDate(t *testing.T) {
	leads := newFakeLeadRepo()
	entries := newFakeQueueRepo()
	addPendingLeads(leads, 3, domain.LeadClassWarm)
	svc, _ := newService(t, leads, entries, testSettings())

	saturday := domain.Date{Year: 2024, Month: time.January, Day: 6}
	result, err := svc.PrepareQueue(context.Background(), "user-1", friday, &saturday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TargetDate != monday {
		t.Fatalf("target date = %s, want normalized %s", result.TargetDate, monday)
	}
}

func TestPrepareQueueZeroQuotaNoop(t *testing.T) {
	leads := newFakeLeadRepo()
	entries := newFakeQueueRepo()
	addPendingLeads(leads, 3, domain.LeadClassWarm)

	// Saturday is a work day, but the reduced weekend target floors to zero.
	s := testSettings()
	s.Calendar.WorkDays = append(s.Calendar.WorkDays, time.Saturday)
	s.Targets.WeekendProcessing = domain.WeekendProcessing{Enabled: true, ReducedPercent: 10}
	svc, pub := newService(t, leads, entries, s)

	saturday := domain.Date{Year: 2024, Month: time.January, Day: 6}
	result, err := svc.PrepareQueue(context.Background(), "user-1", friday, &saturday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Quota != 0 || result.Admitted != 0 {
		t.Fatalf("quota = %d admitted = %d, want zero-quota no-op", result.Quota, result.Admitted)
	}
	if len(pub.messages) != 0 {
		t.Fatalf("published %d transitions on a no-op run", len(pub.messages))
	}
}

func TestPrepareQueuePriorityThenFIFO(t *testing.T) {
	leads := newFakeLeadRepo()
	entries := newFakeQueueRepo()
	coldIDs := addPendingLeads(leads, 2, domain.LeadClassCold)
	hotIDs := addPendingLeads(leads, 2, domain.LeadClassHot)
	svc, _ := newService(t, leads, entries, testSettings())

	if _, err := svc.PrepareQueue(context.Background(), "user-1", friday, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	posByLead := make(map[uuid.UUID]int)
	for _, e := range entries.entries {
		posByLead[e.LeadID] = e.QueuePosition
	}

	// hot leads come first despite being created later
	for _, hot := range hotIDs {
		for _, cold := range coldIDs {
			if posByLead[hot] > posByLead[cold] {
				t.Fatalf("hot lead position %d after cold lead position %d", posByLead[hot], posByLead[cold])
			}
		}
	}
	// FIFO within the hot class
	if posByLead[hotIDs[0]] > posByLead[hotIDs[1]] {
		t.Fatal("FIFO order violated within priority class")
	}
}

func TestBulkEnqueueSkipsConflicts(t *testing.T) {
	leads := newFakeLeadRepo()
	entries := newFakeQueueRepo()
	ids := addPendingLeads(leads, 3, domain.LeadClassWarm)
	svc, _ := newService(t, leads, entries, testSettings())

	// queue the first lead up front
	first, err := svc.BulkEnqueue(context.Background(), "user-1", ids[:1], friday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Queued != 1 {
		t.Fatalf("queued = %d, want 1", first.Queued)
	}

	second, err := svc.BulkEnqueue(context.Background(), "user-1", ids, friday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Queued != 2 {
		t.Fatalf("queued = %d, want 2", second.Queued)
	}
	if len(second.Conflicts) != 1 || second.Conflicts[0] != ids[0] {
		t.Fatalf("conflicts = %v, want [%s]", second.Conflicts, ids[0])
	}
}

func TestBulkEnqueueBypassesQuota(t *testing.T) {
	leads := newFakeLeadRepo()
	entries := newFakeQueueRepo()
	ids := addPendingLeads(leads, 8, domain.LeadClassWarm)
	svc, _ := newService(t, leads, entries, testSettings())

	result, err := svc.BulkEnqueue(context.Background(), "user-1", ids, friday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Queued != 8 {
		t.Fatalf("queued = %d, want all 8 regardless of quota 5", result.Queued)
	}
}

func TestBulkDequeueResetsLeads(t *testing.T) {
	leads := newFakeLeadRepo()
	entries := newFakeQueueRepo()
	ids := addPendingLeads(leads, 2, domain.LeadClassWarm)
	svc, _ := newService(t, leads, entries, testSettings())

	if _, err := svc.BulkEnqueue(context.Background(), "user-1", ids, friday); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	result, err := svc.BulkDequeue(context.Background(), ids)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Removed != 2 {
		t.Fatalf("removed = %d, want 2", result.Removed)
	}
	for _, id := range ids {
		lead, _ := leads.Get(context.Background(), id)
		if lead.State != domain.LeadStatePending {
			t.Fatalf("lead %s state = %s, want pending", id, lead.State)
		}
	}
}

func TestBulkScheduleNormalizesToBusinessDay(t *testing.T) {
	leads := newFakeLeadRepo()
	entries := newFakeQueueRepo()
	ids := addPendingLeads(leads, 1, domain.LeadClassWarm)
	svc, _ := newService(t, leads, entries, testSettings())

	if _, err := svc.BulkEnqueue(context.Background(), "user-1", ids, friday); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	saturday := domain.Date{Year: 2024, Month: time.January, Day: 13}
	result, err := svc.BulkSchedule(context.Background(), "user-1", ids, saturday, friday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Queued != 1 {
		t.Fatalf("moved = %d, want 1", result.Queued)
	}

	wantDate := domain.Date{Year: 2024, Month: time.January, Day: 15}
	for _, e := range entries.entries {
		if e.ScheduledFor != wantDate {
			t.Fatalf("entry scheduled for %s, want normalized %s", e.ScheduledFor, wantDate)
		}
	}
}
