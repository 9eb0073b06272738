package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/subscribely/notifier/internal/db"
	"github.com/subscribely/notifier/internal/mail"
)

type mockStore struct {
	users []*db.User
	subs  map[uuid.UUID][]*db.Subscription

	logs []*db.DeliveryLog

	failUsers   bool
	failSubsFor map[uuid.UUID]bool
	failLogs    bool
}

func (m *mockStore) ListActiveUsers(ctx context.Context) ([]*db.User, error) {
	if m.failUsers {
		return nil, errors.New("database unreachable")
	}
	return m.users, nil
}

func (m *mockStore) ListActiveSubscriptions(ctx context.Context, userID uuid.UUID) ([]*db.Subscription, error) {
	if m.failSubsFor[userID] {
		return nil, errors.New("database error")
	}
	return m.subs[userID], nil
}

func (m *mockStore) CreateDeliveryLog(ctx context.Context, rec *db.DeliveryLog) error {
	if m.failLogs {
		return errors.New("insert failed")
	}
	m.logs = append(m.logs, rec)
	return nil
}

type mockGateway struct {
	ready bool
	fail  bool
	sent  []*mail.Envelope

	deadlines []bool // whether each Send saw a bounded context
}

func (g *mockGateway) Ready() bool { return g.ready }

func (g *mockGateway) Send(ctx context.Context, env *mail.Envelope) (string, error) {
	_, bounded := ctx.Deadline()
	g.deadlines = append(g.deadlines, bounded)
	if g.fail {
		return "", errors.New("transport rejected message")
	}
	g.sent = append(g.sent, env)
	return "msg-" + uuid.NewString(), nil
}

type recordedEntry struct {
	kind, to, subject string
}

type mockRecorder struct {
	entries []recordedEntry
}

func (r *mockRecorder) Record(kind, to, subject, body string) error {
	r.entries = append(r.entries, recordedEntry{kind, to, subject})
	return nil
}

type mockLocker struct {
	held       bool
	acquireErr error
	released   bool
}

func (l *mockLocker) Acquire(ctx context.Context) (bool, error) {
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	return !l.held, nil
}

func (l *mockLocker) Release(ctx context.Context) error {
	l.released = true
	return nil
}

type mockOps struct {
	reasons []string
}

func (o *mockOps) RunAborted(ctx context.Context, reason string) {
	o.reasons = append(o.reasons, reason)
}

// fakeClock advances one millisecond per call so audit timestamps
// within a run are strictly ordered.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestScheduler(store *mockStore, gw *mockGateway, rec *mockRecorder) *Scheduler {
	s := New(store, gw, rec, Config{SendDelay: 0, SendTimeout: time.Second}, zap.NewNop())
	clock := &fakeClock{t: time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	return s
}

func userWith(store *mockStore, firstName string, renewals ...time.Duration) *db.User {
	user := &db.User{
		ID:        uuid.New(),
		Email:     firstName + "@example.com",
		FirstName: firstName,
		IsActive:  true,
	}
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	var subs []*db.Subscription
	for _, offset := range renewals {
		subs = append(subs, testSub("Service", base.Add(offset)))
	}
	store.users = append(store.users, user)
	if store.subs == nil {
		store.subs = make(map[uuid.UUID][]*db.Subscription)
	}
	store.subs[user.ID] = subs
	return user
}

func TestRunNow_NoSubscriptions_NoAuditRecords(t *testing.T) {
	store := &mockStore{}
	userWith(store, "empty")

	s := newTestScheduler(store, &mockGateway{ready: true}, &mockRecorder{})
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.logs) != 0 {
		t.Errorf("expected zero audit records, got %d", len(store.logs))
	}
}

func TestRunNow_NormalTierNeverNotified(t *testing.T) {
	store := &mockStore{}
	userWith(store, "calm", 10*24*time.Hour, 30*24*time.Hour)

	gw := &mockGateway{ready: true}
	s := newTestScheduler(store, gw, &mockRecorder{})
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.logs) != 0 {
		t.Errorf("normal-tier subscriptions must not notify, got %d records", len(store.logs))
	}
	if len(gw.sent) != 0 {
		t.Errorf("expected zero sends, got %d", len(gw.sent))
	}
}

func TestRunNow_SeverityOrderAndOutcome(t *testing.T) {
	store := &mockStore{}
	// A expired yesterday, B renews in 5 days.
	user := userWith(store, "priya", -24*time.Hour, 5*24*time.Hour)

	gw := &mockGateway{ready: true}
	s := newTestScheduler(store, gw, &mockRecorder{})
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.logs) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(store.logs))
	}

	first, second := store.logs[0], store.logs[1]
	if first.Tier != string(TierExpired) || second.Tier != string(TierWarning) {
		t.Errorf("expected expired before warning, got %s then %s", first.Tier, second.Tier)
	}
	if !first.SentAt.Before(second.SentAt) {
		t.Errorf("expired record timestamp %v should precede warning %v", first.SentAt, second.SentAt)
	}
	for _, rec := range store.logs {
		if rec.Status != db.StatusSent {
			t.Errorf("tier %s: status = %s, want %s", rec.Tier, rec.Status, db.StatusSent)
		}
		if rec.UserID != user.ID {
			t.Errorf("record attributed to wrong user")
		}
		if rec.SubscriptionCount != 1 {
			t.Errorf("tier %s: subscription count = %d, want 1", rec.Tier, rec.SubscriptionCount)
		}
		if rec.Kind != db.KindRenewalReminder {
			t.Errorf("kind = %s, want %s", rec.Kind, db.KindRenewalReminder)
		}
	}
	if len(gw.sent) != 2 {
		t.Errorf("expected 2 sends, got %d", len(gw.sent))
	}
}

func TestRunNow_GroupsSubscriptionsWithinTier(t *testing.T) {
	store := &mockStore{}
	// Both renew in 5 days: one warning notification covering both.
	userWith(store, "grouped", 5*24*time.Hour, 6*24*time.Hour)

	gw := &mockGateway{ready: true}
	s := newTestScheduler(store, gw, &mockRecorder{})
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.logs) != 1 {
		t.Fatalf("expected 1 audit record for one tier group, got %d", len(store.logs))
	}
	if store.logs[0].SubscriptionCount != 2 {
		t.Errorf("subscription count = %d, want 2", store.logs[0].SubscriptionCount)
	}
}

func TestRunNow_UnreadyGatewayFallsBack(t *testing.T) {
	store := &mockStore{}
	userWith(store, "priya", -24*time.Hour, 5*24*time.Hour)
	userWith(store, "ravi", 12*time.Hour)

	gw := &mockGateway{ready: false}
	rec := &mockRecorder{}
	s := newTestScheduler(store, gw, rec)
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.logs) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(store.logs))
	}
	for _, log := range store.logs {
		if log.Status != db.StatusLogged {
			t.Errorf("tier %s: status = %s, want %s", log.Tier, log.Status, db.StatusLogged)
		}
	}
	if len(gw.sent) != 0 {
		t.Errorf("unready gateway must not send, got %d sends", len(gw.sent))
	}
	if len(rec.entries) != 3 {
		t.Fatalf("expected 3 fallback entries, got %d", len(rec.entries))
	}
	for i, entry := range rec.entries {
		if entry.subject != store.logs[i].Subject {
			t.Errorf("fallback entry %d subject %q does not match audit %q", i, entry.subject, store.logs[i].Subject)
		}
	}
}

func TestRunNow_SendFailureAuditedAndContained(t *testing.T) {
	store := &mockStore{}
	userWith(store, "priya", -24*time.Hour)
	userWith(store, "ravi", -24*time.Hour)

	gw := &mockGateway{ready: true, fail: true}
	rec := &mockRecorder{}
	s := newTestScheduler(store, gw, rec)
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("send failures must not abort the run: %v", err)
	}

	if len(store.logs) != 2 {
		t.Fatalf("expected both users audited, got %d records", len(store.logs))
	}
	for _, log := range store.logs {
		if log.Status != db.StatusFailed {
			t.Errorf("status = %s, want %s", log.Status, db.StatusFailed)
		}
		if log.ErrorMessage == nil || *log.ErrorMessage == "" {
			t.Error("failed record should carry the error message")
		}
	}
	// No retry within a run and no fallback record for a live failure.
	if len(rec.entries) != 0 {
		t.Errorf("live send failure must not write fallback entries, got %d", len(rec.entries))
	}
}

func TestRunNow_NoDedupAcrossRuns(t *testing.T) {
	store := &mockStore{}
	userWith(store, "priya", 5*24*time.Hour)

	s := newTestScheduler(store, &mockGateway{ready: true}, &mockRecorder{})

	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	// Two immediate runs double-notify: there is deliberately no dedup,
	// a warning-tier subscription is re-notified every run until it
	// changes tier or is renewed.
	if len(store.logs) != 2 {
		t.Fatalf("expected 2 independent audit records, got %d", len(store.logs))
	}
	if store.logs[0].Subject != store.logs[1].Subject {
		t.Errorf("expected identical reminders, got %q and %q", store.logs[0].Subject, store.logs[1].Subject)
	}
}

func TestRunNow_UserLoadFailureSkipsOnlyThatUser(t *testing.T) {
	store := &mockStore{}
	broken := userWith(store, "broken", -24*time.Hour)
	userWith(store, "fine", -24*time.Hour)
	store.failSubsFor = map[uuid.UUID]bool{broken.ID: true}

	s := newTestScheduler(store, &mockGateway{ready: true}, &mockRecorder{})
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("one user's failure must not abort the run: %v", err)
	}

	if len(store.logs) != 1 {
		t.Fatalf("expected 1 audit record for the healthy user, got %d", len(store.logs))
	}
	if store.logs[0].RecipientEmail != "fine@example.com" {
		t.Errorf("wrong user audited: %s", store.logs[0].RecipientEmail)
	}
}

func TestRunNow_AuditFailureDoesNotAbortRun(t *testing.T) {
	store := &mockStore{failLogs: true}
	userWith(store, "priya", -24*time.Hour)

	gw := &mockGateway{ready: true}
	s := newTestScheduler(store, gw, &mockRecorder{})
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("audit failure must not abort the run: %v", err)
	}
	if len(gw.sent) != 1 {
		t.Errorf("send should still have happened, got %d", len(gw.sent))
	}
}

func TestRunNow_DataLoadFailureAbortsAndAlerts(t *testing.T) {
	store := &mockStore{failUsers: true}
	opsAlerts := &mockOps{}

	s := newTestScheduler(store, &mockGateway{ready: true}, &mockRecorder{})
	s.UseOpsAlerts(opsAlerts)

	err := s.RunNow(context.Background())
	if err == nil {
		t.Fatal("expected an error when users cannot be enumerated")
	}
	if len(opsAlerts.reasons) != 1 {
		t.Fatalf("expected 1 operator alert, got %d", len(opsAlerts.reasons))
	}
	if len(store.logs) != 0 {
		t.Errorf("aborted run must not write audit records, got %d", len(store.logs))
	}
}

func TestRunNow_InFlightGuard(t *testing.T) {
	store := &mockStore{}
	s := newTestScheduler(store, &mockGateway{ready: true}, &mockRecorder{})

	s.running.Store(true)
	if err := s.RunNow(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	s.running.Store(false)

	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("guard should clear after the run: %v", err)
	}
}

func TestRunNow_DistributedLock(t *testing.T) {
	store := &mockStore{}
	userWith(store, "priya", -24*time.Hour)

	t.Run("held_elsewhere", func(t *testing.T) {
		s := newTestScheduler(store, &mockGateway{ready: true}, &mockRecorder{})
		s.UseRunLock(&mockLocker{held: true})
		if err := s.RunNow(context.Background()); !errors.Is(err, ErrRunInProgress) {
			t.Fatalf("expected ErrRunInProgress, got %v", err)
		}
	})

	t.Run("acquired_and_released", func(t *testing.T) {
		lock := &mockLocker{}
		s := newTestScheduler(store, &mockGateway{ready: true}, &mockRecorder{})
		s.UseRunLock(lock)
		if err := s.RunNow(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !lock.released {
			t.Error("lock should be released after the run")
		}
	})

	t.Run("lock_error_degrades_to_local_guard", func(t *testing.T) {
		s := newTestScheduler(store, &mockGateway{ready: true}, &mockRecorder{})
		s.UseRunLock(&mockLocker{acquireErr: errors.New("redis down")})
		if err := s.RunNow(context.Background()); err != nil {
			t.Fatalf("lock errors must not block the run: %v", err)
		}
	})
}

func TestRunNow_SendsAreTimeBounded(t *testing.T) {
	store := &mockStore{}
	userWith(store, "priya", -24*time.Hour, 5*24*time.Hour)

	gw := &mockGateway{ready: true}
	s := newTestScheduler(store, gw, &mockRecorder{})
	if err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gw.deadlines) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(gw.deadlines))
	}
	for i, bounded := range gw.deadlines {
		if !bounded {
			t.Errorf("send %d ran on an unbounded context", i)
		}
	}
}

func TestNew_DefaultsSendTimeout(t *testing.T) {
	s := New(&mockStore{}, &mockGateway{}, &mockRecorder{}, Config{}, zap.NewNop())
	if s.cfg.SendTimeout != 10*time.Second {
		t.Errorf("SendTimeout = %v, want 10s", s.cfg.SendTimeout)
	}
}

func TestSendWelcome(t *testing.T) {
	store := &mockStore{}
	user := userWith(store, "priya")

	t.Run("gateway_ready", func(t *testing.T) {
		store.logs = nil
		gw := &mockGateway{ready: true}
		s := newTestScheduler(store, gw, &mockRecorder{})

		if err := s.SendWelcome(context.Background(), user, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(store.logs) != 1 {
			t.Fatalf("expected 1 audit record, got %d", len(store.logs))
		}
		rec := store.logs[0]
		if rec.Kind != db.KindWelcome {
			t.Errorf("kind = %s, want %s", rec.Kind, db.KindWelcome)
		}
		if rec.Status != db.StatusSent {
			t.Errorf("status = %s, want %s", rec.Status, db.StatusSent)
		}
	})

	t.Run("gateway_unready", func(t *testing.T) {
		store.logs = nil
		rec := &mockRecorder{}
		s := newTestScheduler(store, &mockGateway{ready: false}, rec)

		if err := s.SendWelcome(context.Background(), user, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(store.logs) != 1 || store.logs[0].Status != db.StatusLogged {
			t.Fatalf("expected one logged audit record, got %+v", store.logs)
		}
		if len(rec.entries) != 1 || rec.entries[0].kind != db.KindWelcome {
			t.Fatalf("expected one welcome fallback entry, got %+v", rec.entries)
		}
	})
}

func TestNextRun(t *testing.T) {
	store := &mockStore{}
	s := New(store, &mockGateway{}, &mockRecorder{}, Config{RunHour: 10}, zap.NewNop())

	t.Run("before_hour", func(t *testing.T) {
		s.now = func() time.Time { return time.Date(2026, 8, 31, 8, 30, 0, 0, time.UTC) }
		next := s.nextRun()
		want := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
		if !next.Equal(want) {
			t.Errorf("next = %v, want %v", next, want)
		}
	})

	t.Run("after_hour_rolls_to_tomorrow", func(t *testing.T) {
		s.now = func() time.Time { return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC) }
		next := s.nextRun()
		want := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
		if !next.Equal(want) {
			t.Errorf("next = %v, want %v", next, want)
		}
	})
}
