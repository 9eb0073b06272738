package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/subscribely/notifier/internal/db"
	"github.com/subscribely/notifier/internal/mail"
	"github.com/subscribely/notifier/internal/metrics"
)

// ErrRunInProgress is returned by RunNow when a scan is already in
// flight, either in this process or (with a lock configured) in a
// sibling instance.
var ErrRunInProgress = errors.New("expiration check already in progress")

// Store is the read side of the CRUD datastore plus the append-only
// delivery log.
type Store interface {
	ListActiveUsers(ctx context.Context) ([]*db.User, error)
	ListActiveSubscriptions(ctx context.Context, userID uuid.UUID) ([]*db.Subscription, error)
	CreateDeliveryLog(ctx context.Context, rec *db.DeliveryLog) error
}

// Locker guards a run across instances. Acquire returns false when
// another holder has the lock.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// OpsNotifier receives operator alerts for run-level failures.
type OpsNotifier interface {
	RunAborted(ctx context.Context, reason string)
}

// Config holds scheduler tunables.
type Config struct {
	RunHour     int           // local hour of the daily run
	SendDelay   time.Duration // pacing between successive send attempts
	SendTimeout time.Duration // bound on one transport call
}

// Scheduler drives the daily expiration check. One run at a time: the
// in-flight guard rejects a manual trigger that coincides with the
// scheduled one.
type Scheduler struct {
	store    Store
	gateway  mail.Gateway
	recorder mail.Recorder
	cfg      Config
	logger   *zap.Logger

	lock Locker      // optional, nil without Redis
	ops  OpsNotifier // optional, nil without an alert topic

	running atomic.Bool
	now     func() time.Time
}

// New creates a scheduler. The gateway must already be verified; the
// scheduler never re-probes it.
func New(store Store, gateway mail.Gateway, recorder mail.Recorder, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.RunHour < 0 || cfg.RunHour > 23 {
		cfg.RunHour = 10
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	return &Scheduler{
		store:    store,
		gateway:  gateway,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// UseRunLock adds a cross-instance lock around each run.
func (s *Scheduler) UseRunLock(l Locker) {
	s.lock = l
}

// UseOpsAlerts publishes an operator alert when a run aborts at the
// data-load stage.
func (s *Scheduler) UseOpsAlerts(o OpsNotifier) {
	s.ops = o
}

// Start runs the daily trigger until ctx is cancelled. The first run
// fires at the next occurrence of the configured hour.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("daily expiration scheduler started",
		zap.Int("run_hour", s.cfg.RunHour),
	)

	for {
		next := s.nextRun()
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopping")
			return
		case <-timer.C:
			if err := s.RunNow(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
				s.logger.Error("scheduled expiration check failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) nextRun() time.Time {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.RunHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// RunNow performs one full pass over all active users. It returns once
// the run completes, ErrRunInProgress if a run is already in flight, or
// the load error if the datastore could not be enumerated.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer s.running.Store(false)

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx)
		if err != nil {
			s.logger.Warn("run lock unavailable, proceeding with local guard only", zap.Error(err))
		} else if !acquired {
			return ErrRunInProgress
		} else {
			defer func() {
				if err := s.lock.Release(ctx); err != nil {
					s.logger.Warn("failed to release run lock", zap.Error(err))
				}
			}()
		}
	}

	start := s.now()
	err := s.runCheck(ctx)
	if err != nil {
		metrics.RecordRun("aborted", time.Since(start))
		if s.ops != nil {
			s.ops.RunAborted(ctx, err.Error())
		}
		return err
	}

	metrics.RecordRun("completed", time.Since(start))
	return nil
}

func (s *Scheduler) runCheck(ctx context.Context) error {
	s.logger.Info("starting subscription expiration check")

	// A load failure here aborts the whole run; the next scheduled run
	// retries independently.
	users, err := s.store.ListActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}

	for _, user := range users {
		s.notifyUser(ctx, user)
	}

	s.logger.Info("subscription expiration check completed",
		zap.Int("users", len(users)),
	)
	return nil
}

// notifyUser groups one user's subscriptions by tier and delivers one
// notification per non-empty group, most severe first. Errors are
// contained here so one user cannot abort the run for the rest.
func (s *Scheduler) notifyUser(ctx context.Context, user *db.User) {
	subs, err := s.store.ListActiveSubscriptions(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to load subscriptions, skipping user",
			zap.Error(err),
			zap.String("user_id", user.ID.String()),
		)
		return
	}
	if len(subs) == 0 {
		return
	}

	now := s.now()
	groups := make(map[Tier][]*db.Subscription)
	for _, sub := range subs {
		tier := Classify(DaysUntil(sub.RenewalDate, now))
		if tier == TierNormal {
			continue
		}
		groups[tier] = append(groups[tier], sub)
	}

	for _, tier := range TierOrder {
		group := groups[tier]
		if len(group) == 0 {
			continue
		}

		subject, body := Compose(user, tier, group, now)
		s.attempt(ctx, user, db.KindRenewalReminder, tier, subject, body, len(group))

		if s.cfg.SendDelay > 0 {
			time.Sleep(s.cfg.SendDelay)
		}
	}
}

// attempt delivers one composed notification and writes exactly one
// audit record reflecting the actual outcome. No retries: a failed send
// is re-attempted naturally by the next run while the subscription
// stays in a notifiable tier.
func (s *Scheduler) attempt(ctx context.Context, user *db.User, kind string, tier Tier, subject, body string, count int) {
	rec := &db.DeliveryLog{
		UserID:            user.ID,
		Kind:              kind,
		Tier:              string(tier),
		Subject:           subject,
		RecipientEmail:    user.Email,
		SubscriptionCount: count,
		SentAt:            s.now(),
	}

	if !s.gateway.Ready() {
		if err := s.recorder.Record(kind, user.Email, subject, body); err != nil {
			s.logger.Error("fallback recorder failed",
				zap.Error(err),
				zap.String("user_id", user.ID.String()),
			)
		}
		rec.Status = db.StatusLogged
	} else {
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		_, err := s.gateway.Send(sendCtx, &mail.Envelope{
			To:      user.Email,
			Subject: subject,
			Body:    body,
		})
		cancel()

		if err != nil {
			s.logger.Error("notification send failed",
				zap.Error(err),
				zap.String("user_id", user.ID.String()),
				zap.String("tier", string(tier)),
			)
			msg := err.Error()
			rec.Status = db.StatusFailed
			rec.ErrorMessage = &msg
		} else {
			rec.Status = db.StatusSent
		}
	}

	metrics.RecordNotification(rec.Status, string(tier))

	// Audit failures are contained per unit of work as well.
	if err := s.store.CreateDeliveryLog(ctx, rec); err != nil {
		s.logger.Error("failed to write delivery log",
			zap.Error(err),
			zap.String("user_id", user.ID.String()),
			zap.String("tier", string(tier)),
		)
	}
}

// SendWelcome delivers the signup or login greeting through the same
// gateway/fallback/audit path as reminders.
func (s *Scheduler) SendWelcome(ctx context.Context, user *db.User, returning bool) error {
	subject, body := ComposeWelcome(user, returning)
	s.attempt(ctx, user, db.KindWelcome, TierNormal, subject, body, 0)
	return nil
}
