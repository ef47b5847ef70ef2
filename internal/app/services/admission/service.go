// Package admission gates user-authored inbound messages against per-user and
// application-wide daily quotas held in a shared counter store.
package admission

import (
	"context"
	"time"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/quota"
	"github.com/shule-ai/tutor-gateway/internal/app/metrics"
	"github.com/shule-ai/tutor-gateway/internal/app/storage"
	"github.com/shule-ai/tutor-gateway/pkg/logger"
)

// Notifier delivers the deflection reply; the end user has no other feedback
// channel, so a bare rejection is never acceptable.
type Notifier interface {
	SendText(ctx context.Context, to, body string) error
}

// deflectionReplies are the user-visible texts per deflection reason.
var deflectionReplies = map[quota.Reason]string{
	quota.ReasonUserMessageLimit:   "You have reached your daily message limit. Please come back tomorrow.",
	quota.ReasonGlobalMessageLimit: "The service is very busy today and has reached its daily capacity. Please try again tomorrow.",
	quota.ReasonUserTokenLimit:     "You have used up your daily allowance. Please come back tomorrow.",
	quota.ReasonGlobalTokenLimit:   "The service has used up its daily allowance. Please try again tomorrow.",
}

// Service evaluates the four daily ceilings. It is stateless and safe for
// arbitrary concurrent invocation; all shared state lives in the counter
// store, whose increments are atomic.
type Service struct {
	counters storage.CounterStore
	users    storage.UserStore
	notify   Notifier
	ceilings quota.Ceilings
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the admission service.
func New(counters storage.CounterStore, users storage.UserStore, notify Notifier, ceilings quota.Ceilings, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("admission")
	}
	return &Service{
		counters: counters,
		users:    users,
		notify:   notify,
		ceilings: ceilings,
		log:      log,
		now:      time.Now,
	}
}

// SetNow overrides the clock; for tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// Admit counts the inbound message and decides whether it proceeds. Message
// counters are incremented unconditionally before any ceiling is evaluated,
// so a request that will be deflected still consumes quota and load stays
// visible while deflecting. Ceilings are checked in fixed precedence: user
// messages, app messages, user tokens, app tokens; a user over their own
// quota gets the personalized reply even if the whole app is also over.
// Token counters are read-only here; RecordTokenUsage increments them once a
// reply's cost is known.
func (s *Service) Admit(ctx context.Context, waID string) (quota.Decision, error) {
	day := quota.Day(s.now())

	userMessages, err := s.counters.Add(ctx, quota.UserKey(waID, quota.MetricMessages, day), 1)
	if err != nil {
		return quota.Decision{}, err
	}
	appMessages, err := s.counters.Add(ctx, quota.AppKey(quota.MetricMessages, day), 1)
	if err != nil {
		return quota.Decision{}, err
	}

	if userMessages > s.ceilings.UserDailyMessages {
		return s.deflect(ctx, waID, quota.ReasonUserMessageLimit), nil
	}
	if appMessages > s.ceilings.AppDailyMessages {
		return s.deflect(ctx, waID, quota.ReasonGlobalMessageLimit), nil
	}

	userTokens, err := s.counters.Get(ctx, quota.UserKey(waID, quota.MetricTokens, day))
	if err != nil {
		return quota.Decision{}, err
	}
	appTokens, err := s.counters.Get(ctx, quota.AppKey(quota.MetricTokens, day))
	if err != nil {
		return quota.Decision{}, err
	}

	if userTokens > s.ceilings.UserDailyTokens {
		return s.deflect(ctx, waID, quota.ReasonUserTokenLimit), nil
	}
	if appTokens > s.ceilings.AppDailyTokens {
		return s.deflect(ctx, waID, quota.ReasonGlobalTokenLimit), nil
	}

	s.log.WithField("wa_id", waID).
		WithField("user_messages", userMessages).
		WithField("app_messages", appMessages).
		WithField("user_tokens", userTokens).
		WithField("app_tokens", appTokens).
		Debug("message admitted")
	metrics.RecordAdmission(true, "")
	return quota.Decision{Admit: true}, nil
}

func (s *Service) deflect(ctx context.Context, waID string, reason quota.Reason) quota.Decision {
	s.log.WithField("wa_id", waID).
		WithField("reason", string(reason)).
		Info("message deflected")
	metrics.RecordAdmission(false, string(reason))

	// Best effort: the webhook is still acknowledged even if the reply fails.
	if s.notify != nil {
		if s.users != nil {
			if _, err := s.users.GetOrCreateUser(ctx, waID); err != nil {
				s.log.WithError(err).WithField("wa_id", waID).Warn("resolve user for deflection reply failed")
			}
		}
		if err := s.notify.SendText(ctx, waID, deflectionReplies[reason]); err != nil {
			s.log.WithError(err).WithField("wa_id", waID).Warn("send deflection reply failed")
		}
	}

	return quota.Decision{Admit: false, Reason: reason}
}

// RecordTokenUsage charges a reply's token cost to the user and app counters.
// Called by the reply-generation layer once the cost is known; never by the
// admission path itself.
func (s *Service) RecordTokenUsage(ctx context.Context, waID string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	day := quota.Day(s.now())
	if _, err := s.counters.Add(ctx, quota.UserKey(waID, quota.MetricTokens, day), tokens); err != nil {
		return err
	}
	_, err := s.counters.Add(ctx, quota.AppKey(quota.MetricTokens, day), tokens)
	return err
}

// Usage reads the current snapshot for one user without charging anything.
func (s *Service) Usage(ctx context.Context, waID string) (quota.Snapshot, error) {
	day := quota.Day(s.now())
	var snap quota.Snapshot
	var err error
	if snap.UserMessages, err = s.counters.Get(ctx, quota.UserKey(waID, quota.MetricMessages, day)); err != nil {
		return quota.Snapshot{}, err
	}
	if snap.AppMessages, err = s.counters.Get(ctx, quota.AppKey(quota.MetricMessages, day)); err != nil {
		return quota.Snapshot{}, err
	}
	if snap.UserTokens, err = s.counters.Get(ctx, quota.UserKey(waID, quota.MetricTokens, day)); err != nil {
		return quota.Snapshot{}, err
	}
	if snap.AppTokens, err = s.counters.Get(ctx, quota.AppKey(quota.MetricTokens, day)); err != nil {
		return quota.Snapshot{}, err
	}
	return snap, nil
}
