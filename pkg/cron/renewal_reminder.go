package cron

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"contentlift_backend/internal/model"
	"contentlift_backend/pkg/subscription"
)

// WarningDays are the distances to period end at which reminders go out.
var WarningDays = []int{7, 3}

type ReminderSender interface {
	RenewalReminder(ctx context.Context, sub *model.Subscription, plan *model.Plan, daysLeft int) error
}

// RenewalReminder emails accounts whose period ends in one of WarningDays,
// both for renewals and for scheduled cancellations.
type RenewalReminder struct {
	store  subscription.Store
	sender ReminderSender
	log    logrus.FieldLogger
	now    func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

func NewRenewalReminder(store subscription.Store, sender ReminderSender, log logrus.FieldLogger) *RenewalReminder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RenewalReminder{
		store:  store,
		sender: sender,
		log:    log.WithField("job", "renewal_reminder"),
		now:    time.Now,
	}
}

// Start schedules the sweep and returns the running scheduler.
func Start(schedule string, r *RenewalReminder) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if time.Since(r.lastRun) < 23*time.Hour {
			r.log.Info("Renewal reminders already sent today, skipping...")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := r.Run(ctx); err != nil {
			r.log.WithError(err).Error("renewal reminder sweep failed")
			return
		}
		r.lastRun = time.Now()
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// Run sends one round of reminders and returns how many were delivered.
// A failed delivery is logged and does not stop the sweep.
func (r *RenewalReminder) Run(ctx context.Context) (int, error) {
	today := startOfDay(r.now())
	plans := map[string]*model.Plan{}
	sent := 0

	for _, days := range WarningDays {
		from := today.AddDate(0, 0, days)
		subs, err := r.store.SubscriptionsEndingBetween(ctx, from, from.AddDate(0, 0, 1))
		if err != nil {
			return sent, err
		}
		r.log.Infof("Found %d subscriptions ending in %d days", len(subs), days)

		for i := range subs {
			sub := &subs[i]
			if sub.Status == model.StatusIncomplete || sub.BillingEmail == "" {
				continue
			}
			plan, ok := plans[sub.PlanID]
			if !ok {
				plan, err = r.store.GetPlan(ctx, sub.PlanID)
				if err != nil {
					r.log.WithError(err).WithField("plan_id", sub.PlanID).Warn("plan lookup failed")
					plan = nil
				}
				plans[sub.PlanID] = plan
			}

			entry := r.log.WithFields(logrus.Fields{
				"account_id":      sub.AccountID,
				"subscription_id": sub.ID,
				"days_left":       days,
			})
			if err := r.sender.RenewalReminder(ctx, sub, plan, days); err != nil {
				entry.WithError(err).Warn("could not send renewal reminder")
				continue
			}
			entry.Debug("renewal reminder sent")
			sent++
		}
	}
	return sent, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
