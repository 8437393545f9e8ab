// Package jobs runs the scheduled maintenance tasks.
package jobs

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/core/user"
)

const (
	JobPurgeNotifications = "purge_notifications"
	JobPendingReminder    = "pending_reminder"

	reminderAge = 24 * time.Hour
	jobTimeout  = 5 * time.Minute
)

type Observer interface {
	ObserveJob(job string, d time.Duration, err error)
}

type Scheduler struct {
	cron     *cron.Cron
	conf     *core.Config
	userSvc  user.ServiceInterface
	enrSvc   enrollment.ServiceInterface
	notifSvc notification.ServiceInterface
	mailSvc  core.EmailService
	observer Observer
	logger   core.Logger
}

func NewScheduler(
	conf *core.Config,
	userSvc user.ServiceInterface,
	enrSvc enrollment.ServiceInterface,
	notifSvc notification.ServiceInterface,
	mailSvc core.EmailService,
	observer Observer,
	logger core.Logger,
) *Scheduler {
	s := &Scheduler{
		conf:     conf,
		userSvc:  userSvc,
		enrSvc:   enrSvc,
		notifSvc: notifSvc,
		mailSvc:  mailSvc,
		observer: observer,
		logger:   logger,
	}
	cl := cronLogger{logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	return s
}

// Register adds the jobs on their configured schedules.
func (s *Scheduler) Register() error {
	if _, err := s.cron.AddFunc(s.conf.Jobs.PurgeNotificationsSpec, s.wrap(JobPurgeNotifications, s.PurgeNotifications)); err != nil {
		return errors.Wrap(err, "scheduling "+JobPurgeNotifications)
	}
	if _, err := s.cron.AddFunc(s.conf.Jobs.PendingReminderSpec, s.wrap(JobPendingReminder, s.PendingReminder)); err != nil {
		return errors.Wrap(err, "scheduling "+JobPendingReminder)
	}
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for running jobs to finish or ctx to be done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) wrap(name string, job func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		err := job(ctx)
		if s.observer != nil {
			s.observer.ObserveJob(name, time.Since(start), err)
		}
		if err != nil {
			s.logger.Error("running job "+name, err)
		}
	}
}

func (s *Scheduler) PurgeNotifications(ctx context.Context) error {
	n, err := s.notifSvc.PurgeRead(ctx, s.conf.Jobs.NotificationRetention)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("purged read notifications", map[string]interface{}{"count": n})
	}
	return nil
}

// PendingReminder tells admins about access requests waiting for more than a day.
func (s *Scheduler) PendingReminder(ctx context.Context) error {
	count, err := s.enrSvc.CountAccessRequests(ctx, enrollment.RequestFilter{
		Status:        enrollment.RequestPending,
		CreatedBefore: core.UTCNow().Add(-reminderAge),
	})
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	const path = "/admin/access-requests"
	if err := s.notifSvc.NotifyAdmins(ctx, notification.NewNotification{
		Type:    notification.TypePendingReminder,
		Title:   "Access requests are waiting",
		Message: fmt.Sprintf("%d course access request(s) have been pending for more than a day.", count),
		Link:    path,
	}); err != nil {
		return err
	}

	active := true
	admins, err := s.userSvc.Query(ctx, &user.QueryFilter{Roles: user.AdminRoles, IsActive: &active}, nil)
	if err != nil {
		return err
	}
	msgs := make([]*core.EmailMessage, 0, len(admins))
	for _, admin := range admins {
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Name: admin.Name, Address: admin.Email}},
			Subject:      "Pending access requests",
			TemplateName: "pending_reminder",
			TemplateData: map[string]interface{}{"Name": admin.Name, "Count": count, "Path": path},
		})
	}
	s.mailSvc.SendMessages(msgs...)
	return nil
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, fields(keysAndValues))
}

func fields(kv []interface{}) map[string]interface{} {
	f := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
