package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/services/email"
	"github.com/luxaar/luxaar/storage/database/inmem"
	"github.com/luxaar/luxaar/tests"
)

type recObserver struct {
	runs map[string]error
}

func (o *recObserver) ObserveJob(job string, _ time.Duration, err error) {
	o.runs[job] = err
}

func newScheduler(t *testing.T) (*Scheduler, *testutil.Env, *recObserver) {
	env := testutil.NewEnv(t)
	obs := &recObserver{runs: make(map[string]error)}
	s := NewScheduler(env.Conf, env.UserSvc, env.EnrollSvc, env.NotifSvc, env.MailSvc, obs, core.NopLogger{})
	return s, env, obs
}

func TestPendingReminder(t *testing.T) {
	s, env, obs := newScheduler(t)
	ctx := context.Background()
	admin := env.Admin(t, "grace")
	student := env.Student(t, "linus")
	c, _ := env.CourseWithLessons(t, admin.ID, 0, 1)

	// nothing pending yet: no reminder
	require.NoError(t, s.PendingReminder(ctx))
	assert.Empty(t, emailsvc.Sent())

	// a fresh request does not trigger a reminder either
	_, err := env.EnrollRepo.CreateAccessRequest(ctx, enrollment.AccessRequest{
		ID: uuid.NewString(), UserID: student.ID, CourseID: c.ID, Status: enrollment.RequestPending, CreatedAt: core.UTCNow(),
	})
	require.NoError(t, err)
	require.NoError(t, s.PendingReminder(ctx))
	assert.Empty(t, emailsvc.Sent())

	other := env.Student(t, "ken")
	_, err = env.EnrollRepo.CreateAccessRequest(ctx, enrollment.AccessRequest{
		ID: uuid.NewString(), UserID: other.ID, CourseID: c.ID, Status: enrollment.RequestPending,
		CreatedAt: core.UTCNow().Add(-48 * time.Hour),
	})
	require.NoError(t, err)

	s.wrap(JobPendingReminder, s.PendingReminder)()
	assert.NoError(t, obs.runs[JobPendingReminder])

	sent := emailsvc.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, admin.Email, sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "1 course access request(s)")

	ns, err := env.NotifSvc.List(ctx, notification.QueryFilter{UserID: admin.ID})
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, notification.TypePendingReminder, ns[0].Type)
}

func TestPurgeNotifications(t *testing.T) {
	s, env, obs := newScheduler(t)
	ctx := context.Background()
	repo := inmemdb.NewNotificationRepository(env.DB)
	old := core.UTCNow().Add(-env.Conf.Jobs.NotificationRetention - time.Hour)

	require.NoError(t, repo.CreateNotifications(ctx, []notification.Notification{
		{ID: "old-read", UserID: "u1", Type: notification.TypeSupportReply, Title: "t", IsRead: true, CreatedAt: old},
		{ID: "old-unread", UserID: "u1", Type: notification.TypeSupportReply, Title: "t", CreatedAt: old},
		{ID: "new-read", UserID: "u1", Type: notification.TypeSupportReply, Title: "t", IsRead: true, CreatedAt: core.UTCNow()},
	}))

	s.wrap(JobPurgeNotifications, s.PurgeNotifications)()
	assert.NoError(t, obs.runs[JobPurgeNotifications])

	ns, err := repo.QueryNotifications(ctx, notification.QueryFilter{UserID: "u1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(ns))
	for _, n := range ns {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"old-unread", "new-read"}, ids)
}

func TestRegister(t *testing.T) {
	s, env, _ := newScheduler(t)
	require.NoError(t, s.Register())
	assert.Len(t, s.cron.Entries(), 2)

	env.Conf.Jobs.PendingReminderSpec = "not a spec"
	s2 := NewScheduler(env.Conf, env.UserSvc, env.EnrollSvc, env.NotifSvc, env.MailSvc, nil, core.NopLogger{})
	assert.Error(t, s2.Register())
}
