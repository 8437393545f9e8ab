package support_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/core/support"
	"github.com/luxaar/luxaar/services/email"
	"github.com/luxaar/luxaar/tests"
)

func TestService_Create(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "admin1")
	student := env.Student(t, "student")

	tests := []struct {
		name    string
		nm      support.NewMessage
		wantErr bool
	}{
		{name: "no subject", nm: support.NewMessage{Message: "help"}, wantErr: true},
		{name: "blank message", nm: support.NewMessage{Subject: "Video", Message: "   "}, wantErr: true},
		{name: "ok", nm: support.NewMessage{Subject: " Video won't play ", Message: "Lesson 3 is stuck at 0:42."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := env.SupportSvc.Create(ctx, student, tt.nm)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Video won't play", msg.Subject)
			assert.Equal(t, support.StatusOpen, msg.Status)
			assert.Equal(t, student.ID, msg.UserID)
		})
	}

	ns, err := env.NotifSvc.List(ctx, notification.QueryFilter{UserID: admin.ID})
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, notification.TypeSupportMessage, ns[0].Type)
	assert.Contains(t, ns[0].Message, "Video won't play")

	n, err := env.SupportSvc.Count(ctx, support.QueryFilter{Status: support.StatusOpen})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_ReplyAndResolve(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := env.Admin(t, "admin1")
	student, other := env.Student(t, "student"), env.Student(t, "other")

	msg, err := env.SupportSvc.Create(ctx, student, support.NewMessage{Subject: "Certificate", Message: "Where is it?"})
	require.NoError(t, err)
	_, err = env.SupportSvc.Create(ctx, other, support.NewMessage{Subject: "Billing", Message: "Is it free?"})
	require.NoError(t, err)

	mine, err := env.SupportSvc.Query(ctx, support.QueryFilter{UserID: student.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, msg.ID, mine[0].ID)

	_, err = env.SupportSvc.Reply(ctx, admin, msg.ID, support.Reply{Reply: "  "})
	assert.Error(t, err)

	replied, err := env.SupportSvc.Reply(ctx, admin, msg.ID, support.Reply{Reply: "Coming next week."})
	require.NoError(t, err)
	assert.Equal(t, support.StatusReplied, replied.Status)
	assert.Equal(t, "Coming next week.", replied.AdminReply)
	assert.Equal(t, admin.ID, replied.RepliedBy)
	assert.True(t, replied.RepliedAt.Valid)

	ns, err := env.NotifSvc.List(ctx, notification.QueryFilter{UserID: student.ID})
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, notification.TypeSupportReply, ns[0].Type)

	sent := emailsvc.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "support_reply", sent[0].TemplateName)
	assert.Equal(t, student.Email, sent[0].To[0].Address)

	resolved, err := env.SupportSvc.Resolve(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, support.StatusResolved, resolved.Status)
	assert.Equal(t, "Coming next week.", resolved.AdminReply)

	again, err := env.SupportSvc.Resolve(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, resolved.UpdatedAt, again.UpdatedAt)

	_, err = env.SupportSvc.Reply(ctx, admin, msg.ID, support.Reply{Reply: "One more thing"})
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, support.ErrAlreadyResolved, verr.Err)

	_, err = env.SupportSvc.Resolve(ctx, "missing")
	assert.Equal(t, support.ErrNotFound, errors.Cause(err))
	_, err = env.SupportSvc.Reply(ctx, admin, "missing", support.Reply{Reply: "x"})
	assert.True(t, core.IsNotFound(err))
}
