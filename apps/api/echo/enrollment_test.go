package echoapi_test

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/notification"
)

func Test_enrollmentApi_accessRequestFlow(t *testing.T) {
	a := newApp(t)
	admin := a.Admin(t, "ada")
	student := a.Student(t, "bob")
	other := a.Student(t, "eve")
	c, _ := a.CourseWithLessons(t, admin.ID, 0, 1)

	adminToken, studentToken, otherToken := a.token(t, admin), a.token(t, student), a.token(t, other)
	ask := marchallObj(t, enrollment.NewAccessRequest{Message: "I'd love to learn Go."})

	rec := a.do(http.MethodPost, "/v1/courses/"+c.ID+"/access-requests", studentToken, ask)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, enrollment.RequestPending, field(rec, "status").String())
	reqID := field(rec, "id").String()

	n, err := a.NotifSvc.UnreadCount(context.Background(), admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	review := marchallObj(t, enrollment.Review{Note: "Welcome aboard"})
	a.run(t, []httpTest{
		{name: "already pending", method: http.MethodPost, path: "/v1/courses/" + c.ID + "/access-requests", token: studentToken, body: ask, wantCode: http.StatusBadRequest},
		{name: "unknown course", method: http.MethodPost, path: "/v1/courses/nope/access-requests", token: studentToken, body: ask, wantCode: http.StatusNotFound},
		{name: "owner reads", path: "/v1/access-requests/" + reqID, token: studentToken},
		{name: "others cannot read", path: "/v1/access-requests/" + reqID, token: otherToken, wantCode: http.StatusNotFound},
		{name: "students see their own", path: "/v1/access-requests?user_id=" + student.ID, token: otherToken, wantData: marchallList(t)},
		{name: "students cannot approve", method: http.MethodPost, path: "/v1/access-requests/" + reqID + "/approve", token: studentToken, body: review, wantCode: http.StatusForbidden},
	})

	rec = a.do(http.MethodGet, "/v1/access-requests?status=pending&course_id="+c.ID, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), field(rec, "#").Int())
	assert.Equal(t, reqID, field(rec, "0.id").String())

	rec = a.do(http.MethodPost, "/v1/access-requests/"+reqID+"/approve", adminToken, review)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, enrollment.RequestApproved, field(rec, "request.status").String())
	assert.Equal(t, admin.ID, field(rec, "request.reviewed_by").String())
	assert.Equal(t, enrollment.StatusActive, field(rec, "enrollment.status").String())
	enrID := field(rec, "enrollment.id").String()

	a.run(t, []httpTest{
		{name: "approved twice", method: http.MethodPost, path: "/v1/access-requests/" + reqID + "/approve", token: adminToken, body: review, wantCode: http.StatusBadRequest},
		{name: "rejecting an approved request", method: http.MethodPost, path: "/v1/access-requests/" + reqID + "/reject", token: adminToken, body: review, wantCode: http.StatusBadRequest},
		{name: "already enrolled", method: http.MethodPost, path: "/v1/courses/" + c.ID + "/access-requests", token: studentToken, body: ask, wantCode: http.StatusBadRequest},
		{name: "owner reads enrollment", path: "/v1/enrollments/" + enrID, token: studentToken},
		{name: "others cannot read enrollment", path: "/v1/enrollments/" + enrID, token: otherToken, wantCode: http.StatusNotFound},
	})

	rec = a.do(http.MethodGet, "/v1/enrollments", studentToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), field(rec, "#").Int())
	assert.Equal(t, c.ID, field(rec, "0.course_id").String())

	ns, err := a.NotifSvc.List(context.Background(), notification.QueryFilter{UserID: student.ID})
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, notification.TypeAccessApproved, ns[0].Type)
}

func Test_enrollmentApi_reject(t *testing.T) {
	a := newApp(t)
	admin := a.Admin(t, "ada")
	student := a.Student(t, "bob")
	c, _ := a.CourseWithLessons(t, admin.ID, 0, 1)

	req, err := a.EnrollSvc.RequestAccess(context.Background(), student, c.ID, enrollment.NewAccessRequest{})
	require.NoError(t, err)

	rec := a.do(http.MethodPost, "/v1/access-requests/"+req.ID+"/reject", a.token(t, admin),
		marchallObj(t, enrollment.Review{Note: "Cohort is full."}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, enrollment.RequestRejected, field(rec, "status").String())

	ns, err := a.NotifSvc.List(context.Background(), notification.QueryFilter{UserID: student.ID})
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, notification.TypeAccessRejected, ns[0].Type)
	assert.Contains(t, ns[0].Message, "Cohort is full.")

	// a new request may follow a rejection
	_, err = a.EnrollSvc.RequestAccess(context.Background(), student, c.ID, enrollment.NewAccessRequest{})
	assert.NoError(t, err)
}

func Test_enrollmentApi_concurrentApprovals(t *testing.T) {
	a := newApp(t)
	admins := []string{"ada", "alan", "barbara", "dennis"}
	student := a.Student(t, "bob")
	c, _ := a.CourseWithLessons(t, a.Admin(t, "root").ID, 0, 1)

	req, err := a.EnrollSvc.RequestAccess(context.Background(), student, c.ID, enrollment.NewAccessRequest{})
	require.NoError(t, err)

	tokens := make([]string, 0, len(admins))
	for _, uname := range admins {
		tokens = append(tokens, a.token(t, a.Admin(t, uname)))
	}

	codes := make([]int, len(tokens))
	var wg sync.WaitGroup
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			codes[i] = a.do(http.MethodPost, "/v1/access-requests/"+req.ID+"/approve", token, []byte(`{}`)).Code
		}(i, token)
	}
	wg.Wait()

	var ok, conflicts int
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusBadRequest:
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, len(tokens)-1, conflicts)

	n, err := a.EnrollSvc.Count(context.Background(), enrollment.QueryFilter{CourseID: c.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func Test_enrollmentApi_directEnrollment(t *testing.T) {
	a := newApp(t)
	admin := a.Admin(t, "ada")
	student := a.Student(t, "bob")
	c, _ := a.CourseWithLessons(t, admin.ID, 0, 1)
	adminToken := a.token(t, admin)

	body := marchallObj(t, enrollment.NewEnrollment{UserID: student.ID, CourseID: c.ID})
	rec := a.do(http.MethodPost, "/v1/enrollments", adminToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	enrID := field(rec, "id").String()

	a.run(t, []httpTest{
		{name: "students cannot enroll", method: http.MethodPost, path: "/v1/enrollments", token: a.token(t, student), body: body, wantCode: http.StatusForbidden},
		{name: "unknown student", method: http.MethodPost, path: "/v1/enrollments", token: adminToken,
			body: marchallObj(t, enrollment.NewEnrollment{UserID: "00000000-0000-0000-0000-000000000000", CourseID: c.ID}), wantCode: http.StatusBadRequest},
		{name: "filter by course", path: "/v1/enrollments?course_id=" + c.ID, token: adminToken},
		{name: "unenroll", method: http.MethodDelete, path: "/v1/enrollments/" + enrID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "unenroll twice", method: http.MethodDelete, path: "/v1/enrollments/" + enrID, token: adminToken, wantCode: http.StatusNotFound},
	})
}
