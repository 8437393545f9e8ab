package echoapi_test

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/luxaar/luxaar/apps/api/echo"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/core/user"
	"github.com/luxaar/luxaar/tests"
)

func Test_userApi_signupApproveLogin(t *testing.T) {
	a := newApp(t)
	admin := a.Admin(t, "ada")

	signup := marchallObj(t, user.Signup{
		Name:            "Grace Hopper",
		Email:           "Grace@Luxaar.test",
		Password:        testutil.DefaultPassword,
		PasswordConfirm: testutil.DefaultPassword,
	})
	login := marchallObj(t, LoginRequest{Username: "grace@luxaar.test", Password: testutil.DefaultPassword})

	rec := a.do(http.MethodPost, "/v1/users/signup", "", signup)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.False(t, field(rec, "is_active").Bool())
	assert.Equal(t, "grace@luxaar.test", field(rec, "email").String())
	assert.Equal(t, []interface{}{user.RoleStudent}, field(rec, "roles").Value())
	studentID := field(rec, "id").String()

	// admins hear about the pending account
	ns, err := a.NotifSvc.List(context.Background(), notification.QueryFilter{UserID: admin.ID})
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, notification.TypeSignupPending, ns[0].Type)

	a.run(t, []httpTest{
		{name: "duplicate email", method: http.MethodPost, path: "/v1/users/signup", body: signup, wantCode: http.StatusBadRequest},
		{
			name: "pending account cannot log in", method: http.MethodPost, path: "/v1/users/login", body: login,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account is not active"}),
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/v1/users/login",
			body:     marchallObj(t, LoginRequest{Username: "grace@luxaar.test", Password: "nope"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "students cannot approve", method: http.MethodPost, path: "/v1/users/" + studentID + "/approve",
			token: a.token(t, a.Student(t, "eve")), wantCode: http.StatusNotFound,
		},
	})

	rec = a.do(http.MethodPost, "/v1/users/"+studentID+"/approve", a.token(t, admin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, field(rec, "is_active").Bool())

	rec = a.do(http.MethodPost, "/v1/users/login", "", login)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := field(rec, "token").String()
	require.NotEmpty(t, token)

	rec = a.do(http.MethodGet, "/v1/users/me", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, studentID, field(rec, "id").String())
	assert.True(t, field(rec, "last_login").Exists())
}

func Test_userApi_ownerSignupIsActiveAdmin(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, "/v1/users/signup", "", marchallObj(t, user.Signup{
		Name:            "Owner",
		Email:           "owner@luxaar.test",
		Password:        testutil.DefaultPassword,
		PasswordConfirm: testutil.DefaultPassword,
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, field(rec, "is_active").Bool())
	assert.Contains(t, field(rec, "roles").Value(), user.RoleAdmin)
}

func Test_userApi_userQuery(t *testing.T) {
	a := newApp(t)

	path := func(search string, isActive *bool, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if isActive != nil {
			v.Add("is_active", strconv.FormatBool(*isActive))
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		v.Add("ordering", "email")
		return "/v1/users?" + v.Encode()
	}
	bPtr := func(b bool) *bool { return &b }

	now := time.Now()
	admin := testutil.CreateUser(t, a.UserRepo, "Admin", "admin", "admin@luxaar.test", testutil.DefaultPassword,
		[]string{user.RoleAdmin}, true, now)
	student := testutil.CreateUser(t, a.UserRepo, "Hero", "hero", "hero@luxaar.test", "", []string{user.RoleStudent}, true, now)
	pending := testutil.CreateUser(t, a.UserRepo, "N Dog", "ndog", "ndog@luxaar.test", "", []string{user.RoleStudent}, false, now)

	adminToken := a.token(t, admin)

	a.run(t, []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: a.token(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "all", path: path("", nil), token: adminToken, wantData: marchallList(t, admin, student, pending)},
		{name: "search", path: path("HER", nil), token: adminToken, wantData: marchallList(t, student)},
		{name: "search (unknown)", path: path("lol", nil), token: adminToken, wantData: marchallList(t)},
		{name: "pending", path: path("", bPtr(false)), token: adminToken, wantData: marchallList(t, pending)},
		{name: "role=student:", path: path("", nil, user.RoleStudent), token: adminToken, wantData: marchallList(t, student, pending)},
	})
}

func Test_userApi_inactiveTokenIsRefused(t *testing.T) {
	a := newApp(t)
	usr := testutil.CreateUser(t, a.UserRepo, "Zed", "zed", "zed@luxaar.test", "", []string{user.RoleStudent}, false)

	a.run(t, []httpTest{
		{
			name: "inactive", path: "/v1/users/me", token: a.token(t, usr),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account is not active"}),
		},
		{name: "garbage token", path: "/v1/users/me", token: "not.a.jwt", wantCode: http.StatusUnauthorized},
	})
}
