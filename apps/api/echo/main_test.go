package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/tidwall/gjson"

	. "github.com/luxaar/luxaar/apps/api/echo"
	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/aichat"
	"github.com/luxaar/luxaar/core/user"
	"github.com/luxaar/luxaar/services/metrics"
	"github.com/luxaar/luxaar/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

type app struct {
	*testutil.Env
	srv *Server
}

func newApp(t *testing.T, providers ...aichat.Provider) *app {
	return newAppWithConf(t, nil, providers...)
}

// newAppWithConf lets configure adjust the config before the server reads it.
func newAppWithConf(t *testing.T, configure func(*core.Config), providers ...aichat.Provider) *app {
	env := testutil.NewEnv(t, providers...)
	if configure != nil {
		configure(env.Conf)
	}
	srv := NewServer(
		"",  /* addr */
		nil, /* shutdown */
		&Deps{
			Conf:        env.Conf,
			Logger:      core.NopLogger{},
			Validate:    env.Validate,
			Translator:  env.Translator,
			Metrics:     metrics.New(),
			UserSvc:     env.UserSvc,
			CourseSvc:   env.CourseSvc,
			EnrollSvc:   env.EnrollSvc,
			ProgressSvc: env.ProgressSvc,
			NotifSvc:    env.NotifSvc,
			SupportSvc:  env.SupportSvc,
			AIChatSvc:   env.AIChatSvc,
		},
	)
	return &app{Env: env, srv: srv}
}

func (a *app) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(a.Conf, GetUserClaims(a.Conf, usr))
	if err != nil {
		t.Fatalf("token(): %v", err)
	}
	return token
}

// do serves a single request and returns the recorder.
func (a *app) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	a.srv.ServeHTTP(rec, req)
	return rec
}

func (a *app) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			if tt.wantCode == 0 {
				tt.wantCode = http.StatusOK
			}
			checkCodeAndData(t, tt, a.do(method, tt.path, tt.token, tt.body))
		})
	}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

// checkCodeAndData compares the status code and, when wantData is set, the JSON body.
func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func field(rec *httptest.ResponseRecorder, path string) gjson.Result {
	return gjson.GetBytes(rec.Body.Bytes(), path)
}
