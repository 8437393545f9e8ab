package emailsvc

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/luxaar/luxaar/core"
)

func TestConsoleServiceMock(t *testing.T) {
	ResetSentMessages()
	svc := NewConsoleServiceMock()

	svc.SendMessages(
		&core.EmailMessage{To: []mail.Address{{Address: "ada@luxaar.test"}}, Subject: "Hi", BodyStr: "hello"},
		&core.EmailMessage{Subject: "nobody"}, // no recipients: dropped
	)

	sent := Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "hello", sent[0].TextContent)
	assert.Equal(t, "ada@luxaar.test", sent[0].To[0].Address)
}

func TestSendgridService_send(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, endpoint, r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	svc := &sendgridService{
		key:        "sg-key",
		host:       srv.URL,
		from:       nil,
		subjPrefix: "[Luxaar] ",
		logger:     core.NopLogger{},
	}
	from := core.Conf.DefaultFromEmail()
	svc.from = svc.getSGEmail(from)

	err := svc.send(core.EmailMessage{
		To:          []mail.Address{{Name: "Ada", Address: "ada@luxaar.test"}},
		Subject:     "Access approved",
		TextContent: "welcome",
	})
	require.NoError(t, err)
	require.True(t, json.Valid(body))
	assert.Equal(t, "[Luxaar] Access approved", gjson.GetBytes(body, "personalizations.0.subject").String())
	assert.Equal(t, "ada@luxaar.test", gjson.GetBytes(body, "personalizations.0.to.0.email").String())
	assert.Equal(t, "text/plain", gjson.GetBytes(body, "content.0.type").String())
	assert.False(t, gjson.GetBytes(body, "content.1").Exists())

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad"}]}`))
	}))
	defer failing.Close()
	svc.host = failing.URL
	err = svc.send(core.EmailMessage{To: []mail.Address{{Address: "ada@luxaar.test"}}, TextContent: "x"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "400"))
}
