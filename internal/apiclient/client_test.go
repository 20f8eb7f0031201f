package apiclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therapycompanion/reminders/internal/apiclient"
	"github.com/therapycompanion/reminders/internal/apitest"
	"github.com/therapycompanion/reminders/internal/model"
	"github.com/therapycompanion/reminders/internal/service"
)

func loggedIn(t *testing.T) (*apitest.Env, *apiclient.Client) {
	t.Helper()
	env := apitest.New(t)

	sess, err := apiclient.NewSession(nil)
	require.NoError(t, err)
	c := apiclient.New(env.URL, sess)

	_, err = c.Login(context.Background(), apitest.Email, apitest.Password)
	require.NoError(t, err)
	return env, c
}

func TestClient_LoginStartsSession(t *testing.T) {
	env := apitest.New(t)
	sess, err := apiclient.NewSession(nil)
	require.NoError(t, err)
	c := apiclient.New(env.URL, sess)

	_, err = c.Login(context.Background(), apitest.Email, "wrong")
	require.Error(t, err)
	assert.Equal(t, "Incorrect email or password", err.Error())
	assert.True(t, apiclient.IsStatus(err, http.StatusUnauthorized))
	assert.False(t, sess.Authenticated())

	tok, err := c.Login(context.Background(), apitest.Email, apitest.Password)
	require.NoError(t, err)
	assert.Equal(t, env.Therapist.ID, tok.TherapistID)
	assert.True(t, sess.Authenticated())
	assert.Equal(t, "Noa Levi", sess.Credentials().FullName)

	require.NoError(t, c.Logout())
	assert.False(t, sess.Authenticated())
}

func TestClient_ComposeAndManage(t *testing.T) {
	ctx := context.Background()
	env, c := loggedIn(t)

	gen, err := c.GenerateContent(ctx, apiclient.GenerateRequest{
		PatientID: env.Patient.ID, MessageType: model.TaskReminder, Context: map[string]string{"task": "journaling"},
	})
	require.NoError(t, err)
	assert.Contains(t, gen.Content, "journaling")

	now, err := c.Compose(ctx, apiclient.ComposeRequest{
		PatientID: env.Patient.ID, MessageType: model.TaskReminder, Content: gen.Content,
	})
	require.NoError(t, err)
	assert.Equal(t, model.Sent, now.Status)
	assert.Nil(t, now.ScheduledSendAt)

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	later, err := c.Compose(ctx, apiclient.ComposeRequest{
		PatientID: env.Patient.ID, MessageType: model.CheckIn, Content: "Checking in", SendAt: &at,
	})
	require.NoError(t, err)
	assert.Equal(t, model.Scheduled, later.Status)
	require.NotNil(t, later.ScheduledSendAt)
	assert.True(t, at.Equal(*later.ScheduledSendAt))

	content := "Checking in on you"
	edited, err := c.UpdateMessage(ctx, later.ID, apiclient.UpdateRequest{Content: &content, ExpectedVersion: &later.Version})
	require.NoError(t, err)
	assert.Equal(t, content, edited.Content)

	_, err = c.UpdateMessage(ctx, later.ID, apiclient.UpdateRequest{Content: &content, ExpectedVersion: &later.Version})
	assert.True(t, apiclient.IsStatus(err, http.StatusConflict))

	_, err = c.Cancel(ctx, later.ID, &later.Version)
	assert.True(t, apiclient.IsStatus(err, http.StatusConflict), "version was bumped by the edit")

	cancelled, err := c.Cancel(ctx, later.ID, &edited.Version)
	require.NoError(t, err)
	assert.Equal(t, model.Cancelled, cancelled.Status)

	st := model.Cancelled
	list, err := c.ListMessages(ctx, apiclient.Filter{Status: &st})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, later.ID, list[0].ID)

	forPatient, err := c.ListPatientMessages(ctx, env.Patient.ID)
	require.NoError(t, err)
	assert.Len(t, forPatient, 2)

	got, err := c.GetMessage(ctx, now.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Sent, got.Status)
}

func TestClient_SendOrSchedule(t *testing.T) {
	ctx := context.Background()
	env, c := loggedIn(t)

	draft, err := env.Messages.CreateDraft(ctx, env.Therapist.ID, service.GenerateInput{
		PatientID: env.Patient.ID, MessageType: model.FollowUp,
	})
	require.NoError(t, err)

	m, err := c.SendOrSchedule(ctx, draft.ID, apiclient.SendOrScheduleRequest{Content: "Good luck this week"})
	require.NoError(t, err)
	assert.Equal(t, model.Sent, m.Status)
	assert.Equal(t, "Good luck this week", env.WhatsApp.Sent()[0].Body)
}

func TestClient_Patients(t *testing.T) {
	ctx := context.Background()
	_, c := loggedIn(t)

	no := false
	p, err := c.CreatePatient(ctx, apiclient.PatientRequest{FullName: "Yael", Phone: "0541234567", AllowAIContact: &no})
	require.NoError(t, err)
	assert.Equal(t, "+972541234567", p.Phone)
	assert.False(t, p.AllowAIContact)

	ps, err := c.ListPatients(ctx)
	require.NoError(t, err)
	assert.Len(t, ps, 2)

	got, err := c.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Yael", got.FullName)

	_, err = c.GetPatient(ctx, 9999)
	assert.True(t, apiclient.IsStatus(err, http.StatusNotFound))
	assert.Equal(t, "patient not found", err.Error())
}

func TestClient_UnauthorizedExpiresSession(t *testing.T) {
	env := apitest.New(t)
	store := apiclient.FileStore{Path: filepath.Join(t.TempDir(), "session.json")}
	require.NoError(t, store.Save(apiclient.Credentials{AccessToken: "stale-token"}))

	sess, err := apiclient.NewSession(store)
	require.NoError(t, err)
	require.True(t, sess.Authenticated())

	var expiredAt string
	sess.OnExpire(func(returnTo string) { expiredAt = returnTo })
	sess.Visit("/history?patient=1")

	c := apiclient.New(env.URL, sess)
	_, err = c.ListMessages(context.Background(), apiclient.Filter{})
	require.True(t, apiclient.IsStatus(err, http.StatusUnauthorized))

	assert.False(t, sess.Authenticated())
	assert.Equal(t, "/history?patient=1", expiredAt)

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, persisted.AccessToken)
	assert.Equal(t, "/history?patient=1", persisted.ReturnTo)

	_, err = c.Login(context.Background(), apitest.Email, apitest.Password)
	require.NoError(t, err)
	assert.Equal(t, "/history?patient=1", sess.ReturnTo())
	assert.Empty(t, sess.ReturnTo())

	restored, err := apiclient.NewSession(store)
	require.NoError(t, err)
	assert.True(t, restored.Authenticated())
}

func TestClient_GenericErrorWithoutDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>upstream down</html>"))
	}))
	t.Cleanup(srv.Close)

	sess, err := apiclient.NewSession(nil)
	require.NoError(t, err)
	_, err = apiclient.New(srv.URL, sess).ListPatients(context.Background())
	require.Error(t, err)
	assert.Equal(t, apiclient.GenericError, err.Error())
	assert.True(t, apiclient.IsStatus(err, http.StatusBadGateway))
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := apiclient.FileStore{Path: path}

	c, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, apiclient.Credentials{}, c)

	require.NoError(t, store.Save(apiclient.Credentials{AccessToken: "t", Email: "a@b.c"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	c, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "t", c.AccessToken)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
