package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-replica-backup/internal/backup"
	"mysql-replica-backup/internal/config"
	"mysql-replica-backup/internal/dump"
)

type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	status int
}

func (c *capture) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		status := c.status
		c.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func failedRun() *backup.RunResult {
	start := time.Date(2024, 3, 4, 2, 0, 0, 0, time.UTC)
	return &backup.RunResult{
		ID:         "run-1",
		Server:     "replica-1",
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Outcomes: []dump.Outcome{
			{Database: "alpha", Success: true, SizeBytes: 2048},
			{Database: "beta", Error: "Access denied"},
		},
		Failures: []backup.Failure{{Database: "beta", Error: "Access denied"}},
	}
}

func successfulRun() *backup.RunResult {
	r := failedRun()
	r.Outcomes = r.Outcomes[:1]
	r.Failures = nil
	r.Success = true
	return r
}

func TestShouldNotify(t *testing.T) {
	tests := []struct {
		on      string
		success bool
		want    bool
	}{
		{config.NotifyAlways, true, true},
		{config.NotifyAlways, false, true},
		{config.NotifyOnFailure, true, false},
		{config.NotifyOnFailure, false, true},
		{config.NotifyNever, false, false},
		{"", false, true},
	}

	for _, tt := range tests {
		n := NewWithChannels(tt.on, nil)
		assert.Equal(t, tt.want, n.ShouldNotify(tt.success), "on=%q success=%v", tt.on, tt.success)
	}
}

func TestNotify_Webhook(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	n := New(config.NotifyConfig{On: config.NotifyOnFailure, WebhookURL: srv.URL}, nil)
	assert.Equal(t, 0, n.Notify(context.Background(), failedRun()))
	require.Equal(t, 1, c.count())

	var msg Message
	require.NoError(t, json.Unmarshal(c.bodies[0], &msg))
	assert.Equal(t, "run-1", msg.RunID)
	assert.Equal(t, "replica-1", msg.Server)
	assert.False(t, msg.Success)
	assert.Equal(t, 2, msg.Databases)
	assert.Equal(t, 1, msg.Succeeded)
	assert.Equal(t, int64(2048), msg.TotalBytes)
	assert.Equal(t, []backup.Failure{{Database: "beta", Error: "Access denied"}}, msg.Failures)
	assert.Contains(t, msg.Text, "completed with 1 failure(s)")
	assert.Contains(t, msg.Text, "beta: Access denied")
}

func TestNotify_Slack(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	n := New(config.NotifyConfig{On: config.NotifyAlways, SlackURL: srv.URL}, nil)
	assert.Equal(t, 0, n.Notify(context.Background(), successfulRun()))
	require.Equal(t, 1, c.count())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(c.bodies[0], &payload))
	assert.Equal(t, ":white_check_mark: Backup of replica-1 succeeded: 1 database(s), 2.0 kB in 1m0s", payload["text"])
}

func TestNotify_SkipsSuccessOnFailurePolicy(t *testing.T) {
	c := &capture{}
	srv := c.server(t)

	n := New(config.NotifyConfig{On: config.NotifyOnFailure, WebhookURL: srv.URL, SlackURL: srv.URL}, nil)
	assert.Equal(t, 0, n.Notify(context.Background(), successfulRun()))
	assert.Equal(t, 0, c.count())
}

func TestNotify_ErrorStatusIsCounted(t *testing.T) {
	c := &capture{status: http.StatusInternalServerError}
	srv := c.server(t)

	n := New(config.NotifyConfig{On: config.NotifyAlways, WebhookURL: srv.URL, SlackURL: srv.URL}, nil)
	assert.Equal(t, 2, n.Notify(context.Background(), failedRun()))
	assert.Equal(t, 2, c.count())
}

type failingChannel struct{}

func (failingChannel) Name() string { return "broken" }

func (failingChannel) Send(context.Context, Message) error { return errors.New("unreachable") }

type recordingChannel struct{ got []Message }

func (r *recordingChannel) Name() string { return "recording" }

func (r *recordingChannel) Send(_ context.Context, msg Message) error {
	r.got = append(r.got, msg)
	return nil
}

func TestNotify_ContinuesAfterChannelError(t *testing.T) {
	rec := &recordingChannel{}
	n := NewWithChannels(config.NotifyAlways, nil, failingChannel{}, rec)

	assert.Equal(t, 1, n.Notify(context.Background(), failedRun()))
	require.Len(t, rec.got, 1)
	assert.Equal(t, "run-1", rec.got[0].RunID)
}

func TestNotify_NoChannelsOrResult(t *testing.T) {
	assert.Equal(t, 0, New(config.NotifyConfig{On: config.NotifyAlways}, nil).Notify(context.Background(), failedRun()))
	assert.Equal(t, 0, NewWithChannels(config.NotifyAlways, nil, failingChannel{}).Notify(context.Background(), nil))
}
