package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewflow/internal/config"
	"reviewflow/internal/db"
	"reviewflow/internal/domain"
	"reviewflow/internal/events"
	"reviewflow/internal/metrics"
	"reviewflow/internal/migrate"
	"reviewflow/internal/repo"
	"reviewflow/internal/retry"
)

var fastRetry = retry.Policy{InitialInterval: time.Millisecond, MaxElapsed: 20 * time.Millisecond}

func openRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return repo.Repo{DB: conn}
}

func appendEvent(t *testing.T, r repo.Repo, typ, itemID string, from, to domain.Status) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = events.Writer{}.Append(ctx, tx, events.Transition{
		Type: typ, ItemID: itemID, ActorID: "tester", OldStatus: from, NewStatus: to,
		Assignees: []string{"u1"}, Payload: events.EventPayload{"note": "n"},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

type recordingSink struct {
	name   string
	mu     sync.Mutex
	got    []Message
	failOn map[int64]int
}

func (s *recordingSink) Name() string { return s.name }
func (s *recordingSink) Accepts(string) bool { return true }

func (s *recordingSink) Publish(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[msg.ID] > 0 {
		s.failOn[msg.ID]--
		return errors.New("sink down")
	}
	s.got = append(s.got, msg)
	return nil
}

func (s *recordingSink) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, m := range s.got {
		out = append(out, m.ID)
	}
	return out
}

func TestNewSinkSkipsHistory(t *testing.T) {
	r := openRepo(t)
	appendEvent(t, r, "item.created", "a", "", domain.StatusPending)
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(r, []Sink{sink}, WithRetry(fastRetry))

	require.NoError(t, d.DispatchOnce(context.Background()))
	assert.Empty(t, sink.ids())

	appendEvent(t, r, "item.assigned", "a", domain.StatusPending, domain.StatusAssigned)
	require.NoError(t, d.DispatchOnce(context.Background()))
	assert.Equal(t, []int64{2}, sink.ids())

	cur, found, err := r.DeliveryCursor(context.Background(), "rec")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), cur)
}

func TestFailedDeliveryIsRetriedNextRound(t *testing.T) {
	r := openRepo(t)
	sink := &recordingSink{name: "rec", failOn: map[int64]int{2: 100}}
	m := metrics.New()
	d := NewDispatcher(r, []Sink{sink}, WithRetry(fastRetry), WithMetrics(m))
	require.NoError(t, d.DispatchOnce(context.Background()))

	appendEvent(t, r, "item.created", "a", "", domain.StatusPending)
	appendEvent(t, r, "item.assigned", "a", domain.StatusPending, domain.StatusAssigned)
	appendEvent(t, r, "item.completed", "a", domain.StatusAssigned, domain.StatusCompleted)

	require.NoError(t, d.DispatchOnce(context.Background()))
	assert.Equal(t, []int64{1}, sink.ids())
	cur, ok := d.Cursor("rec")
	require.True(t, ok)
	assert.Equal(t, int64(1), cur)

	sink.mu.Lock()
	sink.failOn = nil
	sink.mu.Unlock()

	// A restarted dispatcher resumes from the persisted cursor.
	d2 := NewDispatcher(r, []Sink{sink}, WithRetry(fastRetry))
	require.NoError(t, d2.DispatchOnce(context.Background()))
	assert.Equal(t, []int64{1, 2, 3}, sink.ids())
}

func TestWebhookSinkPostsEvents(t *testing.T) {
	r := openRepo(t)
	var mu sync.Mutex
	var got []Message
	var headers []http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var msg Message
		if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, msg)
		headers = append(headers, req.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := NewWebhookSink(config.WebhookConfig{Name: "audit", URL: srv.URL, Secret: "s3cret", Events: []string{"item.assigned"}})
	d := NewDispatcher(r, []Sink{hook}, WithRetry(fastRetry))
	require.NoError(t, d.DispatchOnce(context.Background()))

	appendEvent(t, r, "item.created", "a", "", domain.StatusPending)
	appendEvent(t, r, "item.assigned", "a", domain.StatusPending, domain.StatusAssigned)
	require.NoError(t, d.DispatchOnce(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "item.assigned", got[0].Type)
	assert.Equal(t, domain.StatusPending, got[0].OldStatus)
	assert.Equal(t, domain.StatusAssigned, got[0].NewStatus)
	assert.Equal(t, []string{"u1"}, got[0].Assignees)
	assert.JSONEq(t, `{"note":"n"}`, string(got[0].Payload))
	assert.Equal(t, "item.assigned", headers[0].Get("X-Reviewflow-Event"))
	assert.Equal(t, "2", headers[0].Get("X-Reviewflow-Delivery"))
	assert.Equal(t, "s3cret", headers[0].Get("X-Reviewflow-Secret"))

	cur, ok := d.Cursor("webhook:audit")
	require.True(t, ok)
	assert.Equal(t, int64(2), cur)
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	flushes  int
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !json.Valid(data) {
		return errors.New("invalid json")
	}
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakePublisher) FlushWithContext(context.Context) error {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
	return nil
}

func TestNATSSinkSubjects(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "compliance.reviews.")
	require.NoError(t, sink.Publish(context.Background(), Message{ID: 1, Type: "item.completed"}))
	assert.Equal(t, []string{"compliance.reviews.item.completed"}, pub.subjects)
	assert.Equal(t, 1, pub.flushes)
	assert.Equal(t, "reviewflow.item.created", NewNATSSink(pub, "").Subject("item.created"))
}

func TestBuildSinks(t *testing.T) {
	off := false
	cfg := config.NotificationsConfig{
		Log: true,
		Webhooks: []config.WebhookConfig{
			{Name: "on", URL: "http://example.invalid/hook"},
			{Name: "off", URL: "http://example.invalid/off", Enabled: &off},
		},
	}
	sinks := BuildSinks(cfg, nil, nil)
	var names []string
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"log", "webhook:on"}, names)

	sinks = BuildSinks(cfg, &fakePublisher{}, nil)
	assert.Equal(t, "nats", sinks[len(sinks)-1].Name())
}

func TestRunWakesEarly(t *testing.T) {
	r := openRepo(t)
	sink := &recordingSink{name: "rec"}
	d := NewDispatcher(r, []Sink{sink}, WithRetry(fastRetry), WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := d.Cursor("rec")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	appendEvent(t, r, "item.created", "a", "", domain.StatusPending)
	d.Wake()
	d.Wake()
	require.Eventually(t, func() bool { return len(sink.ids()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
