package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"heartbeat-backend/internal/adapters/events"
	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/queue"
	"heartbeat-backend/internal/usecase/notify"
)

type chanQueue struct {
	events chan domain.TriggerEvent
	mu     sync.Mutex
	acks   []bool
}

func (q *chanQueue) Enqueue(_ context.Context, e domain.TriggerEvent) error {
	q.events <- e
	return nil
}

func (q *chanQueue) Receive(ctx context.Context) (domain.TriggerEvent, domain.TriggerAckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.TriggerEvent{}, nil, ctx.Err()
	case e := <-q.events:
		return e, func(success bool) error {
			q.mu.Lock()
			defer q.mu.Unlock()
			q.acks = append(q.acks, success)
			return nil
		}, nil
	}
}

func (q *chanQueue) ackLog() []bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]bool(nil), q.acks...)
}

type stubHandler struct {
	mu    sync.Mutex
	users []string
	fail  map[string]bool
}

func (h *stubHandler) HandleTrigger(_ context.Context, userID string) (domain.FanoutResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users = append(h.users, userID)
	if h.fail[userID] {
		return domain.FanoutResult{}, errors.New("followers unavailable")
	}
	return domain.FanoutResult{Sent: 1}, nil
}

type pendingStore struct {
	pending []domain.NotificationTrigger
	err     error
}

func (p *pendingStore) SaveTrigger(context.Context, domain.NotificationTrigger) error { return nil }
func (p *pendingStore) GetTrigger(context.Context, string) (domain.NotificationTrigger, error) {
	return domain.NotificationTrigger{}, domain.ErrNotFound
}
func (p *pendingStore) DeleteTrigger(context.Context, domain.NotificationTrigger) error { return nil }
func (p *pendingStore) ListPendingTriggers(context.Context) ([]domain.NotificationTrigger, error) {
	return p.pending, p.err
}

func TestWorkerAcksHandledAndRequeuesFailed(t *testing.T) {
	q := &chanQueue{events: make(chan domain.TriggerEvent, 3)}
	h := &stubHandler{fail: map[string]bool{"bad": true}}
	w := &triggerWorker{log: zerolog.Nop(), queue: q, handler: h, backoff: time.Millisecond}

	_ = q.Enqueue(context.Background(), domain.TriggerEvent{UserID: "ok"})
	_ = q.Enqueue(context.Background(), domain.TriggerEvent{UserID: ""})
	_ = q.Enqueue(context.Background(), domain.TriggerEvent{UserID: "bad"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(q.ackLog()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("не дождались подтверждений: %v", q.ackLog())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	acks := q.ackLog()
	want := []bool{true, true, false}
	for i := range want {
		if acks[i] != want[i] {
			t.Fatalf("подтверждение %d: ожидали %v, получили %v", i, want[i], acks[i])
		}
	}
	if len(h.users) != 2 {
		t.Fatalf("событие без пользователя не должно обрабатываться: %v", h.users)
	}
}

func TestCatchUpHandlesPendingTriggers(t *testing.T) {
	h := &stubHandler{fail: map[string]bool{"b": true}}
	store := &pendingStore{pending: []domain.NotificationTrigger{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}}}
	w := &triggerWorker{log: zerolog.Nop(), events: store, handler: h}

	if got := w.CatchUp(context.Background()); got != 2 {
		t.Fatalf("ожидали 2 обработанных триггера, получили %d", got)
	}
	if len(h.users) != 3 {
		t.Fatalf("ожидали попытку для каждого триггера, получили %v", h.users)
	}
}

func TestCatchUpStoreError(t *testing.T) {
	h := &stubHandler{}
	w := &triggerWorker{log: zerolog.Nop(), events: &pendingStore{err: errors.New("scan failed")}, handler: h}
	if got := w.CatchUp(context.Background()); got != 0 {
		t.Fatalf("ожидали 0, получили %d", got)
	}
}

type flakyFollowers struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyFollowers) ListFollowers(context.Context, string) ([]domain.FollowerEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("followers unavailable")
	}
	return []domain.FollowerEdge{{FollowerID: "bob", PushToken: "tok", NotificationEnabled: true}}, nil
}

type noUsers struct{}

func (noUsers) GetUser(context.Context, string) (domain.User, error) {
	return domain.User{}, domain.ErrNotFound
}
func (noUsers) DisplayNames(context.Context, []string) (map[string]string, error) { return nil, nil }

type countingSender struct {
	mu   sync.Mutex
	sent int
}

func (c *countingSender) Send(context.Context, domain.PushMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	return nil
}

func (c *countingSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func TestWorkerRedeliversAfterFollowerFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := events.NewRedis(client)
	q := queue.NewRedisTriggerQueue(client, "queue:triggers")
	followers := &flakyFollowers{}
	sender := &countingSender{}
	service := notify.NewService(store, followers, noUsers{}, sender, nil, nil, zerolog.Nop(), notify.Config{})

	ctx := context.Background()
	trigger := domain.NotificationTrigger{UserID: "alice", TimestampMillis: 1000, Nonce: "n1"}
	if err := store.SaveHeartbeat(ctx, domain.HeartbeatSample{UserID: "alice", BPM: 80, TimestampMillis: 1000}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := store.SaveTrigger(ctx, trigger); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := q.Enqueue(ctx, domain.TriggerEvent{UserID: "alice", TimestampMillis: 1000}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	w := &triggerWorker{log: zerolog.Nop(), queue: q, events: store, handler: service, backoff: time.Millisecond}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Run(runCtx)
		close(done)
	}()

	deadline := time.After(3 * time.Second)
	for sender.count() < 1 {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("повторная доставка не привела к рассылке")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if sender.count() != 1 {
		t.Fatalf("ожидали одно уведомление, получили %d", sender.count())
	}
	if _, err := store.GetTrigger(ctx, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("после успешной повторной обработки триггер должен быть удалён: %v", err)
	}
}
