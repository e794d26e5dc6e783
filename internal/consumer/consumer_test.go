package consumer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/pinnotify/internal/events"
	"github.com/charlesng35/pinnotify/internal/services"
)

type fakeProcessor struct {
	mu       sync.Mutex
	active   map[string]int
	overlap  atomic.Bool
	seen     []events.Event
	err      error
	delay    time.Duration
	ctxAlive atomic.Bool
	panicFor string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{active: map[string]int{}}
}

func (p *fakeProcessor) CreateAndSendNotification(ctx context.Context, ev events.Event) (services.Outcome, error) {
	recipient := ev.Header().RecipientID
	if p.panicFor != "" && ev.Header().ActorID == p.panicFor {
		panic("boom")
	}

	p.mu.Lock()
	p.active[recipient]++
	if p.active[recipient] > 1 {
		p.overlap.Store(true)
	}
	p.mu.Unlock()

	time.Sleep(p.delay)
	p.ctxAlive.Store(ctx.Err() == nil)

	p.mu.Lock()
	p.active[recipient]--
	p.seen = append(p.seen, ev)
	p.mu.Unlock()

	if p.err != nil {
		return "", p.err
	}
	return services.OutcomeCreated, nil
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func follow(actor, recipient string) events.UserEvent {
	return events.UserEvent{Envelope: events.Envelope{Type: "USER_FOLLOWED", ActorID: actor, RecipientID: recipient, Timestamp: time.Now().UTC()}}
}

func TestPartitionIsStable(t *testing.T) {
	require.Equal(t, Partition("user-1", 8), Partition("user-1", 8))
	require.Zero(t, Partition("user-1", 1))
	require.Zero(t, Partition("user-1", 0))
	for _, id := range []string{"a", "b", "c", "user-42"} {
		p := Partition(id, 5)
		require.GreaterOrEqual(t, p, 0)
		require.Less(t, p, 5)
	}
	require.Equal(t, "notifications.p3", PartitionQueue(3))
}

func TestParseOwned(t *testing.T) {
	owned, err := ParseOwned("all", 3)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, owned)

	owned, err = ParseOwned("", 2)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, owned)

	owned, err = ParseOwned("5, 1,1", 8)
	require.NoError(t, err)
	require.Equal(t, []int{1, 5}, owned)

	owned, err = ParseOwned("0-2,6, 1-1", 8)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 6}, owned)

	_, err = ParseOwned("3-1", 8)
	require.Error(t, err)

	_, err = ParseOwned("6-8", 8)
	require.Error(t, err)

	_, err = ParseOwned("9", 8)
	require.Error(t, err)
	_, err = ParseOwned("x", 8)
	require.Error(t, err)
	_, err = ParseOwned(",", 8)
	require.Error(t, err)
	_, err = ParseOwned("all", 0)
	require.Error(t, err)
}

func TestTaskTypesRoundTrip(t *testing.T) {
	for _, domain := range []events.Domain{events.DomainChat, events.DomainContent, events.DomainUser} {
		taskType, err := TaskType(domain)
		require.NoError(t, err)
		got, ok := DomainForTask(taskType)
		require.True(t, ok)
		require.Equal(t, domain, got)
	}

	_, err := TaskType(events.Domain("billing"))
	require.Error(t, err)

	task, err := NewEventTask(follow("a", "b"))
	require.NoError(t, err)
	require.Equal(t, TypeUserEvent, task.Type())
}

func TestDispatcherSerialisesPerRecipient(t *testing.T) {
	proc := newFakeProcessor()
	proc.delay = 2 * time.Millisecond

	d, err := NewDispatcher(proc, 4)
	require.NoError(t, err)
	defer d.Close()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		recipient := []string{"u1", "u2", "u3"}[i%3]
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := d.Submit(context.Background(), follow("f", recipient))
			assert.NoError(t, err)
			assert.Equal(t, services.OutcomeCreated, outcome)
		}()
	}
	wg.Wait()

	require.Equal(t, 30, proc.count())
	require.False(t, proc.overlap.Load(), "events for one recipient must never run concurrently")
}

func TestDispatcherKeepsProcessingAfterCallerGivesUp(t *testing.T) {
	proc := newFakeProcessor()
	proc.delay = 50 * time.Millisecond

	d, err := NewDispatcher(proc, 1)
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = d.Submit(ctx, follow("f", "u1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return proc.count() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, proc.ctxAlive.Load(), "processing context is detached from the caller")
}

func TestDispatcherRecoversProcessorPanic(t *testing.T) {
	proc := newFakeProcessor()
	proc.panicFor = "bad"

	d, err := NewDispatcher(proc, 1)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Submit(context.Background(), follow("bad", "u1"))
	require.ErrorIs(t, err, ErrProcessorPanic)

	outcome, err := d.Submit(context.Background(), follow("good", "u1"))
	require.NoError(t, err)
	require.Equal(t, services.OutcomeCreated, outcome)
	require.Equal(t, 1, proc.count())
}

func TestEventHandlerSurvivesPanickingEvent(t *testing.T) {
	proc := newFakeProcessor()
	proc.panicFor = "bad"
	h := newHandler(t, proc)

	bad := asynq.NewTask(TypeUserEvent, []byte(`{"type":"USER_FOLLOWED","actorId":"bad","recipientId":"B"}`))
	require.NoError(t, h.ProcessTask(context.Background(), bad))

	good := asynq.NewTask(TypeUserEvent, []byte(`{"type":"USER_FOLLOWED","actorId":"good","recipientId":"B"}`))
	require.NoError(t, h.ProcessTask(context.Background(), good))
	require.Equal(t, 1, proc.count())
}

func TestDispatcherClosed(t *testing.T) {
	d, err := NewDispatcher(newFakeProcessor(), 2)
	require.NoError(t, err)
	d.Close()
	d.Close()

	_, err = d.Submit(context.Background(), follow("f", "u1"))
	require.ErrorIs(t, err, ErrDispatcherClosed)

	_, err = NewDispatcher(nil, 1)
	require.Error(t, err)
}

func newHandler(t *testing.T, proc *fakeProcessor) *EventHandler {
	t.Helper()
	d, err := NewDispatcher(proc, 2)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	h, err := NewEventHandler(d, zap.NewNop())
	require.NoError(t, err)
	return h
}

func TestEventHandlerProcessesTask(t *testing.T) {
	proc := newFakeProcessor()
	h := newHandler(t, proc)

	task := asynq.NewTask(TypeContentEvent, []byte(`{"type":"PIN_LIKED","actorId":"A","recipientId":"B","referenceId":"P1"}`))
	require.NoError(t, h.ProcessTask(context.Background(), task))

	require.Equal(t, 1, proc.count())
	content, ok := proc.seen[0].(events.ContentEvent)
	require.True(t, ok)
	require.Equal(t, "P1", content.PinRef())
}

func TestEventHandlerSkipsRetryOnMalformedPayload(t *testing.T) {
	proc := newFakeProcessor()
	h := newHandler(t, proc)

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeUserEvent, []byte(`{"type":"USER_FOLLOWED"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = h.ProcessTask(context.Background(), asynq.NewTask("notification:billing", []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	require.Zero(t, proc.count())
}

func TestEventHandlerDropsProcessingFailures(t *testing.T) {
	proc := newFakeProcessor()
	proc.err = errors.New("lookup failed")
	h := newHandler(t, proc)

	for i := 0; i < 3; i++ {
		task := asynq.NewTask(TypeUserEvent, []byte(`{"type":"USER_FOLLOWED","actorId":"A","recipientId":"B"}`))
		require.NoError(t, h.ProcessTask(context.Background(), task))
	}
	require.Equal(t, 3, proc.count(), "a failing event never blocks the next one")
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{}, nil)
	require.Error(t, err)

	h := newHandler(t, newFakeProcessor())
	_, err = NewServer(Config{Partitions: 2}, h)
	require.Error(t, err)

	_, err = NewServer(Config{Owned: []int{0}}, h)
	require.Error(t, err)

	_, err = NewServer(Config{Partitions: 2, Owned: []int{0, 2}}, h)
	require.Error(t, err)

	srv, err := NewServer(Config{Redis: asynq.RedisClientOpt{Addr: "127.0.0.1:6379"}, Partitions: 2, Owned: []int{1}}, h)
	require.NoError(t, err)
	require.NotNil(t, srv)

	_, err = NewEventHandler(nil, nil)
	require.Error(t, err)
}

func TestNewProducerValidation(t *testing.T) {
	_, err := NewProducer(asynq.RedisClientOpt{Addr: "127.0.0.1:6379"}, 0)
	require.Error(t, err)
}
