package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/pinnotify/internal/events"
	"github.com/charlesng35/pinnotify/internal/services"
	"github.com/charlesng35/pinnotify/pkg/logger"
)

// DefaultShards is the number of serial workers in a Dispatcher.
const DefaultShards = 8

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("consumer: dispatcher closed")

// ErrProcessorPanic wraps a panic raised while applying an event.
var ErrProcessorPanic = errors.New("consumer: processor panicked")

// Processor applies one event.
type Processor interface {
	CreateAndSendNotification(ctx context.Context, ev events.Event) (services.Outcome, error)
}

type result struct {
	outcome services.Outcome
	err     error
}

type job struct {
	ctx    context.Context
	ev     events.Event
	result chan result
}

// Dispatcher runs events on a fixed set of shard goroutines. Events for the same
// recipient always hit the same shard, so they are applied one after another.
type Dispatcher struct {
	proc   Processor
	log    *zap.Logger
	shards []chan job
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewDispatcher starts n shard workers; n <= 0 uses DefaultShards.
func NewDispatcher(proc Processor, n int) (*Dispatcher, error) {
	if proc == nil {
		return nil, errors.New("consumer: processor is required")
	}
	if n <= 0 {
		n = DefaultShards
	}

	d := &Dispatcher{
		proc:   proc,
		log:    logger.WithModule("consumer"),
		shards: make([]chan job, n),
		quit:   make(chan struct{}),
	}
	for i := range d.shards {
		d.shards[i] = make(chan job)
		d.wg.Add(1)
		go d.work(d.shards[i])
	}
	return d, nil
}

// Submit hands ev to its recipient's shard and waits for the outcome. Once the
// shard has accepted the event, cancelling ctx only stops the wait; the event is
// still applied.
func (d *Dispatcher) Submit(ctx context.Context, ev events.Event) (services.Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	j := job{ctx: ctx, ev: ev, result: make(chan result, 1)}
	shard := d.shards[Partition(ev.Header().RecipientID, len(d.shards))]

	select {
	case shard <- j:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.quit:
		return "", ErrDispatcherClosed
	}

	select {
	case r := <-j.result:
		return r.outcome, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops the shard workers after their current event.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.quit)
	})
	d.wg.Wait()
}

func (d *Dispatcher) work(jobs <-chan job) {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case j := <-jobs:
			j.result <- d.apply(j)
		}
	}
}

// apply runs one job; a panic becomes an error so the shard keeps serving.
func (d *Dispatcher) apply(j job) (res result) {
	defer func() {
		if r := recover(); r != nil {
			header := j.ev.Header()
			d.log.Error("panic",
				zap.String("type", header.Type),
				zap.String("recipient_id", header.RecipientID),
				zap.Any("error", r),
				zap.Stack("stack"),
			)
			res = result{err: fmt.Errorf("%w: %v", ErrProcessorPanic, r)}
		}
	}()

	outcome, err := d.proc.CreateAndSendNotification(context.WithoutCancel(j.ctx), j.ev)
	return result{outcome: outcome, err: err}
}
