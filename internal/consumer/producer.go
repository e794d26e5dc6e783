package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/charlesng35/pinnotify/internal/events"
)

const defaultMaxRetry = 3

// Producer enqueues events onto the partition queue of their recipient.
type Producer struct {
	client     *asynq.Client
	partitions int
}

// NewProducer connects a producer. partitions must match the consumers' setting.
func NewProducer(opt asynq.RedisConnOpt, partitions int) (*Producer, error) {
	if partitions <= 0 {
		return nil, errors.New("consumer: partitions must be positive")
	}
	return &Producer{client: asynq.NewClient(opt), partitions: partitions}, nil
}

// Publish enqueues ev and returns the queued task info.
func (p *Producer) Publish(ctx context.Context, ev events.Event) (*asynq.TaskInfo, error) {
	task, err := NewEventTask(ev)
	if err != nil {
		return nil, err
	}

	queue := PartitionQueue(Partition(ev.Header().RecipientID, p.partitions))
	info, err := p.client.EnqueueContext(ctx, task, asynq.Queue(queue), asynq.MaxRetry(defaultMaxRetry))
	if err != nil {
		return nil, fmt.Errorf("consumer: enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}

// Close releases the underlying Redis connection.
func (p *Producer) Close() error {
	return p.client.Close()
}
