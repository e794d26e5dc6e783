package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/charlesng35/pinnotify/internal/events"
	"github.com/charlesng35/pinnotify/pkg/logger"
	"github.com/charlesng35/pinnotify/pkg/metrics"
)

// Config describes the queue connection and which partitions this process owns.
type Config struct {
	Redis           asynq.RedisClientOpt
	Concurrency     int
	Partitions      int
	Owned           []int
	ShutdownTimeout time.Duration
}

// EventHandler is the asynq handler for every notification task type.
type EventHandler struct {
	dispatcher *Dispatcher
	log        *zap.Logger
}

// NewEventHandler builds the task handler in front of a dispatcher.
func NewEventHandler(dispatcher *Dispatcher, log *zap.Logger) (*EventHandler, error) {
	if dispatcher == nil {
		return nil, errors.New("consumer: dispatcher is required")
	}
	if log == nil {
		log = logger.WithModule("consumer")
	}
	return &EventHandler{dispatcher: dispatcher, log: log}, nil
}

// ProcessTask decodes and applies one task. Undecodable payloads are archived
// without retry; processing failures are logged and the task acknowledged, so
// one bad event never holds up the ones behind it.
func (h *EventHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	domain, ok := DomainForTask(task.Type())
	if !ok {
		metrics.EventsConsumed.WithLabelValues("malformed").Inc()
		return fmt.Errorf("consumer: unknown task type %q: %w", task.Type(), asynq.SkipRetry)
	}

	ev, err := events.Decode(domain, task.Payload())
	if err != nil {
		metrics.EventsConsumed.WithLabelValues("malformed").Inc()
		h.log.Warn("malformed event", zap.String("task_type", task.Type()), zap.Error(err))
		return fmt.Errorf("consumer: decode %s: %v: %w", task.Type(), err, asynq.SkipRetry)
	}

	header := ev.Header()
	outcome, err := h.dispatcher.Submit(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrDispatcherClosed) {
			// Shutting down; let the queue redeliver.
			return err
		}
		metrics.EventsConsumed.WithLabelValues("dropped").Inc()
		h.log.Warn("event dropped",
			zap.String("type", header.Type),
			zap.String("recipient_id", header.RecipientID),
			zap.String("actor_id", header.ActorID),
			zap.Error(err),
		)
		return nil
	}

	metrics.EventsConsumed.WithLabelValues("processed").Inc()
	h.log.Debug("event processed",
		zap.String("type", header.Type),
		zap.String("recipient_id", header.RecipientID),
		zap.String("outcome", string(outcome)),
	)
	return nil
}

// Server consumes the owned partition queues.
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
	log *zap.Logger
}

// NewServer wires an asynq server for the owned partitions.
func NewServer(cfg Config, handler *EventHandler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("consumer: handler is required")
	}
	if cfg.Partitions <= 0 {
		return nil, errors.New("consumer: partitions must be positive")
	}
	if len(cfg.Owned) == 0 {
		return nil, errors.New("consumer: no partitions owned")
	}
	for _, p := range cfg.Owned {
		if p < 0 || p >= cfg.Partitions {
			return nil, fmt.Errorf("consumer: owned partition %d out of range [0,%d)", p, cfg.Partitions)
		}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	queues := make(map[string]int, len(cfg.Owned))
	for _, p := range cfg.Owned {
		queues[PartitionQueue(p)] = 1
	}

	log := logger.WithModule("consumer")
	srv := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          queues,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger.Sugared("asynq"),
		LogLevel:        asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			log.Warn("task failed", zap.String("task_type", task.Type()), zap.Error(err))
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeChatEvent, handler)
	mux.Handle(TypeContentEvent, handler)
	mux.Handle(TypeUserEvent, handler)

	return &Server{srv: srv, mux: mux, log: log}, nil
}

// Start begins processing in background goroutines.
func (s *Server) Start() error {
	if err := s.srv.Start(s.mux); err != nil {
		return fmt.Errorf("consumer: start: %w", err)
	}
	s.log.Info("consumer started")
	return nil
}

// Shutdown stops fetching new tasks and waits for in-flight ones.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
	s.log.Info("consumer stopped")
}
