package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/pinnotify/internal/api"
	"github.com/charlesng35/pinnotify/internal/app"
	"github.com/charlesng35/pinnotify/internal/app/maintenance"
	iauth "github.com/charlesng35/pinnotify/internal/auth"
	"github.com/charlesng35/pinnotify/internal/cache"
	"github.com/charlesng35/pinnotify/internal/consumer"
	"github.com/charlesng35/pinnotify/internal/database"
	"github.com/charlesng35/pinnotify/internal/monitoring"
	"github.com/charlesng35/pinnotify/internal/monitoring/checks"
	"github.com/charlesng35/pinnotify/internal/realtime"
	"github.com/charlesng35/pinnotify/internal/services"
	"github.com/charlesng35/pinnotify/pkg/logger"
)

const redisStartupTimeout = 5 * time.Second

// runtimeStack bundles long-lived services used by the HTTP server and the event consumer.
type runtimeStack struct {
	DB            *gorm.DB
	Redis         *redis.Client
	Hub           *realtime.Hub
	Fanout        *realtime.RedisFanout
	Notifications *services.NotificationService
	Dispatcher    *consumer.Dispatcher
	Consumer      *consumer.Server
	Inspector     *asynq.Inspector
	Cleaner       *maintenance.Cleaner
	Health        *monitoring.HealthManager
	Router        *gin.Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// bootstrapRuntime initialises the database, counter cache, push hub, consumer and HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}
	stack.Health = monitoring.NewHealthManager()
	stack.Health.RegisterReadiness(checks.Database(stack.DB, 0))

	if cfg.Cache.Redis.Enabled || cfg.Realtime.FanoutRedis() {
		stack.Redis = redis.NewClient(cfg.Cache.RedisOptions())
		pingCtx, cancel := context.WithTimeout(context.Background(), redisStartupTimeout)
		err = stack.Redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Cache.Redis.Address, err)
		}
		log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
	}

	counter, counterStore, err := buildUnreadCounter(cfg, stack)
	if err != nil {
		return nil, err
	}

	stack.Hub = realtime.NewHub(
		realtime.WithChannelTTL(cfg.Realtime.ChannelTTL),
		realtime.WithHeartbeatInterval(cfg.Realtime.HeartbeatInterval),
		realtime.WithLogger(logger.WithModule("realtime")),
	)
	stack.Health.RegisterLiveness(checks.Realtime(stack.Hub))

	var pusher services.Pusher = stack.Hub
	if cfg.Realtime.FanoutRedis() {
		stack.Fanout, err = realtime.NewRedisFanout(stack.Redis, stack.Hub, cfg.Realtime.FanoutChannel)
		if err != nil {
			return nil, fmt.Errorf("initialise push fan-out: %w", err)
		}
		pusher = stack.Fanout
		stack.Health.RegisterReadiness(checks.Redis("fanout", checks.PingFunc(func(ctx context.Context) error {
			return stack.Redis.Ping(ctx).Err()
		}), 0))
	}

	store, err := services.NewNotificationStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise notification store: %w", err)
	}
	stack.Notifications, err = services.NewNotificationService(store, counter, services.WithPusher(pusher))
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	if cfg.Queue.Enabled {
		if err := buildConsumer(cfg, stack, log); err != nil {
			return nil, err
		}
	}

	cleanerOpts := []maintenance.Option{
		maintenance.WithRetentionDays(cfg.Retention.Days),
		maintenance.WithSchedule(cfg.Retention.Schedule),
	}
	if dbStore, ok := counterStore.(*cache.DatabaseStore); ok {
		cleanerOpts = append(cleanerOpts, maintenance.WithCounterPurger(dbStore))
	}
	stack.Cleaner = maintenance.NewCleaner(stack.Notifications, cleanerOpts...)

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:        cfg,
		JWT:           jwtSvc,
		Notifications: stack.Notifications,
		Hub:           stack.Hub,
		Health:        stack.Health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func buildUnreadCounter(cfg *app.Config, stack *runtimeStack) (*cache.UnreadCounter, cache.CounterStore, error) {
	var store cache.CounterStore
	if cfg.Cache.Redis.Enabled {
		redisStore, err := cache.NewRedisStore(stack.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("initialise redis counter store: %w", err)
		}
		store = redisStore
		stack.Health.RegisterReadiness(checks.Redis("cache", redisStore, 0))
	} else {
		store = cache.NewDatabaseStore(stack.DB)
	}

	counter, err := cache.NewUnreadCounter(store, cfg.Cache.UnreadTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise unread counter: %w", err)
	}
	return counter, store, nil
}

func buildConsumer(cfg *app.Config, stack *runtimeStack, log *zap.Logger) error {
	owned, err := consumer.ParseOwned(cfg.Queue.Owned, cfg.Queue.Partitions)
	if err != nil {
		return fmt.Errorf("queue.owned: %w", err)
	}

	stack.Dispatcher, err = consumer.NewDispatcher(stack.Notifications, cfg.Queue.Shards)
	if err != nil {
		return fmt.Errorf("initialise dispatcher: %w", err)
	}

	handler, err := consumer.NewEventHandler(stack.Dispatcher, logger.WithModule("consumer"))
	if err != nil {
		return err
	}

	redisOpt := cfg.Queue.RedisConnOpt()
	stack.Consumer, err = consumer.NewServer(consumer.Config{
		Redis:       redisOpt,
		Concurrency: cfg.Queue.Concurrency,
		Partitions:  cfg.Queue.Partitions,
		Owned:       owned,
	}, handler)
	if err != nil {
		return fmt.Errorf("initialise consumer: %w", err)
	}

	queues := make([]string, 0, len(owned))
	for _, p := range owned {
		queues = append(queues, consumer.PartitionQueue(p))
	}
	stack.Inspector = asynq.NewInspector(redisOpt)
	stack.Health.RegisterReadiness(checks.Queue(stack.Inspector, queues))

	log.Info("consumer configured",
		zap.Int("partitions", cfg.Queue.Partitions),
		zap.Ints("owned", owned),
		zap.Int("shards", cfg.Queue.Shards),
	)
	return nil
}

// Start launches background work: heartbeat, fan-out subscription, retention sweep and the consumer.
func (s *runtimeStack) Start(ctx context.Context, log *zap.Logger) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Hub.Run(ctx)
	}()

	if s.Fanout != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Fanout.Run(ctx)
		}()
	}

	if err := s.Cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}

	if s.Consumer != nil {
		if err := s.Consumer.Start(); err != nil {
			return err
		}
	}

	log.Info("runtime started",
		zap.Bool("fanout", s.Fanout != nil),
		zap.Bool("consumer", s.Consumer != nil),
	)
	return nil
}

// Shutdown gracefully stops background jobs and releases resources. The consumer
// drains first so in-flight events still reach the dispatcher.
func (s *runtimeStack) Shutdown(log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Consumer != nil {
		s.Consumer.Shutdown()
	}
	if s.Dispatcher != nil {
		s.Dispatcher.Close()
	}
	if s.Inspector != nil {
		if err := s.Inspector.Close(); err != nil {
			log.Warn("queue inspector shutdown", zap.Error(err))
		}
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
