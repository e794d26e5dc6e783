package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/pinnotify/internal/app"
	"github.com/charlesng35/pinnotify/internal/events"
)

func localConfig() *app.Config {
	cfg := &app.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = ":memory:"
	cfg.Cache.UnreadTTL = time.Hour
	cfg.Realtime.ChannelTTL = time.Hour
	cfg.Realtime.HeartbeatInterval = time.Minute
	cfg.Realtime.Fanout = "local"
	cfg.Retention.Days = 30
	cfg.Retention.Schedule = "0 3 * * *"
	cfg.Monitoring.Health.Enabled = true
	cfg.Auth.JWT.Secret = "bootstrap-secret"
	return cfg
}

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = " PostgreSQL "
	cfg.Database.Postgres = app.DBAuthConfig{
		Host:     " db.internal ",
		Port:     5433,
		Database: "pinnotify",
		Username: "svc",
		Password: "secret",
	}

	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.internal", dbCfg.Host)
	require.Equal(t, 5433, dbCfg.Port)
	require.Equal(t, "pinnotify", dbCfg.Name)
	require.Equal(t, "svc", dbCfg.User)

	cfg.Database.Driver = ""
	require.Equal(t, "sqlite", convertDatabaseConfig(cfg).Driver)

	cfg.Database.Driver = "oracle"
	require.Equal(t, "oracle", convertDatabaseConfig(cfg).Driver)
}

func TestEnsureSecretsPresent(t *testing.T) {
	require.Error(t, ensureSecretsPresent(nil))

	cfg := localConfig()
	cfg.Auth.JWT.Secret = "   "
	require.Error(t, ensureSecretsPresent(cfg))

	cfg = localConfig()
	require.NoError(t, ensureSecretsPresent(cfg))

	cfg.Queue.Enabled = true
	require.Error(t, ensureSecretsPresent(cfg))
	cfg.Queue.Redis.Address = "localhost:6379"
	require.NoError(t, ensureSecretsPresent(cfg))

	cfg.Realtime.Fanout = "redis"
	require.Error(t, ensureSecretsPresent(cfg))
}

func TestBootstrapRuntimeLocal(t *testing.T) {
	log := zap.NewNop()
	stack, err := bootstrapRuntime(localConfig(), log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(log) })

	require.NotNil(t, stack.Router)
	require.Nil(t, stack.Redis)
	require.Nil(t, stack.Consumer)
	require.Nil(t, stack.Fanout)

	require.NoError(t, stack.Start(context.Background(), log))

	outcome, err := stack.Notifications.CreateAndSendNotification(context.Background(), events.UserEvent{
		Envelope: events.Envelope{
			Type:        "USER_FOLLOWED",
			ActorID:     "a1",
			RecipientID: "u1",
			Timestamp:   time.Now(),
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, outcome)

	count, err := stack.Notifications.GetUnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	rec := httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBootstrapRuntimeRejectsBadOwnedSpec(t *testing.T) {
	cfg := localConfig()
	cfg.Database.Path = ""
	cfg.Queue.Enabled = true
	cfg.Queue.Partitions = 4
	cfg.Queue.Shards = 2
	cfg.Queue.Owned = "2-9"
	cfg.Queue.Redis.Address = "127.0.0.1:6379"

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.Error(t, err)
	require.Nil(t, stack)
	require.Contains(t, err.Error(), "queue.owned")
}
