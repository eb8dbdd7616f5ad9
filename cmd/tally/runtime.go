package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tally/api/internal/config"
	"tally/api/internal/email"
	"tally/api/internal/logging"
	"tally/api/internal/metrics"
	"tally/api/internal/notify"
	"tally/api/internal/policy"
	"tally/api/internal/store"
	"tally/api/internal/sweeper"
	"tally/api/internal/workflow"
)

// runtime holds the connections every subcommand shares.
type runtime struct {
	cfg   config.Config
	log   *logrus.Logger
	db    *sql.DB
	store *store.SQLStore
	redis *redis.Client
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	defaults, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	db, dialect, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt := &runtime{
		cfg:   cfg,
		log:   log,
		db:    db,
		store: store.NewSQLStore(db, dialect, store.WithDefaultPolicy(defaults)),
	}

	if cfg.RedisURL != "" {
		client, err := sweeper.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.redis = client
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	_ = rt.db.Close()
}

func (rt *runtime) migrate(ctx context.Context) error {
	if err := store.ApplyMigrations(ctx, rt.db, rt.store.Dialect()); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	return nil
}

// notifier fans events out to the log and, when configured, email and redis.
func (rt *runtime) notifier() workflow.Notifier {
	sinks := notify.Multi{notify.NewLog(rt.log.WithField("component", "notify"))}
	if rt.cfg.EmailEnabled() {
		mailer := email.NewService(email.Config{
			Host:     rt.cfg.SMTP.Host,
			Port:     rt.cfg.SMTP.Port,
			Username: rt.cfg.SMTP.Username,
			Password: rt.cfg.SMTP.Password,
			From:     rt.cfg.SMTP.From,
			FromName: rt.cfg.SMTP.FromName,
			BaseURL:  rt.cfg.SMTP.BaseURL,
		})
		sinks = append(sinks, notify.NewEmail(mailer, rt.store))
	}
	if rt.redis != nil {
		sinks = append(sinks, notify.NewRedisPublisher(rt.redis, rt.cfg.NotifyChannel))
	}
	return sinks
}

func (rt *runtime) workflow(m *metrics.Metrics) *workflow.Service {
	return workflow.New(rt.store, rt.store, rt.store, rt.store,
		workflow.WithNotifier(rt.notifier()),
		workflow.WithMetrics(m),
		workflow.WithLogger(rt.log.WithField("component", "workflow")),
		workflow.WithTxTimeout(rt.cfg.TxTimeout),
		workflow.WithSweepBatch(rt.cfg.Sweep.BatchSize),
	)
}

// locker is nil without redis, so every replica sweeps.
func (rt *runtime) locker() sweeper.Locker {
	if rt.redis == nil {
		return nil
	}
	return sweeper.NewRedisLock(rt.redis, sweeper.DefaultLockKey, rt.cfg.Sweep.LockTTL)
}
