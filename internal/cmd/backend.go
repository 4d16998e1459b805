package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/3leaps/gojobs/internal/config"
	"github.com/3leaps/gojobs/internal/observability"
	"github.com/3leaps/gojobs/pkg/events"
	"github.com/3leaps/gojobs/pkg/execjob"
	"github.com/3leaps/gojobs/pkg/job"
	"github.com/3leaps/gojobs/pkg/jobstore/fsstore"
	"github.com/3leaps/gojobs/pkg/jobstore/redisstore"
	"github.com/3leaps/gojobs/pkg/jobstore/s3store"
	"github.com/3leaps/gojobs/pkg/jobstore/sqlstore"
)

// lister is implemented by every backend gojobs ships.
type lister interface {
	List(ctx context.Context) ([]job.Snapshot, error)
}

// openBackend opens the configured store. The returned cleanup must be called
// once the backend is no longer used.
func openBackend(ctx context.Context, cfg *config.Config) (job.Backend, func(), error) {
	st := cfg.Storage
	switch st.Backend {
	case config.BackendFS:
		return fsstore.New(st.FS.Dir), func() {}, nil

	case config.BackendSQLite, config.BackendPostgres:
		sc := sqlstore.Config{Dialect: sqlstore.DialectSQLite, Path: st.SQLite.Path, URL: st.SQLite.URL, AuthToken: st.SQLite.AuthToken}
		if st.Backend == config.BackendPostgres {
			sc = sqlstore.Config{Dialect: sqlstore.DialectPostgres, DSN: st.Postgres.DSN}
		}
		b, err := sqlstore.Open(ctx, sc)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s store: %w", st.Backend, err)
		}
		return b, func() { _ = b.Close() }, nil

	case config.BackendS3:
		b, err := s3store.New(ctx, s3store.Config{
			Bucket:         st.S3.Bucket,
			Prefix:         st.S3.Prefix,
			Region:         st.S3.Region,
			Endpoint:       st.S3.Endpoint,
			Profile:        st.S3.Profile,
			ForcePathStyle: st.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open s3 store: %w", err)
		}
		return b, func() {}, nil

	case config.BackendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    st.Redis.Addrs,
			Username: st.Redis.Username,
			Password: st.Redis.Password,
			DB:       st.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		b := redisstore.New(client, redisstore.Options{Prefix: st.Redis.Prefix, TTL: st.Redis.TTL})
		return b, func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported storage backend %q", st.Backend)
}

// logRoot is where command jobs write stdout and stderr.
func logRoot(cfg *config.Config) string {
	if cfg.Engine.LogDir != "" {
		return cfg.Engine.LogDir
	}
	if cfg.Storage.Backend == config.BackendFS {
		return cfg.Storage.FS.Dir
	}
	return filepath.Join(config.DataDir(), "logs")
}

// engineOptions maps configuration onto engine options. The returned close
// function flushes the event log, if one is configured.
func engineOptions(cfg *config.Config, logger *zap.Logger) ([]job.Option, func(), error) {
	opts := []job.Option{
		job.WithLogger(logger),
		job.WithMaxConcurrent(cfg.Engine.MaxConcurrent),
		job.WithFinalSaveTimeout(cfg.Engine.FinalSaveTimeout),
		job.WithPollInterval(cfg.Engine.PollInterval),
	}
	if cfg.Events.Path == "" {
		return opts, func() {}, nil
	}

	w, err := events.OpenFile(cfg.Events.Path, events.WithSource(cfg.Events.Source), events.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, job.WithObserver(w), job.WithFailureSink(w))
	return opts, func() { _ = w.Close() }, nil
}

// commandEngine wires a command-job engine over the configured store.
type commandEngine struct {
	executor *execjob.Executor
	engine   *execjob.Engine
	store    execjob.Store
	close    func()
}

func newCommandEngine(ctx context.Context, cfg *config.Config, extra ...job.Option) (*commandEngine, error) {
	logger := observability.CLILogger
	backend, cleanup, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts, closeEvents, err := engineOptions(cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	store := execjob.NewStore(backend)
	return &commandEngine{
		executor: execjob.NewExecutor(logRoot(cfg), logger),
		engine:   execjob.NewEngine(store, append(opts, extra...)...),
		store:    store,
		close: func() {
			closeEvents()
			cleanup()
		},
	}, nil
}

// resolveJobID accepts a full id or a unique prefix of one.
func resolveJobID(ctx context.Context, backend job.Backend, input string) (uuid.UUID, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return uuid.Nil, fmt.Errorf("job id is required")
	}
	if id, err := uuid.Parse(input); err == nil {
		return id, nil
	}

	l, ok := backend.(lister)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid job id %q", input)
	}
	snaps, err := l.List(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	var matches []uuid.UUID
	for _, snap := range snaps {
		if strings.HasPrefix(snap.ID.String(), strings.ToLower(input)) {
			matches = append(matches, snap.ID)
		}
	}
	switch len(matches) {
	case 0:
		return uuid.Nil, job.NotFoundError("resolve", input)
	case 1:
		return matches[0], nil
	default:
		return uuid.Nil, fmt.Errorf("job id prefix %q is ambiguous (%d matches)", input, len(matches))
	}
}
