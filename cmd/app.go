package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/lvdashuaibi/surveyvote/internal/ballot"
	"github.com/lvdashuaibi/surveyvote/internal/baseline"
	"github.com/lvdashuaibi/surveyvote/internal/batch"
	"github.com/lvdashuaibi/surveyvote/internal/cache"
	"github.com/lvdashuaibi/surveyvote/internal/identity"
	"github.com/lvdashuaibi/surveyvote/internal/lock"
	"github.com/lvdashuaibi/surveyvote/internal/metrics"
	"github.com/lvdashuaibi/surveyvote/internal/permanent"
	"github.com/lvdashuaibi/surveyvote/internal/repository"
	"github.com/lvdashuaibi/surveyvote/internal/resolver"
	"github.com/lvdashuaibi/surveyvote/internal/source"
	"github.com/lvdashuaibi/surveyvote/internal/summary"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app 进程内共享的组件
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	instanceID string

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store     repository.Store
	voters    identity.Registry
	locks     lock.Lock
	cache     cache.ResultCache
	summaries summary.Store
	baseline  baseline.Source

	factory *ballot.Factory
	sources *source.Registry
	batch   *batch.Resolver

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger, instanceID: cfg.Server.InstanceID}
	if a.instanceID == "" {
		a.instanceID = uuid.NewString()
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.seedVoters(ctx); err != nil {
		return nil, err
	}
	if err := a.openLock(); err != nil {
		return nil, err
	}
	if err := a.openCache(ctx); err != nil {
		return nil, err
	}
	if err := a.openBaseline(ctx); err != nil {
		return nil, err
	}

	policy := permanent.Policy{Quorum: cfg.Vote.PermanentQuorum, CleanSlate: cfg.Vote.CleanSlate}
	a.factory = ballot.NewFactory(cfg.Vote, a.baseline, ballot.Deps{
		Store:     a.store,
		Voters:    a.voters,
		Locks:     a.locks,
		Cache:     a.cache,
		Permanent: permanent.NewController(a.store, a.voters, policy, logger.Named("permanent")),
		Pool:      resolver.NewPool(),
		Metrics:   a.metrics,
		Logger:    logger.Named("ballot"),
	})
	a.sources = source.NewRegistry(a.factory, a.metrics, logger.Named("source"))
	a.batch = batch.New(cfg.Summary.Workers, a.instanceID, a.metrics, logger.Named("batch"))

	logger.Info("组件初始化完成",
		zap.String("instance", a.instanceID),
		zap.String("store", cfg.MySQL.Driver),
		zap.String("lock", cfg.Vote.LockBackend))
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.MySQL.Driver == "memory" {
		a.store = repository.NewMemoryStore()
		a.voters = identity.NewMemoryRegistry()
		return nil
	}
	store, err := repository.NewSQLStore(ctx, a.cfg.MySQL, a.logger.Named("store"))
	if err != nil {
		return errors.Wrap(err, "初始化投票存储失败")
	}
	a.store = store
	a.voters = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *app) seedVoters(ctx context.Context) error {
	file := a.cfg.Baseline.VotersFile
	if file == "" {
		return nil
	}
	voters, err := identity.LoadYAMLFile(file)
	if err != nil {
		return err
	}
	for _, v := range voters {
		switch reg := a.voters.(type) {
		case *identity.MemoryRegistry:
			reg.Put(v)
		case *repository.SQLStore:
			if err := reg.PutVoter(ctx, v); err != nil {
				return err
			}
		}
	}
	a.logger.Info("已导入投票人", zap.String("file", file), zap.Int("count", len(voters)))
	return nil
}

func (a *app) openLock() error {
	switch a.cfg.Vote.LockBackend {
	case "etcd":
		l, err := lock.NewETCDLock(a.cfg.ETCD, a.logger.Named("lock"))
		if err != nil {
			return errors.Wrap(err, "初始化ETCD分布式锁失败")
		}
		a.locks = l
	case "redis":
		l, err := lock.NewRedLock(a.cfg.Redis, a.logger.Named("lock"))
		if err != nil {
			return errors.Wrap(err, "初始化Redlock失败")
		}
		a.locks = l
	case "", "local":
		a.locks = lock.NewLocalLock()
	default:
		return errors.Errorf("未知的锁实现 %q", a.cfg.Vote.LockBackend)
	}
	a.closers = append(a.closers, a.locks.Close)
	return nil
}

func (a *app) openCache(ctx context.Context) error {
	if a.cfg.Redis.DataAddress == "" {
		c, err := cache.NewMemoryCache(a.cfg.Vote.CacheSize)
		if err != nil {
			return err
		}
		a.cache = c
		a.summaries = summary.NewMemoryStore()
		return nil
	}
	c, err := cache.NewRedisCache(ctx, a.cfg.Redis, a.logger.Named("cache"))
	if err != nil {
		return errors.Wrap(err, "初始化Redis缓存失败")
	}
	a.cache = c
	a.summaries = c
	a.closers = append(a.closers, c.Close)
	return nil
}

func (a *app) openBaseline(ctx context.Context) error {
	if a.cfg.Baseline.Dir == "" {
		if a.cfg.Baseline.SeedFile == "" {
			return errors.New("未配置基线目录或基线文件")
		}
		snaps, err := baseline.LoadYAMLFile(a.cfg.Baseline.SeedFile)
		if err != nil {
			return err
		}
		a.baseline = baseline.NewMapSource(snaps...)
		return nil
	}

	nuts, err := baseline.NewNutsStore(a.cfg.Baseline.Dir, a.logger.Named("baseline"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, nuts.Close)
	a.baseline = nuts
	if a.cfg.Baseline.SeedFile != "" {
		if err := importBaseline(ctx, nuts, a.cfg.Baseline.SeedFile, a.logger); err != nil {
			return err
		}
	}
	return nil
}

func importBaseline(ctx context.Context, nuts *baseline.NutsStore, file string, logger *zap.Logger) error {
	snaps, err := baseline.LoadYAMLFile(file)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		if err := nuts.Import(ctx, s); err != nil {
			return errors.Wrapf(err, "导入 %s 基线失败", s.Locale())
		}
		logger.Info("已导入基线", zap.String("locale", s.Locale()), zap.Int("paths", s.Len()))
	}
	return nil
}

// close 按创建的相反顺序关闭
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("关闭组件失败", zap.Error(err))
		}
	}
	a.closers = nil
}
