// Package app wires configuration, storage, the quota core, the fetch
// pipeline and the telegram transport into one runnable bot.
package app

import (
	"context"
	"errors"
	"time"

	"menfessbot/internal/bot"
	"menfessbot/internal/config"
	"menfessbot/internal/fetch"
	"menfessbot/internal/quota"
	rtsup "menfessbot/internal/runtime/supervisor"
	"menfessbot/internal/storage"
	kit "menfessbot/internal/transport"
	"menfessbot/internal/transport/telegram"
	logx "menfessbot/pkg/logx"
)

const (
	updatesBuffer = 64
	stopTimeout   = 5 * time.Second
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store   storage.Store
	limits  *quota.Limits
	runner  *fetch.ToolRunner
	jobs    *fetch.Dispatcher
	adapter *telegram.Adapter
	router  *bot.Router
	maint   *maintenance

	sup     *rtsup.Supervisor
	started bool
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store

	limits, err := limitsFromConfig(cfg)
	if err != nil {
		return err
	}
	a.limits = limits

	priv := quota.PrivilegedSet(cfg.Telegram.OwnerUserIDs)
	ledger := quota.NewLedger(store, limits, priv, a.log.With(logx.String("comp", "ledger")))
	gate := quota.NewCooldownGate(store, limits, priv, a.log.With(logx.String("comp", "cooldown")))
	policy := quota.NewAccessPolicy(ledger, gate, priv)

	fetchTimeout, err := config.ParseDurationOrDefault("fetch.timeout", cfg.Fetch.Timeout, fetch.DefaultTimeout)
	if err != nil {
		return err
	}
	a.runner = fetch.NewToolRunner(cfg.Fetch.ToolPath, a.log.With(logx.String("comp", "runner")))

	pollTimeout, err := cfg.Telegram.PollTimeoutDuration()
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	a.adapter = adapter

	a.jobs = fetch.NewDispatcher(fetch.Config{
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
		Timeout:       fetchTimeout,
		Ceiling:       cfg.Fetch.MaxOutputBytes,
		ScratchRoot:   cfg.Fetch.ScratchDir,
	}, policy, a.runner, adapter, a.log.With(logx.String("comp", "dispatch")))

	direct := fetch.NewDirectFetch(policy, adapter, cfg.Fetch.MaxOutputBytes,
		a.log.With(logx.String("comp", "direct")))

	a.router = bot.NewRouter(bot.Config{
		ChannelID:    cfg.Telegram.ChannelID,
		LogChannelID: cfg.Telegram.LogChannelID,
		OwnerIDs:     cfg.Telegram.OwnerUserIDs,
	}, adapter, store, policy, a.jobs, direct, priv, a.log.With(logx.String("comp", "bot")))

	a.maint = newMaintenance(store, cfg.Fetch.ScratchDir, cfg.Maintenance.PruneSchedule,
		a.log.With(logx.String("comp", "maint")))
	return nil
}

// Start brings the bot up: transport first, then the update loop, the
// config watcher and the maintenance schedule.
func (a *App) Start(ctx context.Context) error {
	if a.started {
		return errors.New("app already started")
	}
	a.started = true
	a.sup = rtsup.New(ctx, a.log.With(logx.String("comp", "app")))

	if !a.runner.Available() {
		a.log.Warn("fetch tool not found, /fetch for non-image urls will be refused",
			logx.String("comp", "app"))
	}

	updates := make(chan kit.Update, updatesBuffer)
	if err := a.adapter.Start(a.sup.Context(), updates); err != nil {
		return err
	}
	a.router.ValidateChannels(ctx)

	a.sup.Go("router", func(ctx context.Context) error {
		a.router.Run(ctx, updates)
		return nil
	})
	a.sup.Go("config.watch", func(ctx context.Context) error {
		return a.cfgMgr.Watch(ctx)
	})
	a.sup.Go("config.reload", func(ctx context.Context) error {
		a.reloadLoop(ctx)
		return nil
	})
	if err := a.maint.start(); err != nil {
		return err
	}

	a.log.Info("bot started", logx.String("comp", "app"))
	return nil
}

// reloadLoop applies hot-reloadable config sections: limits and logging.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			if m, err := limitsMap(cfg); err == nil {
				a.limits.Replace(m)
			} else {
				a.log.Warn("reload: bad limits, keeping previous",
					logx.String("comp", "app"), logx.Err(err))
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("configuration reloaded", logx.String("comp", "app"))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.maint != nil {
		a.maint.stop()
	}
	if a.adapter != nil {
		_ = a.adapter.Stop(ctx)
	}
	if a.sup != nil {
		_ = a.sup.Stop(stopTimeout)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	return nil
}

// limitsFromConfig merges configured overrides onto the defaults.
func limitsFromConfig(cfg *config.Config) (*quota.Limits, error) {
	limits := quota.DefaultLimits()
	m, err := limitsMap(cfg)
	if err != nil {
		return nil, err
	}
	limits.Replace(m)
	return limits, nil
}

func limitsMap(cfg *config.Config) (map[quota.Category]quota.Limit, error) {
	out := map[quota.Category]quota.Limit{
		quota.CategoryFetch:     {Daily: 2, Cooldown: 30 * time.Second},
		quota.CategoryMediaPost: {Daily: 10, Cooldown: 10 * time.Second},
		quota.CategoryTextPost:  {Daily: 5, Cooldown: 5 * time.Second},
	}
	apply := func(c quota.Category, path string, lim config.CategoryLimit) error {
		cur := out[c]
		if lim.DailyLimit > 0 {
			cur.Daily = lim.DailyLimit
		}
		d, err := config.ParseDurationField(path+".cooldown", lim.Cooldown)
		if err != nil {
			return err
		}
		if d > 0 {
			cur.Cooldown = d
		}
		out[c] = cur
		return nil
	}
	if err := apply(quota.CategoryFetch, "limits.fetch", cfg.Limits.Fetch); err != nil {
		return nil, err
	}
	if err := apply(quota.CategoryMediaPost, "limits.media_post", cfg.Limits.MediaPost); err != nil {
		return nil, err
	}
	if err := apply(quota.CategoryTextPost, "limits.text_post", cfg.Limits.TextPost); err != nil {
		return nil, err
	}
	return out, nil
}
