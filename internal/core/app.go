package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	telegram "ariabot/internal/adapters/telegram"
	"ariabot/internal/config"
	"ariabot/internal/gen/openai"
	"ariabot/internal/runtime/supervisor"
	"ariabot/internal/services/aggregate"
	"ariabot/internal/services/broadcast"
	"ariabot/internal/services/dispatch"
	"ariabot/internal/services/logging"
	"ariabot/internal/services/poller"
	"ariabot/internal/services/respqueue"
	"ariabot/internal/services/trigger"
	"ariabot/internal/storage"
	"ariabot/internal/transport"
	logx "ariabot/pkg/logx"
)

// App owns the full pipeline: adapter -> router -> aggregators -> dispatcher,
// plus the poll-driven workers (response queue, broadcast, trigger) and the
// ambient pieces (config watch, logging, storage).
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  *slog.Logger // service logger, routed through the logging fanout
	ilog logx.Logger  // infra logger (config, storage, supervisor)
	logs *logging.Service

	store   storage.Store
	adapter *telegram.Adapter

	textAgg  *aggregate.TextAggregator
	mediaAgg *aggregate.MediaAggregator
	disp     *dispatch.Service
	queue    *respqueue.Service
	bcast    *broadcast.Service
	trig     *trigger.Service
	polls    *poller.Service

	updates chan transport.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Adapter first: the logging service relays records through it.
	bootLog := slog.New(logging.NewPrettyHandler(logging.Stdout(), slog.LevelInfo))

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.BotToken(),
		PollTimeout: pollTimeout,
	}, bootLog.With("comp", "telegram"))
	if err != nil {
		return nil, err
	}

	// Bootstrap with the relay disabled, point it at the admin chat, then
	// apply the real flag so the first Apply never warns about a missing
	// target.
	bootLogCfg := mapLoggingConfig(cfg)
	bootLogCfg.Telegram.Enabled = false
	logSvc, log := logging.New(bootLogCfg, ad)
	logSvc.SetAdminChat(cfg.Telegram.AdminChatID)
	logSvc.Apply(mapLoggingConfig(cfg))
	log = log.With("comp", "app")

	ilog := logx.NewConsole(cfg.Logging.Level)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, ilog.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	genClient := openai.New(openai.Config{
		APIKey:       cfg.Assistant.APIKey(),
		BaseURL:      cfg.Assistant.BaseURL,
		Model:        cfg.Assistant.Model,
		SystemPrompt: cfg.Assistant.SystemPrompt,
	})

	dispCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispCfg, ad, st, genClient, log.With("comp", "dispatch"))
	if len(cfg.Assistant.FAQ) > 0 {
		disp.SetFAQ(dispatch.NewStaticFAQ(mapFAQ(cfg.Assistant.FAQ)))
	}

	aggCfg, err := mapDelayConfig(cfg)
	if err != nil {
		return nil, err
	}
	textAgg := aggregate.NewText(aggCfg, disp, log.With("comp", "aggregate"))
	mediaAgg := aggregate.NewMedia(aggCfg, disp, log.With("comp", "aggregate"))

	// Poller and trigger share one zone so "today" means the same thing in
	// cron specs and in the once-per-day guard.
	loc := cfg.TriggerLocation()
	polls := poller.New(poller.Config{
		Timezone: loc.String(),
	}, log.With("comp", "poller"))

	rqCfg, err := mapRespqueueConfig(cfg)
	if err != nil {
		return nil, err
	}
	queue := respqueue.New(rqCfg, st, ad, log.With("comp", "respqueue"))
	disp.SetScheduler(queue)

	bcCfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	bcast := broadcast.New(bcCfg, st, ad, log.With("comp", "broadcast"))

	trCfg, err := mapTriggerConfig(cfg)
	if err != nil {
		return nil, err
	}
	trig := trigger.New(trCfg, st, loc, log.With("comp", "trigger"))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		ilog:     ilog,
		logs:     logSvc,
		store:    st,
		adapter:  ad,
		textAgg:  textAgg,
		mediaAgg: mediaAgg,
		disp:     disp,
		queue:    queue,
		bcast:    bcast,
		trig:     trig,
		polls:    polls,
		updates:  make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.ilog.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	runCtx := a.sup.Context()

	// Transactional reload: a config that fails validation is never
	// committed or published.
	a.cfgm.SetLogger(a.ilog.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	// Jobs left PROCESSING by a previous run can never finish; fail them
	// before the first poll picks up new work.
	if err := a.bcast.RecoverStale(runCtx); err != nil {
		a.log.Warn("stale broadcast recovery failed", "err", err)
	}

	// The poll runner must be live before workers register with it.
	a.polls.Start(runCtx)
	if err := a.queue.Register(a.polls); err != nil {
		return fmt.Errorf("register respqueue poll: %w", err)
	}
	if err := a.bcast.Register(a.polls); err != nil {
		return fmt.Errorf("register broadcast poll: %w", err)
	}
	if err := a.trig.Register(a.polls); err != nil {
		return fmt.Errorf("register trigger poll: %w", err)
	}

	a.textAgg.Start(runCtx)
	a.mediaAgg.Start(runCtx)

	// A panic while handling one update restarts the loop instead of taking
	// the process down; pending updates stay buffered in the channel.
	a.sup.GoRestart("router", func(c context.Context) error {
		a.route(c)
		return nil
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg, lastApplied)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a reloaded config to the live services. Sections that
// cannot change at runtime (telegram, store) only log a restart hint.
func (a *App) applyConfig(newCfg, oldCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "telegram", "store", "respqueue", "broadcast", "trigger":
			a.log.Warn("config section needs a restart to take effect", "section", s)
		}
	}

	// Logging first so later lines come out at the new level.
	a.logs.SetAdminChat(newCfg.Telegram.AdminChatID)
	a.logs.Apply(mapLoggingConfig(newCfg))

	if dispCfg, err := mapDispatchConfig(newCfg); err != nil {
		a.log.Warn("invalid assistant config; keeping previous", "err", err)
	} else {
		a.disp.Apply(dispCfg)
		a.disp.SetFAQ(dispatch.NewStaticFAQ(mapFAQ(newCfg.Assistant.FAQ)))
	}

	if aggCfg, err := mapDelayConfig(newCfg); err != nil {
		a.log.Warn("invalid delay config; keeping previous", "err", err)
	} else {
		a.textAgg.Apply(aggCfg)
		a.mediaAgg.Apply(aggCfg)
	}

	a.log.Info("config reloaded", "changed", strings.Join(sections, ","))
	if len(attrs) > 0 {
		a.ilog.Debug("config change summary", attrs...)
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step bounds one shutdown phase so a stuck component cannot stall the
	// whole stop. fn must honor its context; a late finish is logged.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", "name", name, "err", err)
			}
			a.log.Debug("stop step end", "name", name, "took", time.Since(start))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				"name", name, "elapsed", time.Since(start))
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", "name", name, "err", err)
				} else {
					a.log.Info("stop step finished after deadline", "name", name, "took", time.Since(start))
				}
			}()
		}
	}

	// Inbound side first so nothing new enters the pipeline, then the poll
	// runner, then storage underneath everything.
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("aggregators", 1*time.Second, func(context.Context) error {
		a.textAgg.Stop()
		a.mediaAgg.Stop()
		return nil
	})
	step("poller", 2*time.Second, func(c context.Context) error { a.polls.Stop(c); return nil })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	// Finally the supervised goroutines (router, config watch/reload).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
