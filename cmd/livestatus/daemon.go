package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"tools.zach/dev/livestatus/internal/config"
	"tools.zach/dev/livestatus/internal/discord"
	"tools.zach/dev/livestatus/internal/logger"
	"tools.zach/dev/livestatus/internal/metrics"
	"tools.zach/dev/livestatus/internal/poller"
	"tools.zach/dev/livestatus/internal/presence"
	"tools.zach/dev/livestatus/internal/server"
	"tools.zach/dev/livestatus/internal/source"
	"tools.zach/dev/livestatus/internal/store"
	"tools.zach/dev/livestatus/internal/tracker"
)

// shutdownTimeout bounds the HTTP drain on exit.
const shutdownTimeout = 5 * time.Second

// httpRetries is the retry budget of the shared source client.
const httpRetries = 2

// daemon wires sources, tracker and outputs together. Everything except the
// pollers, timers and HTTP handlers runs on the goroutine calling [daemon.Run].
type daemon struct {
	paths DataPaths
	level *slog.LevelVar
	// cfg is read by source goroutines through entityLabel.
	cfg atomic.Pointer[config.Config]

	metrics    *metrics.Metrics
	closeStore func() error
	poller     *poller.Poller
	tracker    *tracker.Tracker
	hub        *server.Hub
	server     *server.Server
	discord    *discord.Presence
	watcher    *config.Watcher

	daily   *source.DailyTotal
	dailyCh chan source.DailyResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newDaemon builds every component from cfg. The HTTP server is listening
// when it returns; polling starts in [daemon.Run].
func newDaemon(cfg *config.Config, dp DataPaths, level *slog.LevelVar) (_ *daemon, err error) {
	d := &daemon{
		paths:   dp,
		level:   level,
		metrics: metrics.New(),
		dailyCh: make(chan source.DailyResult, 1),
	}
	d.cfg.Store(cfg)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	st, closeStore, err := store.Open(cfg.StoreOptions(os.Getenv, dp.Sessions()))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	d.closeStore = closeStore

	client := source.NewHTTPClient(httpRetries)
	sources, err := d.buildSources(cfg, client)
	if err != nil {
		return nil, err
	}
	d.poller = poller.New(sources, cfg.Policy(), d.metrics)

	opts := tracker.Options{
		Reconciler: &presence.Reconciler{Settings: cfg.Settings(), Store: st},
		Metrics:    d.metrics,
	}
	if cfg.Server.Enabled {
		d.hub = server.NewHub(func() tracker.View { return d.tracker.Current() }, cfg.Server.AllowedOrigins, d.metrics)
		opts.OnTick = d.hub.PublishTick
	}
	d.tracker = tracker.New(opts)

	if d.hub != nil {
		d.tracker.AddSink(d.hub)
		d.server = server.New(server.Options{
			Addr:           cfg.Server.Addr,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Metrics:        server.MetricsHandler(),
		}, d.tracker.Current, d.hub)
		if err := d.server.Start(); err != nil {
			d.server = nil
			return nil, err
		}
	}

	if cfg.Discord.Enabled {
		d.discord = discord.NewPresence(discord.NewClient(cfg.Discord.AppID), discord.PresenceOptions{
			LargeImage: cfg.Discord.LargeImage,
			LargeText:  cfg.Discord.LargeText,
		}, d.metrics)
		d.tracker.AddSink(d.discord)
	}

	dailyCfg, ok, err := cfg.DailySource(os.Getenv, dp.DailyCache())
	if err != nil {
		return nil, err
	}
	if ok {
		if d.daily, err = source.NewDailyTotal(dailyCfg, client); err != nil {
			return nil, fmt.Errorf("daily total: %w", err)
		}
	}

	if d.watcher, err = config.NewWatcher(dp.Config()); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
		d.watcher, err = nil, nil
	} else if d.watcher.Polling() {
		slog.Info("using polling mode for config changes")
	}

	return d, nil
}

// buildSources resolves cfg's sources. Entity labels go through the live
// config so privacy rules apply on reload.
func (d *daemon) buildSources(cfg *config.Config, client *retryablehttp.Client) ([]source.Source, error) {
	cfgs, err := cfg.SourceConfigs(os.Getenv, d.entityLabel)
	if err != nil {
		return nil, err
	}
	out := make([]source.Source, 0, len(cfgs))
	for _, sc := range cfgs {
		src, err := source.New(sc, client)
		if err != nil {
			return nil, err
		}
		slog.Info("source configured", "id", sc.ID, "kind", sc.Kind, "activity", sc.Activity)
		out = append(out, src)
	}
	return out, nil
}

func (d *daemon) entityLabel(entity string) string {
	return d.cfg.Load().EntityLabel(entity)
}

// ///////////////////////////////////////////////
// Event Loop
// ///////////////////////////////////////////////

// Run is the single logical thread: every tracker mutation happens here. It
// returns when a shutdown signal arrives.
func (d *daemon) Run(shutdown, reload <-chan os.Signal) {
	cfg := d.cfg.Load()

	sweep := time.NewTicker(cfg.SweepInterval())
	defer sweep.Stop()

	var dailyC <-chan time.Time
	if d.daily != nil {
		dailyTicker := time.NewTicker(cfg.DailyInterval())
		defer dailyTicker.Stop()
		dailyC = dailyTicker.C
		d.fetchDaily()
	}

	var watchC <-chan struct{}
	if d.watcher != nil {
		watchC = d.watcher.Events()
	}

	d.poller.Start(d.ctx)

	for {
		select {
		case <-shutdown:
			slog.Info("received shutdown signal")
			return

		case snap := <-d.poller.Snapshots():
			d.tracker.Apply(snap)

		case <-sweep.C:
			d.tracker.Sweep()

		case <-dailyC:
			d.fetchDaily()

		case res := <-d.dailyCh:
			d.tracker.SetDaily(res)

		case <-watchC:
			d.reload(sweep)

		case <-reload:
			slog.Info("received reload signal")
			d.reload(sweep)
		}
	}
}

// fetchDaily refreshes today's total off the loop and hands the result back
// through dailyCh.
func (d *daemon) fetchDaily() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res, err := d.daily.Fetch(d.ctx)
		if err != nil {
			slog.Warn("daily total fetch failed", "error", err, "cached", res.Cached)
			if !res.Cached {
				return
			}
		}
		select {
		case d.dailyCh <- res:
		case <-d.ctx.Done():
		}
	}()
}

// reload applies a changed config file. Thresholds, polling policy, privacy
// and log level take effect immediately; sections that own connections need
// a restart. An invalid file leaves the running config untouched.
func (d *daemon) reload(sweep *time.Ticker) {
	cfg, err := config.Load(d.paths.Root)
	if err != nil {
		slog.Warn("config reload failed, keeping previous config", "error", err)
		return
	}
	prev := d.cfg.Swap(cfg)

	d.level.Set(logger.ParseLevel(cfg.Log.Level))
	d.tracker.SetSettings(cfg.Settings())
	d.poller.SetPolicy(cfg.Policy())
	sweep.Reset(cfg.SweepInterval())

	if stale := restartSections(prev, cfg); len(stale) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", stale)
	}
	slog.Info("config reloaded")
	d.poller.TriggerAll()
}

// restartSections lists the sections whose changes are not applied live.
func restartSections(prev, next *config.Config) []string {
	var out []string
	for _, s := range []struct {
		name       string
		prev, next any
	}{
		{"sources", prev.Sources, next.Sources},
		{"daily", prev.Daily, next.Daily},
		{"store", prev.Store, next.Store},
		{"server", prev.Server, next.Server},
		{"discord", prev.Discord, next.Discord},
	} {
		if !reflect.DeepEqual(s.prev, s.next) {
			out = append(out, s.name)
		}
	}
	return out
}

// ///////////////////////////////////////////////
// Teardown
// ///////////////////////////////////////////////

// Close stops pollers and session timers, drains the HTTP server and
// releases the Discord socket and store. Safe on a partially built daemon.
func (d *daemon) Close() {
	d.cancel()
	if d.poller != nil {
		d.poller.Stop()
	}
	d.wg.Wait()
	if d.tracker != nil {
		d.tracker.Stop()
	}
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		cancel()
	} else if d.hub != nil {
		d.hub.Close()
	}
	if d.discord != nil {
		if err := d.discord.Close(); err != nil {
			slog.Debug("discord close", "error", err)
		}
	}
	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.closeStore != nil {
		if err := d.closeStore(); err != nil {
			slog.Warn("store close", "error", err)
		}
	}
}
