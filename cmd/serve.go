package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"Boombot/cache"
	"Boombot/config"
	"Boombot/core/dispatcher"
	"Boombot/core/feeder"
	"Boombot/core/fetch"
	"Boombot/core/icecast"
	"Boombot/core/plugin"
	"Boombot/core/queue"
	"Boombot/core/requests"
	"Boombot/core/search"
	"Boombot/db"
	"Boombot/logger"
	"Boombot/model"
	"Boombot/repository"
	"Boombot/server"
	"Boombot/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const requestBacklog = 1024

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the request server and stream to Icecast",
	Long: `Connects to the Icecast server and keeps the mount fed: requested songs
are played in order, the fallback clip loops while the queue is empty.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if parent == nil {
		parent = context.Background()
	}
	log := logger.L()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	ctx, hard, stop := shutdownContexts(parent, sigs, log)
	defer stop()

	var (
		rdb      cache.Client
		library  plugin.ObjectLister
		payloads fetch.PayloadStore
		objects  feeder.ObjectGetter
		history  repository.HistoryRepository
		recorder dispatcher.Recorder
	)

	if cfg.RedisEnabled() {
		if err := cache.ConnectRedis(cfg); err != nil {
			return err
		}
		defer cache.CloseRedis()
		rdb = cache.RedisClient
	}

	if cfg.MinioEnabled() {
		store, err := storage.NewStore(ctx, cfg)
		if err != nil {
			return err
		}
		library, payloads, objects = store, store, store
	}

	if cfg.DBEnabled() {
		if err := db.ConnectGormDB(cfg); err != nil {
			return err
		}
		defer db.CloseGormDB()
		if err := db.AutoMigrate(); err != nil {
			return err
		}
		history = repository.NewGormHistoryRepository(db.GormDB)
		recorder = history
	}

	reg, err := buildRegistry(cfg, library, rdb, log)
	if err != nil {
		return err
	}
	aggregator := search.NewAggregator(reg.Providers(), cfg.ProviderTimeout, log)
	fetcher := fetch.New(payloads, cfg.DownloadTimeout, cfg.MaxDownloadSize, log)

	fallback, err := feeder.LoadFallback(ctx, cfg.FallbackPath, objects, cfg.FallbackObject)
	if err != nil {
		return fmt.Errorf("load fallback clip: %w", err)
	}

	hub := server.NewHub(log)
	observers := []feeder.Observer{hub}
	var publisher *cache.NowPlayingPublisher
	if rdb != nil {
		publisher = cache.NewNowPlayingPublisher(rdb, log)
		observers = append(observers, publisher)
	}

	q := queue.New()
	fd, err := feeder.New(icecast.NewFactory(icecastConfig(cfg)), q, fallback, feeder.Options{
		ChunkSize:          cfg.ChunkSize,
		MaxConnectAttempts: cfg.MaxConnectAttempts,
		RetryDelay:         cfg.ConnectRetryDelay,
		MetadataTimeout:    cfg.MetadataTimeout,
		Source:             fetcher,
		Observers:          observers,
		Logger:             log,
	})
	if err != nil {
		return err
	}

	reqCfg, err := requestsConfig(cfg)
	if err != nil {
		return err
	}
	requestCh := make(chan model.SongRequest, requestBacklog)
	disp := dispatcher.New(requestCh, aggregator, fetcher, q, fd, recorder, log)
	reqServer := requests.NewServer(reqCfg, requestCh, log)
	if err := reqServer.Listen(); err != nil {
		return err
	}

	// Everything but intake outlives the first signal until the feeder returns.
	runCtx, cancel := context.WithCancel(hard)
	defer cancel()

	var wg sync.WaitGroup
	spawn := func(ctx context.Context, name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Error("[Serve] component stopped with error", zap.String("component", name), zap.Error(err))
			}
		}()
	}

	spawn(runCtx, "hub", func(ctx context.Context) error { hub.Run(ctx); return nil })
	if publisher != nil {
		spawn(runCtx, "now playing publisher", func(ctx context.Context) error { publisher.Run(ctx); return nil })
	}
	spawn(ctx, "request server", reqServer.Serve)

	if cfg.WatchFallback && cfg.FallbackPath != "" {
		if _, statErr := os.Stat(cfg.FallbackPath); statErr == nil {
			spawn(runCtx, "fallback watcher", feeder.NewFallbackWatcher(cfg.FallbackPath, fd, log).Run)
		}
	}

	if cfg.HTTPAddr != "" {
		api := server.New(fd, hub, requestCh, server.Options{
			JWTSecret: cfg.ControlJWTSecret,
			History:   history,
			Queue:     q,
			Logger:    log,
		})
		spawn(runCtx, "status api", func(ctx context.Context) error { return api.ListenAndServe(ctx, cfg.HTTPAddr) })
	}

	log.Info("[Serve] started",
		zap.String("requests", reqServer.Addr().String()),
		zap.String("icecast", fmt.Sprintf("%s:%d%s", cfg.IcecastHost, cfg.IcecastPort, cfg.IcecastMount)),
		zap.Strings("providers", reg.Names()))

	feederErr := runStream(ctx, hard, fd, disp, log)
	cancel()
	stop()
	wg.Wait()

	if feederErr != nil {
		return fmt.Errorf("feeder stopped: %w", feederErr)
	}
	log.Info("[Serve] stopped")
	return nil
}

// runStream plays until the feeder returns. The dispatcher stops taking
// requests when soft is done and then shuts the feeder down at the next track
// boundary; cancelling hard cuts the stream immediately.
func runStream(soft, hard context.Context, fd *feeder.Feeder, disp *dispatcher.Dispatcher, log *zap.Logger) error {
	dctx, cancel := context.WithCancel(soft)
	defer cancel()

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		if err := disp.Run(dctx); err != nil {
			log.Error("[Serve] component stopped with error", zap.String("component", "dispatcher"), zap.Error(err))
		}
	}()

	err := fd.Run(hard)
	cancel()
	<-dispatched
	return err
}
