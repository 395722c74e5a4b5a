package worker

import (
	"context"
	"errors"
	"fmt"
	"jobstream/internal/config"
	"jobstream/internal/infra/database"
	"jobstream/internal/infra/redisq"
	"jobstream/internal/pipeline"
	"jobstream/internal/usecase"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"
)

type Config struct {
	ConsumerName string
	Queues       []string
	Concurrency  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	MetricsPort  int
}

func Run(cfg Config) error {
	appCfg := config.Load()
	cli := redisq.New(appCfg.Redis, appCfg.Queue)
	defer cli.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	if len(cfg.Queues) == 0 {
		cfg.Queues = pipeline.Queues()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	if err := cli.Init(ctx, cfg.Queues...); err != nil {
		return err
	}

	db, err := database.Open(appCfg.Database, logger.Warn)
	if err != nil {
		return err
	}
	repo := database.NewSetupRepository(db)
	events := redisq.NewEventStore(cli.Rdb)

	registry := usecase.NewRegistry()
	pipeline.Stages{
		Fetcher:   pipeline.HTTPFetcher{UserAgent: "jobstream-crawler/1.0"},
		Extractor: pipeline.BasicExtractor{},
		Repo:      repo,
	}.Register(registry)

	g, ctx := errgroup.WithContext(ctx)

	// Run scheduler
	sched := redisq.NewScheduler(cli, appCfg.Queue.SchedulerInterval)
	g.Go(func() error {
		return ignoreCanceled(sched.Run(ctx))
	})

	for i := 0; i < cfg.Concurrency; i++ {
		consumer := usecase.Consumer{
			Q:            cli,
			Events:       events,
			Registry:     registry,
			Queues:       cfg.Queues,
			ConsumerName: fmt.Sprintf("%s-%d", cfg.ConsumerName, i+1),
			BaseBackoff:  cfg.BaseBackoff,
			MaxBackoff:   cfg.MaxBackoff,
		}
		g.Go(func() error {
			log.Ctx(ctx).Info().Str("consumer", consumer.ConsumerName).Strs("queues", consumer.Queues).Msg("consumer started")
			return ignoreCanceled(consumer.Run(ctx))
		})
	}

	if cfg.MetricsPort > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Ctx(ctx).Info().Msgf("metrics serving on port %d", cfg.MetricsPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info().Msg("worker stopped")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
