package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"voicecall-platform/internal/audio"
	"voicecall-platform/internal/audit"
	"voicecall-platform/internal/calls"
	"voicecall-platform/internal/config"
	"voicecall-platform/internal/pipeline"
	"voicecall-platform/internal/queue"
	"voicecall-platform/internal/telephony"
	"voicecall-platform/internal/tts"
	"voicecall-platform/internal/worker"
	"voicecall-platform/pkg/logger"
	"voicecall-platform/pkg/utils"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if err := run(logger.With(rootCtx, log), cfg, log); err != nil {
		log.Error("worker exited", "err", err)
		os.Exit(1)
	}
	log.Info("worker shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if err := os.MkdirAll(cfg.Audio.Dir, 0o755); err != nil {
		return fmt.Errorf("audio dir: %w", err)
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return fmt.Errorf("redis init: %w", err)
	}
	defer rdb.Close()

	registry, err := tts.NewRegistry(cfg.TTS, log)
	if err != nil {
		return err
	}
	sel := registry.Selection()
	log.Info("tts provider selected", "requested", sel.Requested, "active", sel.Active, "fell_back", sel.FellBack)

	dialer := telephony.NewUserAgent(cfg.SIP)
	if err := dialer.HealthCheck(ctx); err != nil {
		log.Warn("dial program unavailable, calls will be simulated", "err", err)
	}

	orch := pipeline.New(pipeline.Deps{
		Calls:      calls.NewPostgresRepo(db),
		TTS:        registry.Active(),
		Fetcher:    audio.NewFetcher(cfg.Audio.FetchMaxBytes, cfg.TTS.Timeout, audio.WithFetchLogger(log)),
		Normalizer: audio.NewTranscoder(cfg.Audio.FFmpegBinary, cfg.Audio.TranscodeTimeout),
		Dialer:     dialer,
		Audit:      audit.NewService(audit.NewPostgresRepo(db)),
	}, pipeline.Config{
		AudioDir:        cfg.Audio.Dir,
		StaleAfter:      cfg.Worker.StaleAfter,
		PersistAttempts: cfg.Worker.PersistRetryAttempts,
		PersistBackoff:  cfg.Worker.PersistRetryBackoff,
	})

	jobs := queue.NewRedisQueue(rdb, cfg.Worker.VisibilityTimeout)
	limiter := queue.NewTrunkLimiter(rdb, cfg.SIP.MaxConcurrentCalls, cfg.WorstCaseJobDuration())

	host, _ := os.Hostname()
	pool := worker.New(jobs, limiter, orch, worker.Config{
		Name:         fmt.Sprintf("%s-%d", host, os.Getpid()),
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
	})

	log.Info("worker starting",
		"concurrency", cfg.Worker.Concurrency,
		"visibility_timeout", cfg.Worker.VisibilityTimeout,
		"max_concurrent_calls", cfg.SIP.MaxConcurrentCalls,
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gCtx)
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutdown initiated, finishing in-flight calls")
		return nil
	})
	return g.Wait()
}
