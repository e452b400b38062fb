package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/blockedby/videorelay/internal/bot"
	"github.com/blockedby/videorelay/internal/claim"
	"github.com/blockedby/videorelay/internal/config"
	"github.com/blockedby/videorelay/internal/database"
	"github.com/blockedby/videorelay/internal/extractor"
	"github.com/blockedby/videorelay/internal/logger"
	"github.com/blockedby/videorelay/internal/nats"
	"github.com/blockedby/videorelay/internal/pipeline"
	"github.com/blockedby/videorelay/internal/publisher"
	"github.com/blockedby/videorelay/internal/repository"
	"github.com/blockedby/videorelay/internal/scheduler"
	"github.com/blockedby/videorelay/internal/stats"
	"github.com/blockedby/videorelay/internal/telegram"
	"github.com/blockedby/videorelay/internal/transcoder"
	"github.com/blockedby/videorelay/internal/web"
)

// multiSink fans lifecycle events out to every configured sink.
type multiSink []bot.EventSink

func (m multiSink) TaskFinished(task scheduler.Task, err error) {
	for _, s := range m {
		s.TaskFinished(task, err)
	}
}

func (m multiSink) ProcessingToggled(running bool) {
	for _, s := range m {
		s.ProcessingToggled(running)
	}
}

func main() {
	_ = godotenv.Load()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting video relay service")

	// 3. Setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// 4. Open settings database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	repo, err := repository.New(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// 5. Connect to NATS
	nc, err := nats.New(cfg.NatsURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		nc = nil
	} else {
		defer nc.Close()
	}

	var pub *publisher.Publisher
	if nc != nil {
		pub = publisher.New(nc, log)
	} else {
		pub = publisher.New(nil, log)
	}

	// 6. Initialize telegram manager
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		log.Fatal().Msg("TG_API_ID and TG_API_HASH are required")
	}

	tgManager := telegram.NewManager(cfg)
	if err := tgManager.Start(ctx); err != nil {
		log.Error().Err(err).Msg("telegram manager start failed")
	}
	tgClient := telegram.NewClient(tgManager)
	defer tgClient.Close()

	// 7. Media toolchain
	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.TempDir).Msg("failed to create temp dir")
	}

	ext, err := extractor.New(cfg.ProxyURL, log.Component("extractor"))
	if err != nil {
		log.Fatal().Err(err).Msg("yt-dlp is required")
	}
	enc, err := transcoder.New(log.Component("transcoder"))
	if err != nil {
		log.Fatal().Err(err).Msg("ffmpeg is required")
	}

	// 8. Claim protocol
	tag := claim.NewTag()
	set := claim.NewProcessingSet()
	arbiter := claim.NewArbiter(tag, tgClient.Self(), tgClient, set, claim.Config{
		JitterMax:    cfg.Tuning.ClaimJitterMax,
		PollInterval: cfg.Tuning.ClaimPollInterval,
		PollWindow:   cfg.Tuning.ClaimPollWindow,
	}, log.Component("claim"))
	log.Info().Str("tag", string(tag)).Msg("session claim tag generated")

	// 9. Processing pipeline & scheduler
	ledger := stats.NewLedger()

	pipeCfg := pipeline.DefaultConfig(cfg.TempDir)
	pipeCfg.MaxDuration = cfg.Tuning.MaxVideoDuration
	pipeCfg.ProgressMinInterval = cfg.Tuning.ProgressMinInterval
	pipeCfg.ProgressMinDeltaPct = float64(cfg.Tuning.ProgressMinDeltaPct)
	pipeCfg.PreferGPU = cfg.PreferGPU
	pipeCfg.CleanupRetries = cfg.Tuning.CleanupRetries
	pipeCfg.CleanupRetryInterval = cfg.Tuning.CleanupRetryInterval
	pipe := pipeline.New(tgClient, ext, enc, tag, tgClient.Self, pipeCfg, log.Component("pipeline"))

	// 10. Web UI hub & event sinks
	hub := web.NewHub()
	go hub.Run()
	events := multiSink{pub, web.NewEventSink(hub)}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.MaxActive = cfg.Tuning.MaxActiveTasks
	schedCfg.TaskTimeout = cfg.Tuning.TaskTimeout
	schedCfg.DispatchCooldown = cfg.Tuning.DispatchCooldown
	schedCfg.QueueWarnDepth = cfg.Tuning.QueueWarnDepth
	sched := scheduler.New(schedCfg, pipe, arbiter, ledger, events.TaskFinished, log.Component("scheduler"))

	// 11. Intake service
	svc := bot.New(repo, arbiter, sched, pipe, ledger, events, tgClient.Self, bot.Config{
		TranscodeEnabled:  cfg.TranscodeEnabled,
		TempDir:           cfg.TempDir,
		TempMaxAge:        cfg.Tuning.TempMaxAge,
		TempSweepInterval: cfg.Tuning.TempSweepInterval,
	}, log.Component("bot"))
	tgManager.OnMessage(svc.HandleMessage)

	// 12. HTTP control API
	handler := web.NewHandler(svc, sched, ledger, repo, tgClient)
	server := web.NewServer(cfg.HTTPPort, web.NewRouter(handler, hub))

	log.Info().Int("port", cfg.HTTPPort).Msg("starting web server")
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// 13. Start processing when a session is available
	if tgClient.GetStatus() == telegram.StatusReady {
		svc.Start()
	} else {
		log.Warn().Msg("telegram session not ready, processing is paused; run tg-auth and restart")
	}

	// 14. Wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down services...")

	svc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}
