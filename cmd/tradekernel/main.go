package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tradekernel/internal/adapt"
	"tradekernel/internal/catalyst"
	"tradekernel/internal/config"
	"tradekernel/internal/domain"
	"tradekernel/internal/feed"
	httpiface "tradekernel/internal/interfaces/http"
	"tradekernel/internal/metrics"
	"tradekernel/internal/orchestrator"
	"tradekernel/internal/perf"
	"tradekernel/internal/policy"
	"tradekernel/internal/regime"
	"tradekernel/internal/store"
)

const (
	appName = "tradekernel"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Autonomous trading decision core",
		Version: version,
		Long: `tradekernel runs the decision core of an autonomous trading agent:
a task orchestrator over a safety-gated policy engine, with regime-aware
strategy adaptation and a bounded audit trail.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config yaml (defaults + env when omitted)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent",
		Long:  "Starts the worker pool, market feed, adaptation loop, and observability server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(configPath)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config ok: %d workers, queue %d, adaptation %s\n",
				cfg.Orchestrator.Workers, cfg.Orchestrator.QueueCapacity, cfg.Adaptation.Speed)
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, validateCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func runAgent(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	var audit store.DecisionLog
	if cfg.Redis.Enabled {
		redisLog := store.NewRedisLog(cfg.Redis.RedisLogConfig)
		if err := redisLog.Ping(ctx); err != nil {
			return fmt.Errorf("redis decision log unreachable: %w", err)
		}
		audit = redisLog
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Decision log on Redis")
	} else {
		audit = store.NewMemoryLog(store.DefaultLogCap)
		log.Info().Msg("Decision log in memory")
	}

	var profiles store.ProfileStore
	if cfg.Postgres.Enabled {
		pg, err := store.OpenPostgresProfiles(cfg.Postgres)
		if err != nil {
			return err
		}
		profiles = pg
		log.Info().Msg("Strategy profiles on Postgres")
	} else {
		profiles = store.NewMemoryProfiles(seedProfiles()...)
		log.Info().Msg("Strategy profiles in memory")
	}

	limits, err := store.NewLimitsRecord(cfg.Limits)
	if err != nil {
		return err
	}

	classifier := regime.NewClassifier(cfg.Regime, 5*time.Second)
	tracker := perf.NewTracker(perf.DefaultWindowSize)
	calendar := catalyst.NewCalendar(cfg.Catalyst)
	state := orchestrator.NewState(limits, calendar)

	engine, err := policy.NewEngine(cfg.Policy, classifier, nil, audit, reg)
	if err != nil {
		return err
	}

	stream := feed.NewStream(cfg.Feed)
	orch, err := orchestrator.New(cfg.Orchestrator, engine, stream, nil, tracker, state, reg)
	if err != nil {
		return err
	}
	manager := adapt.NewManager(cfg.Adaptation, profiles, tracker, reg)

	orch.Start(ctx)
	defer orch.Stop()

	if cfg.Feed.URL != "" {
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Market feed stopped")
			}
		}()
	} else {
		log.Warn().Msg("No feed URL configured; decisions will fail until ticks arrive")
	}

	go adaptationLoop(ctx, cfg, manager, stream, classifier)

	server := httpiface.NewServer(cfg.HTTPAddr, orch, reg)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Observability server stopped")
		}
	}()

	log.Info().Str("version", version).Msg("tradekernel running")
	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// adaptationLoop drives the manager at its configured cadence, classifying
// the first configured symbol's window as the current regime.
func adaptationLoop(ctx context.Context, cfg config.Config, manager *adapt.Manager,
	stream *feed.Stream, classifier *regime.Classifier) {

	if cfg.Adaptation.Speed == domain.SpeedOff || len(cfg.Feed.Symbols) == 0 {
		return
	}
	interval := cfg.Adaptation.MinInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := stream.Snapshot(ctx, cfg.Feed.Symbols[0])
			if err != nil {
				continue
			}
			current := classifier.Classify(snapshot.Window)
			if _, err := manager.Tick(ctx, current); err != nil {
				log.Error().Err(err).Msg("Adaptation tick failed")
			}
		}
	}
}

// seedProfiles is the in-memory bootstrap set used when no profile database
// is configured.
func seedProfiles() []domain.StrategyProfile {
	return []domain.StrategyProfile{
		{
			Name:              "momentum-v1",
			Parameters:        map[string]float64{"position_scale": 1.0, "entry_threshold": 0.015},
			RegimeAffinity:    domain.RegimeTrendingUp,
			AdaptationVersion: 1,
		},
		{
			Name:              "grid-v1",
			Parameters:        map[string]float64{"spacing": 0.5, "levels": 10},
			RegimeAffinity:    domain.RegimeRanging,
			AdaptationVersion: 1,
		},
	}
}

func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
