package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alvmarrod/hvt-hunter/internal/analyzer"
	"github.com/alvmarrod/hvt-hunter/internal/config"
	"github.com/alvmarrod/hvt-hunter/internal/crawler"
	"github.com/alvmarrod/hvt-hunter/internal/fetcher"
	"github.com/alvmarrod/hvt-hunter/internal/filter"
	"github.com/alvmarrod/hvt-hunter/internal/metrics"
	"github.com/alvmarrod/hvt-hunter/internal/notify"
	"github.com/alvmarrod/hvt-hunter/internal/session"
	"github.com/alvmarrod/hvt-hunter/internal/version"
)

const (
	progressInterval = 10 * time.Second
	forceQuitTimeout = 5 * time.Second
	proxyCheckLimit  = 10 * time.Second
)

var (
	runSeeds []string
	runFresh bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start or resume a crawl session",
	Long: `Start a crawl from the configured seeds, or resume the checkpointed session
when one exists. The first SIGINT/SIGTERM stops dispatching and lets in-flight
profiles finish within shutdown_grace_ms; a second one cancels them and exits
after a final checkpoint.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runSeeds, "seed", "s", nil, "Seed username (repeatable, added to configured seeds)")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "Move the existing checkpoint aside and start a new session")

	rootCmd.AddCommand(runCmd)
}

func runRun(_ *cobra.Command, _ []string) error {
	logrus.Infof("HVT Hunter v%s starting...", version.Version)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if len(runSeeds) > 0 {
		cfg.Seeds = append(cfg.Seeds, runSeeds...)
		if err := cfg.Finalize(); err != nil {
			return err
		}
	}

	logrus.Infof("Configuration loaded: seeds=%d, hashtags=%d, depth=%d, profiles=%d, workers=%d, proxies=%d",
		len(cfg.Seeds), len(cfg.SeedHashtags), cfg.MaxDepth, cfg.MaxProfiles, cfg.ConcurrentWorkers, len(cfg.Proxies))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.CheckProxies && len(cfg.Proxies) > 0 {
		target, err := fetcher.TargetAddress(cfg.APIBaseURL)
		if err != nil {
			return fmt.Errorf("invalid api_base_url: %w", err)
		}
		cfg.Proxies = fetcher.CheckProxies(ctx, cfg.Proxies, target, proxyCheckLimit)
	}
	if cfg.RequireProxies && len(cfg.Proxies) == 0 {
		return fetcher.ErrNoProxies
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	transport, err := fetcher.NewCollyTransport(fetcher.TransportConfig{
		BaseURL:          cfg.APIBaseURL,
		ProfileURLFormat: cfg.ProfileURLFormat,
		SessionToken:     cfg.SessionToken,
		Proxies:          cfg.Proxies,
		RequestTimeout:   requestTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize transport: %w", err)
	}
	if cfg.SessionToken != "" {
		if err := transport.VerifyCredentials(ctx); err != nil {
			return err
		}
		logrus.Info("Session credentials accepted")
	}

	pool := fetcher.NewProxyPool(cfg.Proxies, cfg.ProxyFailureThreshold, time.Duration(cfg.ProxyCooldownMs)*time.Millisecond)
	f := fetcher.NewRateLimitedFetcher(transport, pool, fetcher.Options{
		Policy: fetcher.Policy{
			MinDelay:          time.Duration(cfg.MinDelayMs) * time.Millisecond,
			MaxDelay:          time.Duration(cfg.MaxDelayMs) * time.Millisecond,
			BackoffMultiplier: cfg.BackoffMultiplier,
			MaxBackoff:        time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
			ResetAfter:        cfg.BackoffResetAfter,
		},
		RetryAttempts:  cfg.RetryAttempts,
		RetryDelay:     time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		RequestTimeout: requestTimeout,
		PageSize:       cfg.FollowerPageSize,
	})

	pipeline, err := filter.Build(cfg, analyzer.NewKeywordAnalyzer())
	if err != nil {
		return fmt.Errorf("failed to build filter pipeline: %w", err)
	}
	logrus.Infof("Filter stages: %v", pipeline.StageNames())

	if runFresh {
		dest, err := session.MoveAside(cfg.SessionPath, time.Now())
		if err != nil {
			return fmt.Errorf("failed to move previous session aside: %w", err)
		}
		if dest != "" {
			logrus.Infof("Previous session moved to %s", dest)
		}
	}

	store, err := session.Open(session.Options{
		Path:             cfg.SessionPath,
		Every:            cfg.CheckpointEvery,
		Interval:         time.Duration(cfg.CheckpointIntervalMs) * time.Millisecond,
		FailureThreshold: cfg.CheckpointFailureThreshold,
	})
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer store.Close()

	logrus.Infof("Session store initialized: %s", cfg.SessionPath)

	state, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	tracker := metrics.NewTracker()
	engine, err := crawler.NewEngine(crawler.Options{
		Config:   cfg,
		Fetcher:  f,
		Pipeline: pipeline,
		Store:    store,
		Notifier: notify.LogNotifier{},
		Tracker:  tracker,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize crawler: %w", err)
	}

	switch {
	case state != nil:
		engine.Restore(state)
		if len(runSeeds) > 0 {
			engine.Seed(runSeeds)
		}
		if engine.Frontier().Len() == 0 {
			logrus.Infof("Session %s has nothing left to crawl; use --fresh to start over", state.SessionID)
		}
	default:
		seeds := cfg.Seeds
		if len(cfg.SeedHashtags) > 0 {
			discovered, err := crawler.DiscoverSeeds(ctx, f, cfg.SeedHashtags, cfg.HashtagSeedLimit)
			if err != nil {
				return fmt.Errorf("seed discovery failed: %w", err)
			}
			seeds = append(seeds, discovered...)
		}
		if len(seeds) == 0 {
			return config.ErrNoSeeds
		}
		logrus.Infof("No checkpoint found, starting session %s", store.SessionID())
		engine.Seed(seeds)
	}

	// Second signal skips the grace period and forces an exit
	forceQuit := make(chan os.Signal, 1)
	signal.Notify(forceQuit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceQuit)
	go func() {
		<-forceQuit        // First signal (handled through ctx)
		sig := <-forceQuit // Second signal = force quit
		logrus.Warnf("Received second signal (%v) - aborting in-flight work!", sig)
		engine.Abort()

		time.Sleep(forceQuitTimeout)
		logrus.Error("Final checkpoint did not complete in time, exiting")
		if err := tracker.WriteToFile(cfg.MetricsPath, "forced_exit"); err != nil {
			logrus.Errorf("Emergency metrics save failed: %v", err)
		}
		os.Exit(1)
	}()

	var wg sync.WaitGroup
	stopProgress := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logrus.Infof("%s | Queue: %d queued, %d in flight",
					tracker.LogProgress(), engine.Frontier().Len(), engine.Frontier().InFlight())
			case <-stopProgress:
				return
			}
		}
	}()

	summary, runErr := engine.Run(ctx)

	close(stopProgress)
	wg.Wait()

	logrus.Info("Final stats: " + tracker.LogProgress())
	if err := tracker.WriteToFile(cfg.MetricsPath, summary.Reason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	logrus.Infof("Session %s %s (%s): %d HVTs, %d visited, %d still queued",
		summary.SessionID, summary.Status, summary.Reason, summary.HVTs, summary.Visited, summary.Queued)

	if runErr != nil {
		if errors.Is(runErr, fetcher.ErrCredentialsRejected) {
			return fmt.Errorf("%w; refresh %s and run again to resume", runErr, config.SessionTokenEnv)
		}
		return runErr
	}
	return nil
}
