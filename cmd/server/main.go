// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main starts the EchoVersa companion server: it probes the
// environment, wires every capability's provider chain through the fallback
// executor, and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/AthunSujith/echoversa/internal/api"
	"github.com/AthunSujith/echoversa/internal/config"
	"github.com/AthunSujith/echoversa/internal/fallback"
	"github.com/AthunSujith/echoversa/internal/health"
	"github.com/AthunSujith/echoversa/internal/logging"
	"github.com/AthunSujith/echoversa/internal/metrics"
	"github.com/AthunSujith/echoversa/internal/models"
	"github.com/AthunSujith/echoversa/internal/monitor"
	"github.com/AthunSujith/echoversa/internal/notify"
	"github.com/AthunSujith/echoversa/internal/probe"
	"github.com/AthunSujith/echoversa/internal/providers"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBase()
}

func main() {
	fmt.Printf("EchoVersa Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)

	var configPath string
	var outputDir string
	var debug bool
	flag.StringVar(&configPath, "config", "config.yaml", "Configure File Path")
	flag.StringVar(&outputDir, "output", "output", "Directory for generated audio files")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}
	if debug {
		cfg.Debug = true
	}

	if err = logging.Configure(cfg.Logging, cfg.Debug); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, configPath, outputDir); err != nil {
		log.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, configPath, outputDir string) error {
	profile, err := models.DetectHardware(ctx)
	if err != nil {
		log.WithError(err).Warn("hardware detection incomplete, local model selection may be conservative")
	}

	tracker := health.NewTracker(health.DefaultConfig())
	hub := notify.NewHub(cfg.NotificationHistory)
	tracker.AddListener(transitionNotifier(hub))
	store := metrics.NewStore(256)

	registry := models.NewRegistry()
	for _, spec := range cfg.Models.Extra {
		if errAdd := registry.Add(spec); errAdd != nil {
			return fmt.Errorf("invalid extra model spec: %w", errAdd)
		}
	}
	selector := models.NewSelector(registry)
	downloader := models.NewDownloader(cfg.Models.CacheDir, cfg.Models.BaseURL, nil)
	loader := models.NewLoader(downloader, nil)

	executor := fallback.NewExecutor(&cfg.Fallback, tracker, store)
	built := buildProviders(cfg, selector, loader, profile, hub)
	for capability, names := range cfg.Chains {
		chain := make([]fallback.Provider, 0, len(names))
		for _, name := range names {
			provider, ok := built[name]
			if !ok {
				return fmt.Errorf("chain %q references unknown provider %q", capability, name)
			}
			chain = append(chain, provider)
		}
		if errChain := executor.SetChain(capability, chain); errChain != nil {
			return fmt.Errorf("capability %q: %w", capability, errChain)
		}
	}

	prober := registerProbes(cfg, tracker, built)
	if _, err = prober.RunAll(ctx); err != nil {
		log.WithError(err).Warn("startup probing was interrupted")
	}
	if cfg.ReprobeInterval > 0 {
		go prober.Watch(ctx, cfg.ReprobeInterval)
	}

	tracker.Register("system", true, "")
	mon := monitor.New(&cfg.Monitor, nil, store, hub, tracker)
	for capability := range cfg.Chains {
		mon.WatchOperation(capability)
	}
	if err = mon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start resource monitor: %w", err)
	}
	defer mon.Stop()

	if err = os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	server := api.NewServer(executor, tracker, hub, prober, registry, downloader, loader, store, profile, outputDir)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: server.Router(),
	}

	// A config edit re-runs the probes so newly installed binaries or fixed
	// endpoints are picked up without a restart. Chains and ports still
	// require a restart.
	watcher := config.NewWatcher(configPath, func(updated *config.Config) {
		log.Info("configuration changed, re-probing components")
		if _, errProbe := prober.RunAll(context.Background()); errProbe != nil {
			log.WithError(errProbe).Warn("re-probe after config change failed")
		}
	})
	if err = watcher.Start(); err != nil {
		log.WithError(err).Warn("config watcher unavailable, edits require a restart")
	} else {
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("EchoVersa API listening on %s", httpServer.Addr)
		if errServe := httpServer.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
	}()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildProviders constructs every provider the configuration knows how to
// build, keyed by the name the chains use.
func buildProviders(cfg *config.Config, selector *models.Selector, loader *models.Loader,
	profile models.HardwareProfile, hub *notify.Hub) map[string]fallback.Provider {
	progress := downloadProgress(hub)

	out := map[string]fallback.Provider{
		"remote-text": providers.NewRemoteTextProvider("remote-text", "remote-text",
			cfg.Providers.RemoteText.Endpoint, cfg.RemoteTextAPIKey(), cfg.Providers.RemoteText.Model, nil),
		"local-text": providers.NewLocalTextProvider("local-text", "local-text",
			selector, loader, profile, cfg.Providers.LocalText.InferCmd, cfg.Providers.LocalText.InferArgs, progress),
		"mock-text": providers.NewMockTextProvider("mock-text"),
		"remote-tts": providers.NewRemoteSpeechProvider("remote-tts", "remote-tts",
			cfg.Providers.RemoteTTS.Endpoint, cfg.RemoteTTSAPIKey(), nil),
		"speech-cmd":  providers.NewCommandSpeechProvider("speech-cmd", "speech-cmd", cfg.Providers.SpeechCmd.Binary),
		"mock-speech": providers.NewMockSpeechProvider("mock-speech"),
		"ffmpeg-mix":  providers.NewFFmpegMixProvider("ffmpeg-mix", "ffmpeg-mix", cfg.Providers.FFmpeg.Binary),
		"wave-mix":    providers.NewWaveMixProvider("wave-mix", "wave-mix"),
	}
	return out
}

// transitionNotifier broadcasts health state changes so clients see why a
// capability moved to a fallback. Recoveries are informational, everything
// else is a warning.
func transitionNotifier(hub *notify.Hub) health.TransitionListener {
	return func(tr health.Transition) {
		severity := notify.SeverityWarning
		message := fmt.Sprintf("Service %s is having trouble, switching to a backup if one is available.", tr.ComponentID)
		if tr.To == health.StateAvailable {
			severity = notify.SeverityInfo
			message = fmt.Sprintf("Service %s is working again.", tr.ComponentID)
		}
		hub.Publish(notify.Notification{
			Severity:        severity,
			ComponentID:     tr.ComponentID,
			UserMessage:     message,
			TechnicalDetail: fmt.Sprintf("state %s -> %s: %s", tr.From, tr.To, tr.Reason),
		})
	}
}

// downloadProgress surfaces model downloads as notifications so clients can
// show why generation is slow the first time a model is used.
func downloadProgress(hub *notify.Hub) models.ProgressFunc {
	return func(p models.Progress) {
		pct := 0.0
		if p.Total > 0 {
			pct = float64(p.Downloaded) / float64(p.Total) * 100
		}
		hub.Publish(notify.Notification{
			Severity:        notify.SeverityInfo,
			ComponentID:     "local-text",
			UserMessage:     fmt.Sprintf("Preparing local model %s (%.0f%%)", p.Model, pct),
			TechnicalDetail: fmt.Sprintf("downloaded %d of %d bytes", p.Downloaded, p.Total),
		})
	}
}

// registerProbes wires an environment check for every provider the chains
// reference. Mock providers have no external requirements and probe clean.
func registerProbes(cfg *config.Config, tracker *health.Tracker, built map[string]fallback.Provider) *probe.Prober {
	prober := probe.NewProber(tracker, cfg.ProbeTimeout)

	minFree := uint64(cfg.Models.MinFreeDiskGB) * 1024 * 1024 * 1024
	checks := map[string]probe.Func{
		"remote-text": probe.HTTPCheck(cfg.Providers.RemoteText.Endpoint + "/v1/models"),
		"local-text": probe.All(
			probe.BinaryCheck(cfg.Providers.LocalText.InferCmd),
			probe.DirWritableCheck(cfg.Models.CacheDir),
			probe.DiskSpaceCheck(cfg.Models.CacheDir, minFree),
		),
		"mock-text":   nil,
		"remote-tts":  remoteTTSCheck(cfg),
		"mock-speech": nil,
		"ffmpeg-mix":  ffmpegCheck(cfg),
		"wave-mix":    nil,
	}
	if p, ok := built["speech-cmd"].(*providers.CommandSpeechProvider); ok {
		checks["speech-cmd"] = probe.BinaryCheck(p.Binary())
	}

	seen := map[string]bool{}
	for _, names := range cfg.Chains {
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			check, ok := checks[name]
			if !ok || check == nil {
				check = func(context.Context) error { return nil }
			}
			prober.Register(probe.Probe{ComponentID: name, Check: check})
		}
	}
	return prober
}

func remoteTTSCheck(cfg *config.Config) probe.Func {
	endpoint := cfg.Providers.RemoteTTS.Endpoint
	if endpoint == "" {
		return func(context.Context) error {
			return errors.New("no text-to-speech endpoint configured")
		}
	}
	return probe.HTTPCheck(endpoint)
}

func ffmpegCheck(cfg *config.Config) probe.Func {
	binary := cfg.Providers.FFmpeg.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	return probe.BinaryCheck(binary)
}
