package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"
	"peercast/internal/core/services"
	"peercast/internal/infrastructure/broker"
	"peercast/internal/infrastructure/media"
	"peercast/internal/infrastructure/monitoring"
	"peercast/internal/infrastructure/notify"
	"peercast/pkg/backoff"
	"peercast/pkg/config"
	"peercast/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: viewer <room-code-or-join-link>")
		os.Exit(2)
	}
	roomInput := os.Args[1]

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/peercast/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	console := notify.NewConsole(log)
	collector := monitoring.NewCollector()
	interactions := services.NewInteractionTracker()
	player := media.NewSink(interactions, log)

	brokerClient := broker.New(broker.Config{
		URL:          cfg.Broker.URL,
		WriteTimeout: cfg.Broker.WriteTimeout,
		Heartbeat:    cfg.Broker.HeartbeatInterval,
	}, log)

	viewer := services.NewViewer(services.ViewerDeps{
		Broker:       brokerClient,
		Player:       player,
		Notifier:     console,
		Metrics:      collector,
		Sched:        ports.SystemScheduler(),
		Interactions: interactions,

		ICE: domain.ICEConfig{
			STUNURLs:          cfg.ICE.STUNURLs,
			CandidatePoolSize: cfg.ICE.CandidatePoolSize,
			BundlePolicy:      cfg.ICE.BundlePolicy,
			RTCPMuxPolicy:     cfg.ICE.RTCPMuxPolicy,
			SDPSemantics:      cfg.ICE.SDPSemantics,
		},
		Policy: backoff.Policy{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			BaseDelay:   cfg.Reconnect.BaseDelay,
			MaxDelay:    cfg.Reconnect.MaxDelay,
		},
		ArrivalTimeout: cfg.Playback.StreamArrivalTimeout,

		Logger: log,
	})

	if err := viewer.Join(context.Background(), roomInput); err != nil {
		log.Fatalw("failed to join room", "room", roomInput, "error", err)
	}

	// Keyboard gestures stand in for taps: 'm' toggles mute, anything else
	// counts as a plain interaction, 'q' leaves.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch scanner.Text() {
			case "m":
				viewer.Playback.ToggleMute()
			case "q":
				viewer.Leave()
				os.Exit(0)
			default:
				viewer.Playback.Tap()
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infow("received shutdown signal", "signal", sig)

	viewer.Leave()
	log.Info("viewer stopped")
}
