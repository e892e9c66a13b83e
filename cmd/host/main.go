package main

import (
	"context"
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
	"peercast/pkg/share"
)

func main() {
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

	brokerClient := broker.New(broker.Config{
		URL:          cfg.Broker.URL,
		WriteTimeout: cfg.Broker.WriteTimeout,
		Heartbeat:    cfg.Broker.HeartbeatInterval,
	}, log)

	device := media.NewDevice(media.DeviceConfig{
		VideoFile: cfg.Capture.VideoFile,
		AudioFile: cfg.Capture.AudioFile,
	}, log)

	host := services.NewHost(services.HostDeps{
		Broker:   brokerClient,
		Device:   device,
		Notifier: console,
		Metrics:  collector,
		Sched:    ports.SystemScheduler(),

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
		Constraints: domain.CaptureConstraints{
			Width:          domain.ValueRange{Ideal: cfg.Capture.WidthIdeal, Max: cfg.Capture.WidthMax},
			Height:         domain.ValueRange{Ideal: cfg.Capture.HeightIdeal, Max: cfg.Capture.HeightMax},
			FrameRate:      domain.ValueRange{Ideal: cfg.Capture.FrameRateIdeal, Max: cfg.Capture.FrameRateMax},
			DisplaySurface: domain.SurfaceMonitor,
			Audio:          cfg.Capture.AudioFile != "",
		},
		Refinement:   domain.RefinementConstraints(),
		TransformSDP: broker.WithVideoBitrateCap(domain.VideoBitrateCapKbps),

		OnReady: func(id domain.PeerID) {
			if url, err := share.JoinURL(cfg.Share.JoinBaseURL, string(id)); err == nil {
				log.Infof("share this link with viewers: %s", url)
			}
			log.Infof("room code: %s", id)
		},

		Logger: log,
	})

	if err := host.Start(context.Background()); err != nil {
		log.Fatalw("failed to start host", "error", err)
	}

	// Enter on the console invokes the pending notification action, e.g.
	// the start-sharing prompt.
	go console.RunInput(os.Stdin)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infow("received shutdown signal", "signal", sig)

	host.EndSession()
	log.Info("host stopped")
}
