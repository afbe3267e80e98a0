package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/ClickHouse/clickhouse-go"
	"github.com/farwydi/bookaware"
	"github.com/farwydi/bookaware/broker"
	"github.com/farwydi/bookaware/config"
	"github.com/farwydi/bookaware/history"
	"github.com/farwydi/bookaware/homeassistant"
	"github.com/farwydi/bookaware/metrics"
	"github.com/farwydi/bookaware/scraper"
	"github.com/farwydi/bookaware/sender"
	"github.com/farwydi/bookaware/tracker"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrape periodically and publish to Home Assistant",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func newSource(cfg config.Config, logger bookaware.Logger) (*scraper.VOEBB, error) {
	dumper := bookaware.NewNullDumper()
	if cfg.DumpDir != "" {
		var err error
		dumper, err = bookaware.NewFileDumper(cfg.DumpDir, func(stage string, err error) {
			logger.Warnw("failed to dump page", "stage", stage, "error", err)
		})
		if err != nil {
			return nil, fmt.Errorf("dump dir: %w", err)
		}
	}

	return &scraper.VOEBB{
		StartURL:  cfg.StartURL,
		Username:  cfg.Username,
		Password:  cfg.Password,
		UserAgent: cfg.UserAgent,
		Client: scraper.ClientConfig{
			Timeout:  cfg.HTTPTimeout,
			RetryMax: cfg.HTTPRetries,
		},
		Logger: logger,
		Dumper: dumper,
	}, nil
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.ResolveMQTT(ctx, nil); err != nil && !errors.Is(err, config.ErrNoSupervisor) {
		logger.Errorw("failed to get mqtt service info", "error", err)
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorw("invalid configuration", "error", err)
		return err
	}
	logger.Infow("have config",
		"username", cfg.Username,
		"interval", cfg.Interval(),
		"topic_prefix", cfg.TopicPrefix,
		"mqtt_host", cfg.MQTTHost,
		"mqtt_port", cfg.MQTTPort,
		"history_driver", cfg.HistoryDriver,
	)

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, m, logger)
		go func() {
			if err := srv.Run(); err != nil {
				logger.Errorw("metrics server error", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warnw("metrics server shutdown failed", "error", err)
			}
		}()
	}

	client, err := broker.New(broker.Options{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		ClientID: cfg.MQTTClientID,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, broker.OptionsDefault.ConnectTimeout)
	if err := client.Connect(cctx); err != nil {
		// the sender buffers until the broker shows up
		logger.Warnw("mqtt broker unreachable, buffering", "error", err)
	}
	cancel()
	defer client.Close()

	s := sender.NewSender(client, sender.Config{
		Logger:            logger,
		Stats:             m,
		SendInterval:      cfg.SendInterval,
		UseMemoryFallback: true,
		FileWorkspace:     cfg.QueueDir,
	})
	if err := s.Open(homeassistant.Topics(cfg.TopicPrefix)...); err != nil {
		logger.Warnw("failed to open persisted queues", "error", err)
	}
	m.WatchPending(s.Pending)

	pusherDone := make(chan struct{})
	go func() {
		defer close(pusherDone)
		s.RunPusher(context.Background())
	}()
	defer func() {
		s.Stop(true)
		<-pusherDone
	}()

	var recorder *history.Recorder
	if cfg.HistoryDriver != "" {
		recorder, err = history.Open(cfg.HistoryDriver, cfg.HistoryDSN, logger)
		if err != nil {
			return err
		}
		defer recorder.Close()
		if err := recorder.EnsureSchema(ctx); err != nil {
			logger.Warnw("history disabled", "error", err)
			recorder = nil
		}
	}

	source, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	t := &tracker.Tracker{
		Source:    source,
		Publisher: homeassistant.NewPublisher(s, cfg.TopicPrefix, cfg.DueSoonDays),
		Observer:  m,
		Logger:    logger,
		Account:   cfg.Username,
		Interval:  cfg.Interval(),
	}
	if recorder != nil {
		t.History = recorder
	}

	logger.Infow("bookaware started", "version", Version)
	return t.Run(ctx)
}
