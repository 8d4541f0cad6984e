package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jihwankim/tilefleet/pkg/aipath"
	"github.com/jihwankim/tilefleet/pkg/cmdsender"
	"github.com/jihwankim/tilefleet/pkg/collector"
	"github.com/jihwankim/tilefleet/pkg/detector"
	"github.com/jihwankim/tilefleet/pkg/emergency"
	"github.com/jihwankim/tilefleet/pkg/haladapter"
	"github.com/jihwankim/tilefleet/pkg/healing"
	"github.com/jihwankim/tilefleet/pkg/metrics"
	"github.com/jihwankim/tilefleet/pkg/reporting"
	"github.com/spf13/cobra"
)

// queueDepthPollInterval is how often the host loop samples the HAL
// adapter's inbound queue depth for the gauge; the queue itself has no
// change notification to drive this.
const queueDepthPollInterval = 2 * time.Second

func pollAdapterQueueDepth(ctx context.Context, adapter *haladapter.Adapter, reg *metrics.Registry) {
	ticker := time.NewTicker(queueDepthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.SetAdapterQueueDepth(adapter.QueueDepth())
		}
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Connect to a tile-sim instance and run the self-healing control loop",
	RunE:  runHost,
}

func init() {
	runCmd.Flags().String("hal-host", "", "simulator host (overrides config)")
	runCmd.Flags().Int("hal-port", 0, "simulator port (overrides config)")
	runCmd.Flags().String("format", "text", "event output format (text, json)")
}

func runHost(cmd *cobra.Command, args []string) error {
	halHost, _ := cmd.Flags().GetString("hal-host")
	halPort, _ := cmd.Flags().GetInt("hal-port")
	outputFormat, _ := cmd.Flags().GetString("format")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if halHost != "" {
		cfg.HAL.Host = halHost
	}
	if halPort > 0 {
		cfg.HAL.Port = halPort
	}

	logLevel := reporting.LogLevel(cfg.Logging.Level)
	if verbose {
		logLevel = reporting.LogLevelDebug
	}
	logger := reporting.NewLogger(reporting.LoggerConfig{
		Level:  logLevel,
		Format: reporting.LogFormat(cfg.Logging.Format),
		Output: os.Stdout,
	})
	logger.Info("healer-host starting", "version", version, "hal_host", cfg.HAL.Host, "hal_port", cfg.HAL.Port)

	reporter := reporting.NewEventReporter(reporting.OutputFormat(outputFormat), logger)

	em := emergency.New(emergency.Config{
		StopFile:             cfg.Emergency.StopFile,
		PollInterval:         cfg.Emergency.PollInterval,
		EnableSignalHandlers: true,
		Logger:               logger,
		Reporter:             reporter,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	em.OnStop(cancel)
	em.Start(ctx)

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
		if err := reg.Serve(cfg.Metrics.Addr); err != nil {
			logger.Warn("failed to start metrics server", "addr", cfg.Metrics.Addr, "error", err)
			reg = nil
		} else {
			logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
		}
	}

	adapter := haladapter.New(haladapter.Config{
		Host:              cfg.HAL.Host,
		Port:              cfg.HAL.Port,
		ReconnectInterval: cfg.HAL.ReconnectInterval,
		QueueCapacity:     cfg.HAL.QueueCapacity,
	}, logger)
	if reg != nil {
		adapter.SetReconnectHook(reg.RecordReconnect)
		go pollAdapterQueueDepth(ctx, adapter, reg)
	}
	adapter.Start(ctx)
	defer adapter.Stop()

	sender := cmdsender.New(adapter)

	coll := collector.New(adapter, cfg.HAL.QueueCapacity, logger)
	coll.Start(ctx)
	defer coll.Stop()

	det := detector.New(detector.Config{
		HeartbeatTimeout: cfg.Detector.HeartbeatTimeout,
		ErrorThreshold:   cfg.Detector.ErrorThreshold,
	})

	ai := aipath.New(cfg.AIPath.SparePool, cfg.AIPath.ModelPath)

	mgr := healing.New(ai, sender, reporter, healing.Config{
		CommandTimeout: cfg.Healing.CommandTimeout,
		SandboxTimeout: cfg.Healing.SandboxTimeout,
		HistoryLimit:   cfg.Healing.HistoryLimit,
	})
	if reg != nil {
		mgr.SetOutcomeHook(reg.RecordHealingAttempt)
	}

	logger.Info("control loop running")
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			mgr.Wait()
			return nil
		case msg, ok := <-coll.Out():
			if !ok {
				return nil
			}
			sender.Feed(msg)
			for _, fault := range det.Process(msg) {
				logger.WithNode(fault.NodeID).Warn("fault detected", "fault_type", fault.FaultType, "severity", fault.Severity)
				reporter.ReportFaultDetected(fault)
				if reg != nil {
					reg.RecordFault(fault.FaultType, fault.Severity)
				}
				mgr.HandleFault(ctx, fault)
			}
		}
	}
}
