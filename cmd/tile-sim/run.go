package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jihwankim/tilefleet/pkg/board"
	"github.com/jihwankim/tilefleet/pkg/emergency"
	"github.com/jihwankim/tilefleet/pkg/halserver"
	"github.com/jihwankim/tilefleet/pkg/metrics"
	"github.com/jihwankim/tilefleet/pkg/prcontroller"
	"github.com/jihwankim/tilefleet/pkg/reporting"
	"github.com/jihwankim/tilefleet/pkg/scenario"
	"github.com/jihwankim/tilefleet/pkg/scenario/parser"
	"github.com/jihwankim/tilefleet/pkg/scenario/validator"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Start the tile simulator and listen for host connections",
	RunE:  runSim,
}

func init() {
	runCmd.Flags().String("scenario", "", "path to a demo/test fault scenario YAML file (overrides config)")
	runCmd.Flags().Int("tiles", 0, "number of tiles (overrides config)")
	runCmd.Flags().Int("spares", 0, "number of spare tiles (overrides config)")
	runCmd.Flags().String("addr", "", "listen address (overrides config)")
}

func runSim(cmd *cobra.Command, args []string) error {
	scenarioPath, _ := cmd.Flags().GetString("scenario")
	tiles, _ := cmd.Flags().GetInt("tiles")
	spares, _ := cmd.Flags().GetInt("spares")
	addr, _ := cmd.Flags().GetString("addr")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if tiles > 0 {
		cfg.Board.Tiles = tiles
	}
	if spares > 0 {
		cfg.Board.Spares = spares
	}
	if addr != "" {
		cfg.Listen.Addr = addr
	}
	if scenarioPath == "" {
		scenarioPath = cfg.Scenario.Path
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
	logger.Info("tile-sim starting", "version", version, "tiles", cfg.Board.Tiles, "spares", cfg.Board.Spares)

	regionMap := board.LoadRegionMap(cfg.Board.RegionMapPath)
	b := board.New(cfg.Board.Tiles, cfg.Board.Spares, regionMap)

	pr := prcontroller.New(b, prcontroller.Config{
		WarmSwapMS:    float64(cfg.PR.WarmSwapMS),
		ColdPRMsPerKB: float64(cfg.PR.ColdPRMsPerKB),
		FailureRate:   cfg.PR.FailureRate,
	})

	server := halserver.New(b, pr, cfg.Listen.HeartbeatInterval, logger)

	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry()
		if err := reg.Serve(cfg.Metrics.Addr); err != nil {
			logger.Warn("failed to start metrics server", "addr", cfg.Metrics.Addr, "error", err)
		} else {
			logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
			server.SetSnapshotHook(func(snap board.Snapshot) {
				reg.SetTileCounts(tileCountsByStatus(snap))
			})
		}
	}

	em := emergency.New(emergency.Config{
		StopFile:             cfg.Emergency.StopFile,
		PollInterval:         cfg.Emergency.PollInterval,
		EnableSignalHandlers: true,
		Logger:               logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	em.OnStop(cancel)
	em.Start(ctx)

	if err := server.Start(ctx, cfg.Listen.Addr); err != nil {
		return fmt.Errorf("failed to start HAL server: %w", err)
	}
	logger.Info("listening", "addr", cfg.Listen.Addr)

	if scenarioPath != "" {
		sc, err := parser.ParseFile(scenarioPath)
		if err != nil {
			return fmt.Errorf("failed to parse scenario: %w", err)
		}
		v := validator.New()
		if err := v.Validate(sc); err != nil {
			return fmt.Errorf("scenario validation failed: %w", err)
		}
		for _, w := range v.Warnings {
			logger.Warn("scenario warning", "warning", w)
		}
		logger.Info("scheduling scenario", "name", sc.Name, "faults", len(sc.Faults))
		for _, f := range sc.Faults {
			scheduleFault(ctx, b, logger, f)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	server.Stop()
	return nil
}

func tileCountsByStatus(snap board.Snapshot) map[string]int {
	counts := make(map[string]int, len(snap.Nodes))
	for _, st := range snap.Nodes {
		counts[string(st.Status)]++
	}
	return counts
}

func scheduleFault(ctx context.Context, b *board.Board, logger *reporting.Logger, f scenario.ScheduledFault) {
	go func() {
		t := time.NewTimer(time.Duration(f.AtMS) * time.Millisecond)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		var dur *time.Duration
		if f.DurationS > 0 {
			d := time.Duration(f.DurationS * float64(time.Second))
			dur = &d
		}
		params := make(map[string]float64, len(f.Params))
		for k, v := range f.Params {
			if fv, ok := v.(float64); ok {
				params[k] = fv
			}
		}

		if err := b.InjectFault(f.TileID, f.FaultType, dur, params); err != nil {
			logger.Warn("scenario fault injection failed", "tile_id", f.TileID, "error", err)
			return
		}
		logger.Info("scenario fault injected", "tile_id", f.TileID, "fault_type", f.FaultType)
	}()
}
