package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/squadracorsepolito/seda"
	"github.com/squadracorsepolito/seda/internal"
	"github.com/squadracorsepolito/seda/internal/config"
	"github.com/squadracorsepolito/seda/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline until interrupted",
	RunE:  runPipeline,
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx, cancelCtx := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancelCtx()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	seda.SetLogLevel(level)

	l := internal.NewLogger("cmd", "run")

	if cfg.Telemetry.Enabled {
		telCfg := telemetry.NewDefaultConfig()
		telCfg.ServiceName = cfg.Telemetry.ServiceName
		telCfg.TraceSampleRatio = cfg.Telemetry.SampleRatio
		telCfg.MetricInterval = cfg.Telemetry.MetricInterval

		providers, err := telemetry.Init(ctx, telCfg)
		if err != nil {
			return err
		}

		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := providers.Close(closeCtx); err != nil {
				l.Error("failed to close telemetry", err)
			}
		}()
	}

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	l.Info("pipeline started", "address", p.source.LocalAddr().String())

	err = p.run(ctx, cfg)

	for _, s := range p.d.Stages() {
		stats := s.Stats()
		l.Info("stage stats",
			"stage", stats.Name,
			"workers", stats.PoolSize,
			"backlog", stats.BacklogSize,
			"process_rate", stats.ProcessRate,
			"last_action", stats.LastAction,
		)
	}

	return err
}
