// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/surface"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/controller"
	"github.com/xkilldash9x/webpilot/internal/coords"
	"github.com/xkilldash9x/webpilot/internal/executor"
	"github.com/xkilldash9x/webpilot/internal/learner"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/overlay"
	"github.com/xkilldash9x/webpilot/internal/stabilizer"
)

// newRunCmd creates the `run` command: one agent task from prompt to final
// answer.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Runs one browser task described in natural language",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line values override file and env config.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			return viper.BindPFlag("llm.model", cmd.Flags().Lookup("model"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if cfg.LLM.APIKey == "" {
				return fmt.Errorf("no API key configured; set WEBPILOT_LLM_API_KEY or GEMINI_API_KEY")
			}

			prompt := strings.Join(args, " ")
			startURL, _ := cmd.Flags().GetString("url")

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			if startURL != "" {
				if !strings.HasPrefix(startURL, "http://") && !strings.HasPrefix(startURL, "https://") {
					startURL = "https://" + startURL
				}
				if err := components.Surface.Navigate(ctx, startURL); err != nil {
					return fmt.Errorf("failed to open start URL: %w", err)
				}
			}

			res, err := components.Controller.Run(ctx, prompt)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Run aborted by user signal")
					return err
				}
				return err
			}

			if res.Cancelled {
				fmt.Fprintln(cmd.OutOrStdout(), "Run cancelled.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.FinalText)
			return nil
		},
	}

	runCmd.Flags().String("url", "", "URL to open before the first step")
	runCmd.Flags().Bool("headless", true, "run the browser headless")
	runCmd.Flags().Int("max-steps", 0, "override the per-run step budget")
	runCmd.Flags().String("model", "", "override the decision model")
	return runCmd
}

// runComponents holds everything a run needs, with a single shutdown path.
type runComponents struct {
	Surface    *surface.CDPSurface
	Controller *controller.Controller
	Bus        *overlay.Bus
	Learner    *learner.Learner
	stopRelay  func()
}

// initializeRunComponents wires the full stack: browser surface,
// stabilizer, executor, decision stream, instruction store, learner,
// overlay relay, controller.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	surf, err := surface.NewCDPSurface(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	stab := stabilizer.New(surf, cfg.Agent, logger)
	mapper := coords.New(cfg.Agent.ViewportTolerance, logger)
	exec := executor.New(surf, mapper, stab, cfg.Agent, logger)

	streamer, err := llmclient.NewStreamClient(cfg.LLM, logger)
	if err != nil {
		surf.Close()
		return nil, err
	}

	components := &runComponents{Surface: surf}

	var instructions controller.InstructionSource
	var transcripts controller.TranscriptLearner
	if cfg.Learner.Enabled {
		store, err := learner.NewStore(cfg.Learner.StorePath, logger)
		if err != nil {
			surf.Close()
			return nil, err
		}
		if err := store.Load(); err != nil {
			logger.Warn("Failed to load instruction store", zap.Error(err))
		}
		lrn, err := learner.New(ctx, cfg.Learner, cfg.LLM.APIKey, store, logger)
		if err != nil {
			surf.Close()
			return nil, err
		}
		instructions = store
		transcripts = lrn
		components.Learner = lrn
	}

	bus := overlay.NewBus(logger, 64)
	components.Bus = bus
	components.stopRelay = relayOverlayToLog(bus, logger)

	components.Controller = controller.New(controller.Deps{
		Streamer:     streamer,
		Executor:     exec,
		Frames:       stab,
		Instructions: instructions,
		Learner:      transcripts,
		Bus:          bus,
		Config:       cfg.Agent,
		Logger:       logger,
	})
	return components, nil
}

// relayOverlayToLog subscribes to the overlay bus and mirrors progress
// lines into the structured log, so headless runs still narrate.
func relayOverlayToLog(bus *overlay.Bus, logger *zap.Logger) func() {
	events, cancel := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		narrator := logger.Named("progress")
		for ev := range events {
			switch ev.Type {
			case schemas.OverlayStart:
				narrator.Info("Run started", zap.String("run_id", ev.RunID))
			case schemas.OverlayLog:
				narrator.Info(ev.Text, zap.String("run_id", ev.RunID))
			case schemas.OverlayEnd:
				narrator.Info("Run ended", zap.String("run_id", ev.RunID))
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Shutdown releases everything in reverse dependency order.
func (c *runComponents) Shutdown() {
	if c.Learner != nil {
		c.Learner.Wait()
	}
	if c.stopRelay != nil {
		c.stopRelay()
	}
	if c.Bus != nil {
		c.Bus.Shutdown()
	}
	if c.Surface != nil {
		c.Surface.Close()
	}
	observability.Sync()
}
