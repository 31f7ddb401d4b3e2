// cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/internal/agent"
	"github.com/xkilldash9x/wayfarer-cli/internal/config"
	"github.com/xkilldash9x/wayfarer-cli/internal/driver"
	"github.com/xkilldash9x/wayfarer-cli/internal/eventbus"
	"github.com/xkilldash9x/wayfarer-cli/internal/executors"
	"github.com/xkilldash9x/wayfarer-cli/internal/llmclient"
	"github.com/xkilldash9x/wayfarer-cli/internal/observability"
	"github.com/xkilldash9x/wayfarer-cli/internal/toolcall"
)

// newRunCmd builds the `run` command: one agent session driving one browser
// against a natural-language instruction.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [instruction...]",
		Short: "Runs the browser agent against a natural-language instruction",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("agent.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.highlight_elements", cmd.Flags().Lookup("highlight")); err != nil {
				return err
			}
			return viper.BindPFlag("workspace.root", cmd.Flags().Lookup("workspace"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			instruction := strings.Join(args, " ")
			summarize, _ := cmd.Flags().GetBool("summarize")

			logger.Info("Starting agent run",
				zap.String("instruction", instruction),
				zap.Int("max_steps", cfg.Agent.MaxSteps),
				zap.Bool("headless", cfg.Browser.Headless),
			)

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown()

			history, err := components.Agent.Run(ctx, instruction)
			if err != nil {
				return fmt.Errorf("agent run failed: %w", err)
			}

			last := history.Last()
			if last == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No steps were completed.")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Completed %d step(s). Task complete: %v\n",
				history.Len(), last.IsComplete)
			if last.Description != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Last action: %s\n", last.Description)
			}

			if summarize {
				res := components.Agent.Summarize(ctx)
				if res.Success {
					fmt.Fprintf(cmd.OutOrStdout(), "Run digest: %s\n", res.Message)
				} else {
					logger.Warn("Run digest failed", zap.String("message", res.Message))
				}
			}
			return nil
		},
	}

	runCmd.Flags().Int("max-steps", 0, "Maximum number of agent steps (0 uses the configured default)")
	runCmd.Flags().Bool("headless", true, "Run the browser headless")
	runCmd.Flags().Bool("highlight", true, "Highlight interactive elements before each observation")
	runCmd.Flags().String("workspace", ".", "Root directory for the fs and shell tool domains")
	runCmd.Flags().Bool("summarize", false, "Print a model-written digest of the run when it finishes")
	return runCmd
}

// runComponents bundles everything a run owns, in shutdown order.
type runComponents struct {
	Agent   *agent.BasicBrowserAgent
	Session *driver.Session
	Bus     *eventbus.Bus
	LLM     *llmclient.Router
	logger  *zap.Logger
}

// Shutdown releases components in reverse construction order. Partially
// constructed bundles are fine: nil fields are skipped.
func (c *runComponents) Shutdown() {
	if c.Session != nil {
		c.Session.Close()
	}
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			c.logger.Warn("LLM router close failed", zap.Error(err))
		}
	}
	if c.Bus != nil {
		c.Bus.Close()
	}
}

// initializeRunComponents wires the full stack: browser session, tool
// executors and dispatcher, LLM router, inference adapter, lifecycle bus, and
// finally the agent.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{logger: logger}

	session, err := driver.NewSession(ctx, cfg.Browser, logger)
	if err != nil {
		return components, fmt.Errorf("browser session: %w", err)
	}
	components.Session = session

	fsExec, err := executors.NewFSExecutor(logger, cfg.Workspace.Root)
	if err != nil {
		return components, fmt.Errorf("fs executor: %w", err)
	}

	browserExec := executors.NewBrowserExecutor(logger, session)
	shellExec := executors.NewShellExecutor(logger, cfg.Workspace.Root, cfg.Workspace.ShellTimeout)
	skillExec := executors.NewSkillExecutor(logger, executors.NewRegistry())

	toolRouter := toolcall.NewRouter(logger, nil,
		browserExec,
		browserExec.Alias("driver"),
		fsExec,
		shellExec,
		skillExec,
	)
	dispatcher := toolcall.NewDispatcher(logger, toolRouter)

	llmRouter, err := llmclient.NewRouterFromConfig(ctx, cfg.Agent, logger)
	if err != nil {
		return components, fmt.Errorf("llm router: %w", err)
	}
	components.LLM = llmRouter

	inference, err := llmclient.NewInferenceAdapter(logger, llmRouter, toolRouter)
	if err != nil {
		return components, err
	}

	bus := eventbus.New(logger, 100)
	components.Bus = bus

	browserAgent, err := agent.New(logger, cfg.Agent, dispatcher, inference, session, eventbus.NewNotifier(bus, logger))
	if err != nil {
		return components, fmt.Errorf("agent: %w", err)
	}
	components.Agent = browserAgent
	return components, nil
}
