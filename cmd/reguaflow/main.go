package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RealZimboGuy/reguaflow/internal/config"
	"github.com/RealZimboGuy/reguaflow/internal/engine"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile, logLevel string

	root := &cobra.Command{
		Use:          "reguaflow",
		Short:        "Debt collection workflow engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(configFile); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel == "" {
				logLevel = config.GetSystemSettingString(config.LOG_LEVEL)
			}
			reguaflow.SetupLogger(logLevel)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file; environment variables override it")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newGraphCmd(), newRunCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the resumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(withContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := reguaflow.Start(ctx, nil); err != nil {
				slog.Error("Engine exited with error", "error", err)
				return err
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := reguaflow.Migrate(); err != nil {
				return err
			}
			slog.Info("Migrations applied")
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var workflowID, clientID, triggerType, executionID, resumeFrom string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Invoke a workflow once for a client and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := withContext(cmd)
			db, err := reguaflow.OpenDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			app := reguaflow.New(db)
			res, runErr := app.Driver.Run(ctx, workflowID, clientID, engine.RunOptions{
				TriggerType:    triggerType,
				ExecutionID:    executionID,
				ResumeFromNode: resumeFrom,
			})
			if res != nil {
				if err := printJSON(res); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&clientID, "client", "", "client id")
	cmd.Flags().StringVar(&triggerType, "trigger", engine.TriggerTypeManual, "trigger type recorded on the execution")
	cmd.Flags().StringVar(&executionID, "execution", "", "resume this execution")
	cmd.Flags().StringVar(&resumeFrom, "from-node", "", "start from this node instead of the stored one")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func withContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
