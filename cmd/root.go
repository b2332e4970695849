// Package cmd implements the transactive node CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kilianp07/transactive/app"
	"github.com/kilianp07/transactive/config"
	"github.com/kilianp07/transactive/infra/logger"
)

var (
	cfgPath string
	envFile string
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "transactive",
		Short:             "Transactive energy market node",
		SilenceUsage:      true,
		PersistentPreRunE: loadEnv,
		RunE:              run,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	root.AddCommand(newRunCmd(), newClearCmd(), newValidateCmd())
	return root
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadEnv exports the variables of the dotenv file so that K_ overrides can
// live next to the configuration. A missing file is ignored.
func loadEnv(*cobra.Command, []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the node until interrupted",
		RunE:  run,
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			participants := len(cfg.Assets) + len(cfg.Neighbors)
			fmt.Fprintf(cmd.OutOrStdout(), "node %s: %d markets, %d participants\n", cfg.Node.Name, len(cfg.Markets), participants)
			return nil
		},
	}
}
