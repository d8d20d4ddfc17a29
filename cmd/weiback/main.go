package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weibackapp/weiback"
	"github.com/weibackapp/weiback/internal/config"
	"github.com/weibackapp/weiback/internal/output"
	"github.com/weibackapp/weiback/internal/remoteapi"
)

var (
	configPath string
	formatFlag string
	cfg        *config.Config
	engine     *weiback.Engine
	logger     *zap.Logger
	out        *output.Formatter
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "weiback",
		Short: "Archive your own weibo posts, favorites and media to a local database",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if engine != nil {
				return engine.Close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.toml", "path to config.toml")
	rootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "human", "output format: human, text or json")

	rootCmd.AddCommand(
		loginStateCmd(),
		smsCmd(),
		loginCmd(),
		backupUserCmd(),
		backupFavoritesCmd(),
		rebackupPostCmd(),
		unfavoriteCmd(),
		queryCmd(),
		deletePostCmd(),
		usernameCmd(),
		searchUsersCmd(),
		pictureCmd(),
		exportCmd(),
		cleanupPicturesCmd(),
		cleanupAvatarsCmd(),
		taskStatusCmd(),
		cancelTaskCmd(),
		configShowCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	logger, err = zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}

	auth := remoteapi.NewSessionFileAuth(cfg.SessionPath)
	remote := remoteapi.NewClient(auth.Current)

	engine, err = weiback.NewEngine(cfg, remote, auth, logger)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	out = output.NewFormatter(output.Format(formatFlag))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func waitForJob(ctx context.Context, taskID string, poll time.Duration) (*weiback.TaskStatus, error) {
	for {
		status, err := engine.GetCurrentTaskStatus()
		if err != nil {
			return nil, err
		}
		if status.ID == taskID && status.Status != "in_progress" {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}
