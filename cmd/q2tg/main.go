// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command q2tg bridges the QQ accounts of a federation with one Telegram
// bot. QQ accounts are reached through OneBot v11 servers; groups and
// private chats are paired with Telegram chats using bot commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aiku/q2tg/pkg/connector"
	"github.com/aiku/q2tg/pkg/database"
	"github.com/aiku/q2tg/pkg/media"
	"github.com/aiku/q2tg/pkg/onebot"
	"github.com/aiku/q2tg/pkg/telegram"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "q2tg",
		Short:         "A QQ-Telegram bridge for a federation of QQ accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file")
	cmd.AddCommand(
		newRunCommand(&configPath),
		newConfigCommand(&configPath),
		newVersionCommand(),
	)
	return cmd
}

func newRunCommand(configPath *string) *cobra.Command {
	var noUpdate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := connector.LoadConfig(*configPath, !noUpdate)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().BoolVar(&noUpdate, "no-update", false, "Don't save the upgraded config to disk")
	return cmd
}

func newConfigCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "upgrade",
		Short: "Merge the config file with the current example config",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := connector.LoadConfig(*configPath, true)
			return err
		},
	}, &cobra.Command{
		Use:   "example",
		Short: "Print the example config",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprint(cmd.OutOrStdout(), connector.ExampleConfig)
		},
	})
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "q2tg %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		},
	}
}

func run(ctx context.Context, cfg *connector.Config) error {
	logger, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	log := *logger
	zerolog.DefaultContextLogger = &log
	ctx = log.WithContext(ctx)
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting q2tg")

	db, err := database.Open(ctx, cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Err(err).Msg("Failed to close database")
		}
	}()

	tg, err := telegram.NewClient(ctx, cfg.Telegram, log)
	if err != nil {
		return err
	}
	bridge := connector.NewBridge(cfg, db, tg, log)
	bridge.Updates = tg
	if bridge.Media, err = media.NewFetcher(cfg.Media, log); err != nil {
		return err
	}
	for _, instCfg := range cfg.Instances {
		client := onebot.NewClient(instCfg.OneBotURL, instCfg.AccessToken,
			log.With().Int64("instance_id", instCfg.ID).Logger())
		if _, err = bridge.AddInstance(ctx, instCfg, client); err != nil {
			return err
		}
	}

	err = bridge.Run(ctx)
	bridge.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("Bridge stopped")
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
