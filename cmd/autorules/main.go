// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "autorules",
		Short:        "Rule-driven automation for qBittorrent downloads",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml or its directory (default: user config dir)")

	cmd.AddCommand(
		RunServeCommand(&configPath),
		RunRulesCommand(&configPath),
		RunArchivedCommand(&configPath),
		RunVersionCommand(),
	)

	return cmd
}
