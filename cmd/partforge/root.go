// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/partforge/partforge/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// resolveConfigFile returns the --config flag value, falling back to the
// XDG config location when the flag was not given and a file exists there.
func resolveConfigFile() string {
	if configFile != "" {
		return configFile
	}
	return xdg.DefaultConfigFile()
}

// NewRootCmd creates the root command for the PartForge CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partforge",
		Short: "PartForge - account and auth backend",
		Long: `PartForge is the account backend of the PartForge site: password
login, server-side sessions, email signup verification, and email
password reset.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
