// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

func newPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage capability providers",
		Long:  "List, load, unload, reload, inspect, and configure the capability providers that back pipeline stages.",
	}

	cmd.AddCommand(
		newPluginListCmd(),
		newPluginInspectCmd(),
		newPluginLoadCmd(),
		newPluginUnloadCmd(),
		newPluginReloadCmd(),
		newPluginConfigureCmd(),
	)

	return cmd
}

func newPluginListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			for _, desc := range app.Service.ListPlugins() {
				version := desc.Version
				if version == "" {
					version = "-"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s  %-8s  gen %-3d  %-12s  %d tools\n",
					desc.Name, desc.Status, desc.Generation, version, len(desc.Tools))
			}
			return nil
		},
	}
}

func newPluginInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [name]",
		Short: "Print one provider's descriptor as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			desc, err := app.Service.DescribePlugin(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, desc)
		},
	}
}

func newPluginLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [name]",
		Short: "Load a registered provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			if err := app.Service.LoadPlugin(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded provider %q\n", args[0])
			return nil
		},
	}
}

func newPluginUnloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unload [name]",
		Short: "Unload a provider; dependent stages degrade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			if err := app.Service.UnloadPlugin(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unloaded provider %q\n", args[0])
			return nil
		},
	}
}

func newPluginReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload [name]",
		Short: "Atomically replace a provider with a fresh instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			if err := app.Service.ReloadPlugin(cmd.Context(), args[0]); err != nil {
				return err
			}
			desc, err := app.Service.DescribePlugin(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reloaded provider %q (generation %d)\n", args[0], desc.Generation)
			return nil
		},
	}
}

func newPluginConfigureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure [name]",
		Short: "Apply configuration to an active provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, _ := cmd.Flags().GetStringSlice("set")
			if len(pairs) == 0 {
				return finerr.New(finerr.CodeCLIInputInvalid, "provide at least one --set key=value")
			}

			config := make(map[string]any, len(pairs))
			for _, pair := range pairs {
				key, value, found := strings.Cut(pair, "=")
				if !found || key == "" {
					return finerr.Errorf(finerr.CodeCLIInputInvalid, "--set %q is not key=value", pair)
				}
				config[key] = parseConfigValue(value)
			}

			app, err := wireApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			if err := app.Service.ConfigurePlugin(cmd.Context(), args[0], config); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configured provider %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringSlice("set", nil, "configuration entry as key=value (repeatable)")
	return cmd
}

// parseConfigValue upgrades obvious booleans so flags like
// --set strict_mode=true reach providers with the right type.
func parseConfigValue(value string) any {
	switch value {
	case "true":
		return true
	case "false":
		return false
	default:
		return value
	}
}
