// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/threadline/internal/config"
)

// =============================================================================
// CONFIG COMMAND
// =============================================================================

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change configuration",
		Example: `  threadline config show
  threadline config get stream.flush_interval
  threadline config set provider.model gpt-4o-mini
  threadline config keys`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if app.JSON {
					return writeJSON(app.Out, app.Config)
				}
				fmt.Fprint(app.Out, app.Config.String())
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one configuration value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if isSecretKey(args[0]) {
					return fmt.Errorf("%s is a secret and is not printed", args[0])
				}
				v, err := app.Config.Get(args[0])
				if err != nil {
					return err
				}
				if app.JSON {
					return writeJSON(app.Out, map[string]any{args[0]: v})
				}
				fmt.Fprintln(app.Out, v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one value in the config file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := app.writablePath()
				if err != nil {
					return err
				}
				if err := setConfigValue(path, args[0], args[1]); err != nil {
					return err
				}
				if !app.JSON {
					fmt.Fprintf(app.Out, "%s %s in %s\n", paint(SuccessStyle, "Set"), args[0], path)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List every configuration key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				keys := config.Keys()
				if app.JSON {
					return writeJSON(app.Out, keys)
				}
				fmt.Fprintln(app.Out, strings.Join(keys, "\n"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := app.writablePath()
				if err != nil {
					return err
				}
				fmt.Fprintln(app.Out, path)
				return nil
			},
		},
	)
	return cmd
}

// writablePath is the file config set writes to.
func (a *App) writablePath() (string, error) {
	if a.ConfigPath != "" {
		return a.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

// setConfigValue updates key in the TOML file at path. Environment
// overrides are not written back.
func setConfigValue(path, key, value string) error {
	if strings.HasSuffix(path, ".json") {
		return errors.New("config set only writes TOML files")
	}
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return err
		}
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.SaveTOML(cfg, path)
}

func isSecretKey(key string) bool {
	return key == "provider.api_key" || key == "server.token"
}
