/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotblauer/trackd/params"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	optConfigFile string
	optEnvFile    string
	optLogLevel   string
	optLogJSON    bool

	v   = viper.New()
	cfg *params.Config
)

var rootCmd = &cobra.Command{
	Use:   params.AppName,
	Short: "GPS track file ingestion",
	Long: `trackd turns uploaded GPX track files into telemetry summaries
and simplified polylines for map rendering.

Small uploads are processed while the client waits; large ones are queued
and processed in the background.

Configuration comes from flags, TRACKD_ prefixed environment variables
(a .env file is read if present), and an optional config file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(optEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", optEnvFile, err)
		}
		c, err := params.Load(v, optConfigFile)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

// Execute runs the root command, exiting non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pFlags := rootCmd.PersistentFlags()
	pFlags.StringVar(&optConfigFile, "config", "", "Config file (yaml, toml or json)")
	pFlags.StringVar(&optEnvFile, "env-file", ".env", "Environment file, ignored if missing")
	pFlags.StringVar(&optLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pFlags.BoolVar(&optLogJSON, "log-json", false, "Log JSON lines instead of text")
	pFlags.String("datadir", params.DefaultDatadirRoot, "Data directory")
	_ = v.BindPFlag("data_dir", pFlags.Lookup("datadir"))
}

// setDefaultSlog installs the process logger per the persistent flags.
func setDefaultSlog(cmd *cobra.Command, args []string) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(strings.ToUpper(optLogLevel))); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q, using info\n", optLogLevel)
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if optLogJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h).With("cmd", cmd.Name()))
	slog.Debug("Logger ready", "args", args)
}
