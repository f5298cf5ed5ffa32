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
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotblauer/trackd/api"
	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/types/trackfile"
	"github.com/rotblauer/trackd/types/trackpoint"
	"github.com/spf13/cobra"
)

var optPrintPoints bool

type processOutput struct {
	Telemetry trackfile.Telemetry     `json:"telemetry"`
	Warnings  []string                `json:"warnings,omitempty"`
	Points    []trackpoint.TrackPoint `json:"points,omitempty"`
}

// processCmd runs the pipeline on a local file.
var processCmd = &cobra.Command{
	Use:   "process <file.gpx|->",
	Short: "Process a GPX file and print its telemetry",
	Long: `Runs parse, validate, compute and simplify on a local GPX file
(or stdin, with -) and prints the telemetry as JSON. Nothing is stored.

Examples:

  trackd process ride.gpx
  cat ride.gpx | trackd process - --points | jq '.points | length'
`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				log.Fatalln(err)
			}
			defer f.Close()
			r = f
		}
		limit := cfg.Processing.MaxUploadBytes
		raw, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			log.Fatalln(err)
		}
		if int64(len(raw)) > limit {
			log.Fatalln(&trackerr.SizeLimitExceededError{Size: -1, Limit: limit})
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Work.JobTimeout)
		defer cancel()
		start := time.Now()
		res, err := api.NewProcessor(&cfg.Processing).Process(ctx, raw)
		if err != nil {
			slog.Error("Processing failed", "stage", trackerr.StageOf(err), "error", err)
			os.Exit(1)
		}
		slog.Info("Processed",
			"size", humanize.IBytes(uint64(len(raw))),
			"points", humanize.Comma(int64(res.Telemetry.TrackpointCount)),
			"kept", res.Telemetry.SimplifiedCount,
			"elapsed", time.Since(start).Round(time.Millisecond))

		out := processOutput{Telemetry: res.Telemetry, Warnings: res.Warnings}
		if optPrintPoints {
			out.Points = res.Points
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatalln(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().BoolVar(&optPrintPoints, "points", false, "Include the simplified points")
}
