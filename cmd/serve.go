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
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotblauer/trackd/api"
	"github.com/rotblauer/trackd/common"
	"github.com/rotblauer/trackd/daemon/webd"
	"github.com/rotblauer/trackd/daemon/workd"
	"github.com/rotblauer/trackd/events"
	"github.com/rotblauer/trackd/metrics/influxdb"
	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/queue"
	"github.com/rotblauer/trackd/trackdb/blob"
	"github.com/rotblauer/trackd/trackdb/sqlite"
	"github.com/rotblauer/trackd/tripdir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// serveCmd runs the web daemon and the work daemon together.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web and work daemons",
	Long: `Serves the track file HTTP API and processes queued uploads.

Jobs interrupted by a previous shutdown or crash are requeued at startup.
Raw uploads are kept under <datadir>/raw, or in S3 when s3.bucket is set.
Completed telemetry is exported to InfluxDB when influxdb.url is set.`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)
		if err := serve(context.Background()); err != nil {
			log.Fatalln(err)
		}
	},
}

var serveFlags = func() *pflag.FlagSet {
	defaults := params.DefaultConfig()
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("address", defaults.Web.Address, "HTTP address to listen on")
	fs.Int("workers", defaults.Work.Workers, "Background processing workers")
	fs.Int64("sync-threshold", defaults.Processing.SyncThresholdBytes, "Uploads of this many bytes or more are processed in the background")
	fs.Float64("epsilon", defaults.Processing.DouglasPeuckerThreshold, "Simplification tolerance in meters")
	return fs
}()

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().AddFlagSet(serveFlags)
	_ = v.BindPFlag("web.address", serveFlags.Lookup("address"))
	_ = v.BindPFlag("work.workers", serveFlags.Lookup("workers"))
	_ = v.BindPFlag("processing.sync_threshold_bytes", serveFlags.Lookup("sync-threshold"))
	_ = v.BindPFlag("processing.simplify_epsilon", serveFlags.Lookup("epsilon"))
}

func openRawStore(c *params.Config) (blob.Store, error) {
	if c.S3.Enabled() {
		slog.Info("Raw files in S3", "bucket", c.S3.Bucket, "prefix", c.S3.Prefix)
		return blob.NewS3(c.S3)
	}
	root := filepath.Join(c.DataDir, params.RawFilesDir)
	slog.Info("Raw files on disk", "root", root)
	return blob.NewFlatWithRoot(root, nil), nil
}

func serve(parent context.Context) error {
	if err := os.MkdirAll(cfg.DataDir, 0770); err != nil {
		return err
	}
	store, err := sqlite.Open(filepath.Join(cfg.DataDir, params.TrackDBFileName))
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := queue.Open(filepath.Join(cfg.DataDir, params.QueueDBFileName), cfg.Work.MaxAttempts)
	if err != nil {
		return err
	}
	defer jobs.Close()

	raw, err := openRawStore(cfg)
	if err != nil {
		return err
	}

	trips := tripdir.NewCached(tripdir.Permissive{}, params.CacheTripExistsTTL)
	trips.Start()
	defer trips.Stop()

	bus := events.NewBus()
	svc, err := api.NewService(&cfg.Processing, store, raw, jobs, trips, bus)
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	svc.Router().Start()
	defer svc.Router().Stop()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case sig := <-common.Interrupted():
			slog.Warn("Received signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var exporters sync.WaitGroup
	if cfg.InfluxDB.Enabled() {
		exporters.Add(1)
		go func() {
			defer exporters.Done()
			influxdb.NewExporter(cfg.InfluxDB, bus).Run(ctx)
		}()
	}

	work := workd.NewWorkDaemon(&cfg.Work, jobs, svc)
	if err := work.Start(ctx); err != nil {
		return err
	}

	web := webd.NewWebDaemon(&cfg.Web, svc, jobs, bus).WithWorkDaemon(work)
	err = web.Run(ctx)
	cancel()
	work.Wait()
	exporters.Wait()
	return err
}
