package influxdb

import (
	"context"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rotblauer/trackd/events"
	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/types/trackfile"
)

const Measurement = "trackfile"

// ExportTrackFiles posts completed track file statistics to an InfluxDB Write API.
// Because it accepts a slice, use batches. The Write API will buffer and flush.
// The last error encountered is returned.
func ExportTrackFiles(cfg params.InfluxDBConfig, tfs []trackfile.TrackFile) error {
	opts := influxdb2.DefaultOptions()
	opts.SetPrecision(time.Second)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	// The errors chan is unbuffered and must be drained or the writer will block.
	errorsCh := writeAPI.Errors()
	var err error
	wait := sync.WaitGroup{}
	wait.Add(1)
	go func() {
		defer wait.Done()
		for e := range errorsCh {
			if e != nil {
				err = e
			}
		}
	}()

	for _, tf := range tfs {
		writeAPI.WritePoint(trackFilePoint(tf))
	}
	writeAPI.Flush()
	client.Close()
	wait.Wait()
	return err
}

func trackFilePoint(tf trackfile.TrackFile) *write.Point {
	t := tf.UpdatedAt
	if tf.StartTime != nil {
		t = *tf.StartTime
	}
	p := influxdb2.NewPointWithMeasurement(Measurement).
		SetTime(t).
		AddTag("trip", tf.TripID.String()).
		AddTag("difficulty", string(tf.Difficulty)).
		AddTag("path", string(tf.Path)).
		AddField("distance_km", tf.DistanceKm).
		AddField("ascent_m", tf.AscentM).
		AddField("descent_m", tf.DescentM).
		AddField("trackpoints", tf.TrackpointCount).
		AddField("simplified", tf.SimplifiedCount).
		AddField("size_bytes", tf.SizeBytes)
	if tf.MaxElevationM != nil {
		p.AddField("max_elevation_m", *tf.MaxElevationM)
	}
	if tf.MinElevationM != nil {
		p.AddField("min_elevation_m", *tf.MinElevationM)
	}
	if tf.StartTime != nil && tf.EndTime != nil {
		p.AddField("duration_s", tf.EndTime.Sub(*tf.StartTime).Seconds())
	}
	if tf.StartCell != "" {
		p.AddField("start_cell", tf.StartCell)
	}
	return p
}

// Exporter forwards completed track files from the bus to InfluxDB in small batches.
type Exporter struct {
	cfg      params.InfluxDBConfig
	bus      *events.Bus
	interval time.Duration
	logger   *slog.Logger
}

func NewExporter(cfg params.InfluxDBConfig, bus *events.Bus) *Exporter {
	return &Exporter{
		cfg:      cfg,
		bus:      bus,
		interval: 10 * time.Second,
		logger:   slog.With("exporter", "influxdb"),
	}
}

// Run blocks until ctx is done, exporting any pending batch before returning.
func (e *Exporter) Run(ctx context.Context) {
	ch := make(chan events.TrackFileEvent, 64)
	sub := e.bus.Subscribe(ch)
	defer sub.Unsubscribe()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var batch []trackfile.TrackFile
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := ExportTrackFiles(e.cfg, batch); err != nil {
			e.logger.Warn("Export failed", "count", len(batch), "error", err)
		} else {
			e.logger.Debug("Exported track files", "count", len(batch))
		}
		batch = batch[:0]
	}
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case err := <-sub.Err():
			if err != nil {
				e.logger.Error("Subscription error", "error", err)
			}
			flush()
			return
		case ev := <-ch:
			if ev.Kind != events.KindCompleted {
				continue
			}
			batch = append(batch, ev.TrackFile)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
