// Package influx ships proximity and telemetry samples to InfluxDB.
// When the server is unreachable at startup the samples are appended
// to a gzipped line-protocol file instead, so field data survives
// connectivity gaps.
package influx

import (
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/wildtrack/groundlink/pkg/core"
)

// Config carries the influx.* settings.
type Config struct {
	Enabled    bool
	URL        string
	Token      string
	Org        string
	Bucket     string
	BackupPath string
}

// Writer is the non-blocking telemetry sink. A disabled writer accepts
// every call and does nothing.
type Writer struct {
	cfg    Config
	log    *slog.Logger
	client influxdb2.Client
	api    influxdb2_api.WriteAPI
	backup *gzip.Writer
}

// NewWriter connects to InfluxDB per cfg. With cfg.Enabled false it
// returns an inert writer.
func NewWriter(cfg Config, log *slog.Logger) (*Writer, error) {
	w := &Writer{cfg: cfg, log: log}
	if !cfg.Enabled {
		return w, nil
	}

	w.client = influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000))

	running, err := w.client.Ping(context.Background())
	if err != nil || !running {
		log.Warn("influxdb unreachable, writing to backup file",
			"url", cfg.URL, "backupPath", cfg.BackupPath)

		file, ferr := os.OpenFile(cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if ferr != nil {
			return nil, fmt.Errorf("opening influx backup file: %w", ferr)
		}
		w.backup = gzip.NewWriter(file)
		return w, nil
	}

	w.api = w.client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for writeErr := range w.api.Errors() {
			log.Error("influxdb write failed", "bucket", cfg.Bucket, "error", writeErr)
		}
	}()

	log.Info("influxdb writer initialized", "url", cfg.URL, "bucket", cfg.Bucket)
	return w, nil
}

// WriteProximity records one drone-to-vehicle proximity sample.
func (w *Writer) WriteProximity(site string, distanceM float64, direction, activity string) {
	point := influxdb2_write.NewPoint("proximity",
		map[string]string{
			"site":      site,
			"direction": direction,
		},
		map[string]interface{}{
			"distance_m": distanceM,
			"activity":   activity,
		},
		time.Now())
	w.writePoint(point)
}

// WriteTelemetry records one vehicle telemetry snapshot.
func (w *Writer) WriteTelemetry(site string, kind core.VehicleKind, snap core.TelemetrySnapshot) {
	if !snap.HasPosition {
		return
	}
	point := influxdb2_write.NewPoint("telemetry",
		map[string]string{
			"site":    site,
			"vehicle": string(kind),
		},
		map[string]interface{}{
			"lat":               snap.Lat,
			"lon":               snap.Lon,
			"relative_alt_m":    snap.RelativeAlt,
			"ground_speed_ms":   snap.GroundSpeed,
			"battery_remaining": snap.BatteryRemaining,
			"mission_progress":  snap.MissionProgress,
		},
		time.Now())
	w.writePoint(point)
}

func (w *Writer) writePoint(point *influxdb2_write.Point) {
	switch {
	case w.api != nil:
		w.api.WritePoint(point)
	case w.backup != nil:
		line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
		if _, err := w.backup.Write([]byte(line)); err != nil {
			w.log.Error("influx backup write failed", "error", err)
		}
	}
}

// Close flushes pending writes and releases the client.
func (w *Writer) Close() {
	if w.api != nil {
		w.api.Flush()
	}
	if w.client != nil {
		w.client.Close()
	}
	if w.backup != nil {
		if err := w.backup.Close(); err != nil {
			w.log.Error("closing influx backup file", "error", err)
		}
	}
}
