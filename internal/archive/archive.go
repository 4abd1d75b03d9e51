package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/calder-iot/console-core/internal/infrastructure/config"
	"github.com/calder-iot/console-core/internal/infrastructure/logging"
	"github.com/calder-iot/console-core/internal/realtime"
)

const connectTimeout = 10 * time.Second

// pointWriter is the slice of the InfluxDB write API the sink needs.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Sink archives realtime measurement traffic to InfluxDB.
//
// It attaches listeners to a realtime channel and converts measurement
// and threshold events into points. Writes are non-blocking and batched
// by the underlying client; async write failures surface through the
// error channel and are logged.
type Sink struct {
	client influxdb2.Client
	writer pointWriter
	log    *logging.Logger

	mu   sync.Mutex
	subs []realtime.Subscription
}

// Connect creates an archive sink against the configured InfluxDB server.
// Returns (nil, nil) when archiving is disabled.
func Connect(cfg config.ArchiveConfig, log *logging.Logger) (*Sink, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("archive: ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("archive: server not healthy")
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	s := &Sink{
		client: client,
		writer: writeAPI,
		log:    log.With("component", "archive"),
	}
	go s.handleWriteErrors(writeAPI.Errors())

	return s, nil
}

// handleWriteErrors logs async write failures until the error channel closes.
func (s *Sink) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		s.log.Warn("archive write failed", "error", err)
	}
}

// Attach registers the sink's listeners on the channel. Measurement
// additions and threshold alerts are archived; deletions and status
// changes are not, since they carry no time-series value.
func (s *Sink) Attach(ch *realtime.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs = append(s.subs,
		ch.On(realtime.EventMeasurementAdded, s.archiveMeasurement),
		ch.On(realtime.EventMeasurementUpdated, s.archiveMeasurement),
		ch.On(realtime.EventThresholdExceeded, s.archiveThreshold),
	)
}

// Detach removes the sink's listeners from the channel.
func (s *Sink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		sub.Remove()
	}
	s.subs = nil
}

// Close detaches listeners, flushes pending points, and closes the client.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.Detach()
	s.writer.Flush()
	s.client.Close()
	return nil
}

// archiveMeasurement writes one point per numeric measurement value.
func (s *Sink) archiveMeasurement(ev realtime.Event) {
	var m realtime.Measurement
	if err := json.Unmarshal(ev.Payload, &m); err != nil {
		s.log.Warn("undecodable measurement payload", "device_id", ev.DeviceID, "error", err)
		return
	}

	ts := m.MeasurementDate
	if ts.IsZero() {
		ts = ev.Timestamp
	}

	for _, v := range m.Values {
		if v.NumericValue == nil {
			continue
		}
		s.writer.WritePoint(write.NewPoint(
			"measurements",
			map[string]string{
				"device_id": m.DeviceID,
				"field":     v.FieldName,
			},
			map[string]interface{}{
				"value": *v.NumericValue,
			},
			ts,
		))
	}
}

// archiveThreshold writes a threshold breach point.
func (s *Sink) archiveThreshold(ev realtime.Event) {
	var a realtime.ThresholdAlert
	if err := json.Unmarshal(ev.Payload, &a); err != nil {
		s.log.Warn("undecodable threshold payload", "device_id", ev.DeviceID, "error", err)
		return
	}

	s.writer.WritePoint(write.NewPoint(
		"threshold_alerts",
		map[string]string{
			"device_id": a.DeviceID,
			"field":     a.FieldName,
			"status":    string(a.Status),
		},
		map[string]interface{}{
			"value":     a.Value,
			"threshold": a.Threshold,
		},
		ev.Timestamp,
	))
}
