package archive

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/calder-iot/console-core/internal/infrastructure/config"
	"github.com/calder-iot/console-core/internal/infrastructure/logging"
	"github.com/calder-iot/console-core/internal/realtime"
)

type fakeWriter struct {
	mu     sync.Mutex
	points []*write.Point
	flushN int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushN++
}

func newTestSink(t *testing.T) (*Sink, *fakeWriter) {
	t.Helper()
	w := &fakeWriter{}
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	return &Sink{writer: w, log: log.With("component", "archive")}, w
}

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshalling payload: %v", err)
	}
	return data
}

func TestSink_ArchivesNumericMeasurementValues(t *testing.T) {
	sink, w := newTestSink(t)

	temp := 21.5
	sink.archiveMeasurement(realtime.Event{
		Kind:      realtime.EventMeasurementAdded,
		DeviceID:  "dev-1",
		Timestamp: time.Now(),
		Payload: mustPayload(t, realtime.Measurement{
			ID:              "m-1",
			DeviceID:        "dev-1",
			MeasurementDate: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
			Values: []realtime.MeasurementValue{
				{FieldName: "temperature", Value: "21.5", NumericValue: &temp},
				{FieldName: "status", Value: "ok"}, // non-numeric, skipped
			},
		}),
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(w.points))
	}
	if name := w.points[0].Name(); name != "measurements" {
		t.Errorf("measurement name = %q", name)
	}
}

func TestSink_ArchivesThresholdAlert(t *testing.T) {
	sink, w := newTestSink(t)

	sink.archiveThreshold(realtime.Event{
		Kind:      realtime.EventThresholdExceeded,
		DeviceID:  "dev-1",
		Timestamp: time.Now(),
		Payload: mustPayload(t, realtime.ThresholdAlert{
			DeviceID:  "dev-1",
			FieldName: "temperature",
			Status:    realtime.SeverityCritical,
			Value:     42.5,
			Threshold: 40,
		}),
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(w.points))
	}
	if name := w.points[0].Name(); name != "threshold_alerts" {
		t.Errorf("measurement name = %q", name)
	}
}

func TestSink_BadPayloadIsDropped(t *testing.T) {
	sink, w := newTestSink(t)

	sink.archiveMeasurement(realtime.Event{
		Kind:    realtime.EventMeasurementAdded,
		Payload: json.RawMessage(`{not json`),
	})
	sink.archiveThreshold(realtime.Event{
		Kind:    realtime.EventThresholdExceeded,
		Payload: json.RawMessage(`{not json`),
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.points) != 0 {
		t.Errorf("wrote %d points from bad payloads, want 0", len(w.points))
	}
}

func TestConnect_DisabledReturnsNil(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	sink, err := Connect(config.ArchiveConfig{Enabled: false}, log)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if sink != nil {
		t.Error("Connect() returned a sink for disabled archive")
	}
	// A nil sink must close cleanly.
	if err := sink.Close(); err != nil {
		t.Errorf("Close() on nil sink = %v", err)
	}
}
