package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies a category of realtime event. The values match the
// event names emitted by the measurement hub.
type EventKind string

// Event kinds emitted by the measurement hub.
const (
	EventMeasurementAdded    EventKind = "MeasurementAdded"
	EventMeasurementUpdated  EventKind = "MeasurementUpdated"
	EventMeasurementDeleted  EventKind = "MeasurementDeleted"
	EventThresholdExceeded   EventKind = "ThresholdExceeded"
	EventDeviceStatusChanged EventKind = "DeviceStatusChanged"
)

// EventKinds lists every event kind the hub emits.
var EventKinds = []EventKind{
	EventMeasurementAdded,
	EventMeasurementUpdated,
	EventMeasurementDeleted,
	EventThresholdExceeded,
	EventDeviceStatusChanged,
}

// Event is a single realtime event as delivered to listeners.
// Events are ephemeral: consumed once, never queued or replayed.
type Event struct {
	Kind      EventKind       `json:"kind"`
	DeviceID  string          `json:"device_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Severity is the threshold evaluation outcome carried by a
// ThresholdExceeded event.
type Severity string

// Threshold severities.
const (
	SeverityNormal   Severity = "Normal"
	SeverityWarning  Severity = "Warning"
	SeverityCritical Severity = "Critical"
)

// ThresholdAlert is the payload of a ThresholdExceeded event.
type ThresholdAlert struct {
	DeviceID  string   `json:"device_id"`
	FieldName string   `json:"field_name"`
	Status    Severity `json:"status"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Message   string   `json:"message"`
}

// Measurement is the payload of MeasurementAdded/MeasurementUpdated events.
type Measurement struct {
	ID              string             `json:"id"`
	DeviceID        string             `json:"device_id"`
	MeasurementDate time.Time          `json:"measurement_date"`
	Values          []MeasurementValue `json:"values"`
}

// MeasurementValue is a single field reading within a measurement.
type MeasurementValue struct {
	FieldName    string   `json:"field_name"`
	Value        string   `json:"value"`
	NumericValue *float64 `json:"numeric_value,omitempty"`
}

// DeviceStatus is the payload of a DeviceStatusChanged event.
type DeviceStatus struct {
	DeviceID string `json:"device_id"`
	IsActive bool   `json:"is_active"`
}

// DecodeThresholdAlert decodes a ThresholdExceeded event's payload.
func DecodeThresholdAlert(ev Event) (ThresholdAlert, error) {
	var a ThresholdAlert
	if err := json.Unmarshal(ev.Payload, &a); err != nil {
		return ThresholdAlert{}, fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	if a.DeviceID == "" {
		a.DeviceID = ev.DeviceID
	}
	return a, nil
}

// DecodeMeasurement decodes a measurement event's payload.
func DecodeMeasurement(ev Event) (Measurement, error) {
	var m Measurement
	if err := json.Unmarshal(ev.Payload, &m); err != nil {
		return Measurement{}, fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	if m.DeviceID == "" {
		m.DeviceID = ev.DeviceID
	}
	return m, nil
}
