package alerts

import (
	"strings"
	"testing"

	"github.com/calder-iot/console-core/internal/realtime"
)

func TestClassify_Critical(t *testing.T) {
	action := Classify(realtime.ThresholdAlert{
		FieldName: "temperature",
		Status:    realtime.SeverityCritical,
		Value:     98.5,
		Threshold: 80,
	})

	if action.Level != LevelError {
		t.Errorf("Level = %v, want error", action.Level)
	}
	if !action.Notify() {
		t.Error("critical alert must always produce a notification")
	}
	if !strings.Contains(action.Message, "temperature") {
		t.Errorf("Message = %q, should name the field", action.Message)
	}
}

func TestClassify_Warning(t *testing.T) {
	action := Classify(realtime.ThresholdAlert{
		FieldName: "humidity",
		Status:    realtime.SeverityWarning,
		Value:     71,
		Threshold: 70,
	})

	if action.Level != LevelWarning {
		t.Errorf("Level = %v, want warning", action.Level)
	}
	if !action.Notify() {
		t.Error("warning alert should produce a notification")
	}
}

func TestClassify_NormalProducesNoNotification(t *testing.T) {
	action := Classify(realtime.ThresholdAlert{
		FieldName: "pressure",
		Status:    realtime.SeverityNormal,
		Value:     12,
		Threshold: 100,
	})

	if action.Notify() {
		t.Errorf("normal severity must never notify, got level %v", action.Level)
	}
}

func TestClassify_UnknownSeverityIsSilent(t *testing.T) {
	action := Classify(realtime.ThresholdAlert{Status: realtime.Severity("Bogus")})
	if action.Notify() {
		t.Error("unknown severity should not notify")
	}
}
