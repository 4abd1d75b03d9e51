package alerts

import (
	"fmt"

	"github.com/calder-iot/console-core/internal/realtime"
)

// Level is the urgency of a user-facing notification.
type Level int

// Notification levels.
const (
	// LevelNone means no notification is surfaced: the event is
	// informational and only forwarded to listeners.
	LevelNone Level = iota
	LevelWarning
	LevelError
)

// String returns the level name for logging.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Action is the notification a threshold alert should produce. Rendering
// is the responsibility of an external collaborator; this package only
// decides level and text.
type Action struct {
	Level   Level
	Message string
}

// Notify reports whether the action should surface a user notification.
func (a Action) Notify() bool {
	return a.Level != LevelNone
}

// Classify maps a threshold alert to its notification action:
// Critical severity produces an error-level notification, Warning a
// warning-level one, and Normal none at all.
func Classify(alert realtime.ThresholdAlert) Action {
	switch alert.Status {
	case realtime.SeverityCritical:
		return Action{
			Level:   LevelError,
			Message: fmt.Sprintf("Critical threshold exceeded: %s = %g (threshold %g)", alert.FieldName, alert.Value, alert.Threshold),
		}
	case realtime.SeverityWarning:
		return Action{
			Level:   LevelWarning,
			Message: fmt.Sprintf("Warning: %s = %g (threshold %g)", alert.FieldName, alert.Value, alert.Threshold),
		}
	default:
		return Action{Level: LevelNone}
	}
}
