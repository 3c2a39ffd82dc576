// event.go: the closed set of security event kinds and the event payload.
package events

import "time"

// Kind is the closed set of derivable security events.
type Kind int

const (
	KindPersonEntered Kind = iota
	KindPersonExited
	KindEmployeeArrived
	KindEmployeeDeparted
	KindVehicleEntered
	KindVehicleExited
	KindUnknownFaceDetected
	KindLoiteringDetected
)

// String returns the wire name understood by the backend.
func (k Kind) String() string {
	switch k {
	case KindPersonEntered:
		return "PERSON_ENTERED"
	case KindPersonExited:
		return "PERSON_EXITED"
	case KindEmployeeArrived:
		return "EMPLOYEE_ARRIVED"
	case KindEmployeeDeparted:
		return "EMPLOYEE_DEPARTED"
	case KindVehicleEntered:
		return "VEHICLE_ENTERED"
	case KindVehicleExited:
		return "VEHICLE_EXITED"
	case KindUnknownFaceDetected:
		return "UNKNOWN_FACE_DETECTED"
	case KindLoiteringDetected:
		return "LOITERING_DETECTED"
	default:
		return "UNKNOWN"
	}
}

// HighPriority reports whether the kind warrants snapshot evidence capture.
func (k Kind) HighPriority() bool {
	switch k {
	case KindEmployeeArrived, KindUnknownFaceDetected, KindLoiteringDetected, KindVehicleEntered:
		return true
	default:
		return false
	}
}

// Event is a discrete security event derived from track lifecycle.
type Event struct {
	Kind         Kind
	Timestamp    time.Time
	TrackID      uint64
	EmployeeID   string
	PlateText    string
	Duration     time.Duration
	Metadata     map[string]string
	SnapshotPath string
}

// Stats is the periodic live status payload for UI consumption.
type Stats struct {
	FPS             float64 `json:"fps"`
	ActiveCount     int     `json:"active_count"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
	TodayEventCount int64   `json:"today_event_count"`
}
