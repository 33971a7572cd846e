package domain

import "time"

type StatusEventType string

const (
	EventConnected      StatusEventType = "connected"
	EventStatusUpdate   StatusEventType = "statusUpdate"
	EventHeartbeatFired StatusEventType = "heartbeatFired"
	EventWeatherUpdated StatusEventType = "weatherUpdated"
)

// StatusEvent is pushed to every WebSocket subscriber.
type StatusEvent struct {
	Type      StatusEventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   *StatusSnapshot `json:"payload,omitempty"`
}

type ServerInfo struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Hostname      string    `json:"hostname"`
	StartedAt     time.Time `json:"startedAt"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	AIProvider    Provider  `json:"aiProvider"`
}

type HeartbeatInfo struct {
	IntervalSeconds int64      `json:"intervalSeconds"`
	Count           int64      `json:"count"`
	LastFiredAt     *time.Time `json:"lastFiredAt,omitempty"`
}

type Weather struct {
	Location     string    `json:"location"`
	TemperatureC float64   `json:"temperatureC"`
	Condition    string    `json:"condition"`
	Humidity     float64   `json:"humidity,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// StatusSnapshot is the full device status; it doubles as the /v1/status
// response body.
type StatusSnapshot struct {
	Server    ServerInfo    `json:"server"`
	Heartbeat HeartbeatInfo `json:"heartbeat"`
	Weather   *Weather      `json:"weather,omitempty"`
}
