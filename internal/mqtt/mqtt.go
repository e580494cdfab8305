// Package mqtt publishes line toggles and system lifecycle events.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/tickblink/internal/output"
)

// TopicPrefix is the root of every topic this daemon publishes to.
const TopicPrefix = "tickblink"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = TopicPrefix + "/system"

// Topic returns the toggle event topic for a program.
func Topic(program string) string {
	return TopicPrefix + "/" + program + "/events"
}

// System event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReset       = "RESET"
	EventOffline     = "OFFLINE"
	EventReconnected = "RECONNECTED"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a line toggle. Errors are reported, never fatal.
	Publish(event output.Event) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event (startup, shutdown, heartbeat, reset).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM", "watchdog timeout"
	RawPayload []byte // pre-formatted payload; FormatSystemPayload returns it as is
	Retained   bool
}

// Payload is the toggle message envelope.
type Payload struct {
	Toggle TogglePayload `json:"toggle"`
}

// TogglePayload describes one line change.
type TogglePayload struct {
	Timestamp string `json:"timestamp"`
	Line      string `json:"line"`
	State     string `json:"state"`
	Source    string `json:"source"`
}

// FormatPayload creates the JSON payload for a line toggle.
func FormatPayload(event output.Event) ([]byte, error) {
	return json.Marshal(Payload{
		Toggle: TogglePayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Line:      event.Line,
			State:     output.StateString(event.State),
			Source:    string(event.Source),
		},
	})
}

// SystemPayload is used for events that carry no status snapshot (LWT,
// RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
