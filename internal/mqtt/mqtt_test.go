package mqtt

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/sweeney/tickblink/internal/output"
)

func toggleAt(ts time.Time, line string, state bool, src output.Source) output.Event {
	return output.Event{Timestamp: ts, Line: line, State: state, Source: src}
}

func TestTopics(t *testing.T) {
	if got := Topic("timer0-irq"); got != "tickblink/timer0-irq/events" {
		t.Errorf("Topic: got %s", got)
	}
	if TopicSystem != "tickblink/system" {
		t.Errorf("TopicSystem: got %s", TopicSystem)
	}
}

func TestFormatPayload(t *testing.T) {
	tests := []struct {
		name  string
		event output.Event
		want  string
	}{
		{
			name:  "timer toggle on",
			event: toggleAt(time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC), "RD3", true, output.SourceTimer),
			want:  `{"toggle":{"timestamp":"2026-03-01T12:00:05Z","line":"RD3","state":"ON","source":"timer"}}`,
		},
		{
			name:  "main loop toggle off",
			event: toggleAt(time.Date(2026, 3, 1, 12, 0, 6, 0, time.UTC), "RD0", false, output.SourceMain),
			want:  `{"toggle":{"timestamp":"2026-03-01T12:00:06Z","line":"RD0","state":"OFF","source":"main"}}`,
		},
		{
			name:  "converted to UTC",
			event: toggleAt(time.Date(2026, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600)), "RD3", true, output.SourceExternal),
			want:  `{"toggle":{"timestamp":"2026-03-01T12:00:00Z","line":"RD3","state":"ON","source":"external"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatPayload(tt.event)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestFormatSystemPayload(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		event SystemEvent
		want  string
	}{
		{"will", SystemEvent{Timestamp: ts, Event: EventOffline, Reason: "MQTT_DISCONNECT"},
			`{"system":{"timestamp":"2026-03-01T08:30:00Z","event":"OFFLINE","reason":"MQTT_DISCONNECT"}}`},
		{"reconnected omits reason", SystemEvent{Timestamp: ts, Event: EventReconnected},
			`{"system":{"timestamp":"2026-03-01T08:30:00Z","event":"RECONNECTED"}}`},
		{"raw payload passed through", SystemEvent{Event: EventReset, RawPayload: []byte(`{"status":{}}`)},
			`{"status":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatSystemPayload(tt.event)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestPayloadParses(t *testing.T) {
	data, err := FormatPayload(toggleAt(time.Now(), "RD3", true, output.SourceTimer))
	if err != nil {
		t.Fatal(err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Toggle.Line != "RD3" || p.Toggle.State != "ON" || p.Toggle.Source != "timer" {
		t.Errorf("parsed: %+v", p.Toggle)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()
	ev := toggleAt(time.Now(), "RD0", true, output.SourceMain)
	if err := f.Publish(ev); err != nil {
		t.Fatal(err)
	}
	if err := f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: EventStartup}); err != nil {
		t.Fatal(err)
	}
	if f.EventCount() != 1 || len(f.Payloads) != 1 {
		t.Errorf("events %d payloads %d", f.EventCount(), len(f.Payloads))
	}
	if got := f.SystemEventNames(); !reflect.DeepEqual(got, []string{EventStartup}) {
		t.Errorf("system events: %v", got)
	}

	f.Connected = true
	if !f.IsConnected() {
		t.Error("IsConnected should follow Connected")
	}
	f.Close()
	if !f.Closed {
		t.Error("Close not recorded")
	}

	f.Reset()
	if f.EventCount() != 0 || len(f.SystemEvents) != 0 || f.Closed || f.Connected {
		t.Error("Reset should clear everything")
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("down")
	f.PublishSystemError = errors.New("down")

	if err := f.Publish(toggleAt(time.Now(), "RD0", true, output.SourceMain)); err == nil {
		t.Error("expected Publish error")
	}
	if err := f.PublishSystem(SystemEvent{Event: EventHeartbeat}); err == nil {
		t.Error("expected PublishSystem error")
	}
	if f.EventCount() != 0 || len(f.SystemEvents) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}
