package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/tickblink/internal/output"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Program       string         `json:"program"`
	Running       bool           `json:"running"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	Resets        int            `json:"watchdog_resets"`
	LastReset     string         `json:"last_reset,omitempty"`
	ClockHz       uint32         `json:"clock_hz"`
	Lines         []LineJSON     `json:"lines"`
	Ticks         *TicksJSON     `json:"ticks,omitempty"`
	Timers        []TimerJSON    `json:"timers,omitempty"`
	Interrupts    []IRQJSON      `json:"interrupts,omitempty"`
	Toggles       map[string]int `json:"toggle_counts"`
	DroppedEvents uint64         `json:"dropped_events"`
	Watchdog      bool           `json:"watchdog_enabled"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Config        ConfigJSON     `json:"config"`
}

// LineJSON is one output line.
type LineJSON struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// TicksJSON reports the tick accumulator.
type TicksJSON struct {
	Elapsed   uint32 `json:"elapsed"`
	Threshold uint32 `json:"threshold"`
	Toggles   uint64 `json:"toggles"`
	Faults    uint64 `json:"faults"`
}

// TimerJSON describes a running timer.
type TimerJSON struct {
	Timer          string  `json:"timer"`
	Prescaler      uint32  `json:"prescaler"`
	Postscaler     uint32  `json:"postscaler"`
	Reload         uint32  `json:"reload"`
	PeriodUs       int64   `json:"period_us"`
	RateHz         uint32  `json:"rate_hz"`
	State          string  `json:"state"`
	Overflows      uint64  `json:"overflows"`
	Reloads        uint64  `json:"reloads"`
	JitterSamples  int     `json:"jitter_samples"`
	JitterMeanUs   float64 `json:"jitter_mean_us"`
	JitterStdDevUs float64 `json:"jitter_stddev_us"`
}

// IRQJSON reports counters for one interrupt source.
type IRQJSON struct {
	Source    string `json:"source"`
	Enabled   bool   `json:"enabled"`
	Raised    uint64 `json:"raised"`
	Serviced  uint64 `json:"serviced"`
	Coalesced uint64 `json:"coalesced"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip              string `json:"chip"`
	TickPeriodUs      int64  `json:"tick_period_us,omitempty"`
	Threshold         uint32 `json:"threshold,omitempty"`
	MainDelayMs       int64  `json:"main_delay_ms,omitempty"`
	Watchdog          bool   `json:"watchdog"`
	WatchdogTimeoutMs int64  `json:"watchdog_timeout_ms"`
	HeartbeatMs       int64  `json:"heartbeat_ms"`
	Broker            string `json:"broker"`
	HTTPAddr          string `json:"http_addr"`
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

func buildInner(snap Snapshot) StatusInner {
	b := snap.Board
	inner := StatusInner{
		Program:       snap.Config.Program,
		Running:       snap.Running,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Resets:        snap.Resets,
		ClockHz:       b.ClockHz,
		Lines:         []LineJSON{},
		Toggles:       make(map[string]int, len(snap.Toggles)),
		DroppedEvents: b.DroppedEvents,
		Watchdog:      b.Watchdog,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Chip:              snap.Config.Chip,
			TickPeriodUs:      snap.Config.TickPeriod.Microseconds(),
			Threshold:         snap.Config.Threshold,
			MainDelayMs:       snap.Config.MainDelay.Milliseconds(),
			Watchdog:          snap.Config.Watchdog,
			WatchdogTimeoutMs: snap.Config.WatchdogTimeout.Milliseconds(),
			HeartbeatMs:       snap.Config.Heartbeat.Milliseconds(),
			Broker:            snap.Config.Broker,
			HTTPAddr:          snap.Config.HTTPAddr,
		},
	}
	if !snap.LastReset.IsZero() {
		inner.LastReset = snap.LastReset.UTC().Format(time.RFC3339)
	}
	for src, n := range snap.Toggles {
		inner.Toggles[string(src)] = n
	}
	for _, l := range b.Lines {
		inner.Lines = append(inner.Lines, LineJSON{Name: l.Name, State: output.StateString(l.State)})
	}
	if b.HasTicks {
		inner.Ticks = &TicksJSON{Elapsed: b.Elapsed, Threshold: b.Threshold, Toggles: b.TickToggles, Faults: b.TickFaults}
	}
	for _, t := range b.Timers {
		inner.Timers = append(inner.Timers, TimerJSON{
			Timer:          t.Config.Timer.String(),
			Prescaler:      t.Config.Prescaler,
			Postscaler:     t.Config.Postscaler,
			Reload:         t.Config.Reload,
			PeriodUs:       t.Config.Period().Microseconds(),
			RateHz:         t.Config.RateHz(),
			State:          t.State.String(),
			Overflows:      t.Overflows,
			Reloads:        t.Reloads,
			JitterSamples:  t.Jitter.Samples,
			JitterMeanUs:   micros(t.Jitter.Mean),
			JitterStdDevUs: micros(t.Jitter.StdDev),
		})
	}
	for _, q := range b.IRQ {
		inner.Interrupts = append(inner.Interrupts, IRQJSON{
			Source:    q.Source.String(),
			Enabled:   q.Enabled,
			Raised:    q.Raised,
			Serviced:  q.Serviced,
			Coalesced: q.Coalesced,
		})
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
