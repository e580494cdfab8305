package main

import (
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/tickblink/internal/mqtt"
	"github.com/sweeney/tickblink/internal/output"
	"github.com/sweeney/tickblink/internal/program"
	"github.com/sweeney/tickblink/internal/status"
)

// loopDeps is everything runLoop reads from or writes to.
type loopDeps struct {
	board      func() *program.Board
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	heartbeat  time.Duration
	now        func() time.Time

	tick   <-chan time.Time
	events <-chan output.Event
	resets <-chan int
	done   <-chan error
	sig    <-chan os.Signal
}

// runLoop relays line changes and lifecycle events to MQTT and keeps the
// status tracker current. It returns on a signal or when the supervisor
// stops.
func runLoop(d loopDeps) error {
	lastHeartbeat := d.now()

	refresh := func() status.Snapshot {
		if d.board != nil {
			if b := d.board(); b != nil {
				d.tracker.Update(b.Snapshot())
			}
		}
		if d.mqttStatus != nil {
			d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
		}
		return d.tracker.Snapshot()
	}

	publishSystem := func(name, reason string, retained bool) {
		snap := refresh()
		event := mqtt.SystemEvent{
			Timestamp:  d.now(),
			Event:      name,
			Reason:     reason,
			Retained:   retained,
			RawPayload: status.FormatStatusEvent(snap, name, reason),
		}
		if err := d.publisher.PublishSystem(event); err != nil {
			log.Printf("failed to publish %s event: %v", name, err)
		}
	}

	for {
		select {
		case s := <-d.sig:
			log.Printf("received %v, shutting down", s)
			publishSystem(mqtt.EventShutdown, signalName(s), true)
			log.Printf("published shutdown event")
			return nil

		case err, ok := <-d.done:
			if !ok {
				return nil
			}
			reason := "program exited"
			if err != nil {
				reason = err.Error()
			}
			publishSystem(mqtt.EventShutdown, reason, true)
			if err != nil {
				return fmt.Errorf("supervisor: %w", err)
			}
			return nil

		case ev := <-d.events:
			log.Printf("event: %s %s (%s)", ev.Line, output.StateString(ev.State), ev.Source)
			d.tracker.RecordEvent(ev)
			if err := d.publisher.Publish(ev); err != nil {
				log.Printf("publish error: %v", err)
			}

		case n := <-d.resets:
			d.tracker.RecordReset(d.now(), n)
			publishSystem(mqtt.EventReset, "watchdog timeout", false)

		case <-d.tick:
			t := d.now()
			refresh()
			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				snap := d.tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v resets=%d toggles=%v",
					snap.Uptime().Truncate(time.Second), snap.Resets, snap.Toggles)
				publishSystem(mqtt.EventHeartbeat, "", false)
			}
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
