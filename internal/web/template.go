package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/tickblink/internal/output"
	"github.com/sweeney/tickblink/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"onOff": output.StateString,
	"hz": func(hz uint32) string {
		switch {
		case hz >= 1_000_000 && hz%1_000_000 == 0:
			return fmt.Sprintf("%d MHz", hz/1_000_000)
		case hz >= 1000 && hz%1000 == 0:
			return fmt.Sprintf("%d kHz", hz/1000)
		}
		return fmt.Sprintf("%d Hz", hz)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>tickblink: {{.Config.Program}}</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>tickblink: {{.Config.Program}}</h1>

<h2>Lines</h2>
<table>
{{range .Board.Lines}}<tr><th>{{.Name}}</th><td class="{{if .State}}on{{else}}off{{end}}">{{onOff .State}}</td></tr>
{{else}}<tr><td>not running</td></tr>
{{end}}</table>

{{if .Board.HasTicks}}<h2>Ticks</h2>
<table>
<tr><th>Elapsed</th><td>{{.Board.Elapsed}} / {{.Board.Threshold}}</td></tr>
<tr><th>Toggles</th><td>{{.Board.TickToggles}}{{if .Board.TickFaults}}, {{.Board.TickFaults}} failed{{end}}</td></tr>
</table>
{{end}}
{{if .Board.Timers}}<h2>Timers</h2>
<table>
{{range .Board.Timers}}<tr><th>{{.Config}}</th><td>{{.State}}, {{hz .Config.RateHz}}, {{.Overflows}} overflows, {{.Reloads}} reloads{{if .Jitter.Samples}}, mean {{.Jitter.Mean}} &plusmn; {{.Jitter.StdDev}}{{end}}</td></tr>
{{end}}</table>
{{end}}
{{if .Board.IRQ}}<h2>Interrupts</h2>
<table>
{{range .Board.IRQ}}<tr><th>{{.Source}}{{if not .Enabled}} (masked){{end}}</th><td>raised {{.Raised}}, serviced {{.Serviced}}, coalesced {{.Coalesced}}</td></tr>
{{end}}</table>
{{end}}
<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Dropped events</th><td>{{.Board.DroppedEvents}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Clock</th><td>{{hz .Board.ClockHz}}</td></tr>
<tr><th>Watchdog</th><td>{{if .Board.Watchdog}}enabled ({{.Config.WatchdogTimeout}}){{else}}disabled{{end}}</td></tr>
<tr><th>Watchdog resets</th><td>{{.Resets}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.Heartbeat 0}}disabled{{else}}{{.Config.Heartbeat}}{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// The template needs Uptime as a field, not a method.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
