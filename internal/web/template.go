package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/crib-sensor/internal/status"
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
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "unknown"
		}
		return s
	},
	"ms": func(ms int64) string {
		return (time.Duration(ms) * time.Millisecond).String()
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Crib Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.asleep { color: #3355aa; font-weight: bold; }
.awake { color: green; font-weight: bold; }
.away { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Crib Sensor{{if .Config.SubjectID}} ({{.Config.SubjectID}}){{end}}</h1>

<h2>State</h2>
<table>
<tr><th>Lifecycle</th><td id="sleep-state" class="{{stateOrUnknown (printf "%s" .State)}}">{{stateOrUnknown (printf "%s" .State)}}</td></tr>
<tr><th>Verdict</th><td>{{if .HasVerdict}}{{.Verdict}}{{else}}warming up{{end}}</td></tr>
{{if .HasReading}}<tr><th>Last reading</th><td>{{.Reading.Label}} ({{.Reading.Confidence}})</td></tr>
<tr><th>Read at</th><td>{{.Reading.ObservedAt.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Server</th><td>{{.Config.ServerURL}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Sleep start</th><td>{{.Counts.SleepStart}}</td></tr>
<tr><th>Sleep end</th><td>{{.Counts.SleepEnd}}</td></tr>
<tr><th>Baby away</th><td>{{.Counts.BabyAway}}</td></tr>
</table>

<h2>Queue</h2>
<table>
<tr><th>Pending</th><td>{{.Queue.Pending}}</td></tr>
<tr><th>Sent</th><td>{{.Queue.Sent}}</td></tr>
<tr><th>Failed</th><td>{{.Queue.Failed}}</td></tr>
<tr><th>Dropped</th><td>{{.Queue.Dropped}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Window</th><td>{{ms .Config.WindowMs}}</td></tr>
<tr><th>Threshold</th><td>{{.Config.Threshold}}</td></tr>
<tr><th>Tick</th><td>{{ms .Config.TickMs}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{ms .Config.HeartbeatMs}}{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/sensor-data">sensor data</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
