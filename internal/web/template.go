package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pressure-regulator/internal/status"
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
	"mbar": func(p float32) string {
		return fmt.Sprintf("%.2f mbar", p)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pressure Regulator</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.open { color: green; font-weight: bold; }
.closed { color: #888; }
.error { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Pressure Regulator</h1>

<h2>State</h2>
<table>
<tr><th>Mode</th><td id="state" class="{{if eq .Regulator.State.String "ERROR"}}error{{end}}">{{.Regulator.State}}</td></tr>
<tr><th>Valve</th><td id="valve" class="{{if eq .Regulator.Valve.String "OPEN"}}open{{else}}closed{{end}}">{{.Regulator.Valve}} (pin {{.Regulator.Band.Pin}})</td></tr>
<tr><th>Hold band</th><td>{{mbar .Regulator.Band.Min}} to {{mbar .Regulator.Band.Max}}</td></tr>
</table>

<h2>Readings</h2>
<table>
<tr><th>Current</th><td id="current">{{mbar .Regulator.Readings.Current}}</td></tr>
<tr><th>Previous</th><td>{{mbar .Regulator.Readings.Previous}}</td></tr>
<tr><th>Before that</th><td>{{mbar .Regulator.Readings.BeforeThat}}</td></tr>
</table>

<h2>Counts</h2>
<table>
<tr><th>Samples</th><td>{{.Regulator.Counts.Samples}}</td></tr>
<tr><th>Valve opens</th><td>{{.Regulator.Counts.ValveOpens}}</td></tr>
<tr><th>Valve closes</th><td>{{.Regulator.Counts.ValveCloses}}</td></tr>
<tr><th>Stalls</th><td>{{.Regulator.Counts.Stalls}}</td></tr>
<tr><th>Dropped messages</th><td>{{.Dropped}}</td></tr>
</table>

<h2>Bus</h2>
<table>
<tr><th>Transport</th><td>{{.Config.Transport}}</td></tr>
<tr><th>Connection</th><td class="{{if .BusConnected}}connected{{else}}disconnected{{end}}">{{if .BusConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Address</th><td>{{.Config.Address}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
{{if .Config.SerialPort}}<tr><th>Serial port</th><td>{{.Config.SerialPort}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Sample interval</th><td>{{.Config.SampleMs}}ms ({{.Config.ErrorSampleMs}}ms in ERROR)</td></tr>
<tr><th>Stall detection</th><td>{{if .Config.StallDetect}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/index.cbor">CBOR</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
