package tracker

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"merlodigital/site/models"
)

const (
	colorHighValue template.CSS = "#25D366"
	colorDefault   template.CSS = "#16305D"

	reportTimeLayout = "15:04:05 (02/01)"
)

// highValueMarkers flag actions that are worth a second look in the report.
var highValueMarkers = []string{"WhatsApp", "Contato"}

var reportTemplate = template.Must(template.New("report").Parse(`<div style="font-family: sans-serif; color: #333; max-width: 600px;">
  <h3 style="color: #16305D; border-bottom: 2px solid #16305D; padding-bottom: 10px;">Relatório de Tráfego</h3>
  <p style="background-color: #f4f4f4; padding: 10px; border-radius: 5px; font-size: 12px;">
    <strong>Status:</strong> {{.Reason}}<br>
    <strong>Filtro:</strong> Robôs e IPs internos ignorados.
  </p>
  <ul style="padding: 0;">
  {{- range .Items}}
    <li style="margin-bottom: 15px; border-left: 4px solid {{.Color}}; padding-left: 10px; list-style: none;">
      <div style="font-size: 14px; font-weight: bold; color: {{.Color}};">{{.Action}}</div>
      <div style="font-size: 12px; color: #555; line-height: 1.5;">
        🕒 {{.Time}} · {{.Visitor}}<br>
        🌍 <strong>{{.Location}}</strong> <span style="color:#999">IP: {{.IP}}</span><br>
        🏢 {{.Network}}<br>
        🔧 {{.Device}}<br>
        🧭 {{.Referrer}}<br>
        🔗 {{.Page}} &rarr; {{.Destination}}
      </div>
    </li>
    <hr style="border: 0; border-top: 1px dashed #eee; margin: 10px 0;">
  {{- end}}
  </ul>
  <div style="text-align: center; margin-top: 20px; font-size: 11px; color: #aaa;">Merlô Digital Intelligence System v2.0</div>
</div>
`))

type reportData struct {
	Reason string
	Items  []reportItem
}

type reportItem struct {
	Color       template.CSS
	Action      string
	Time        string
	Visitor     string
	Location    string
	Network     string
	IP          string
	Device      string
	Referrer    string
	Page        string
	Destination string
}

// IsHighValue reports whether action names a contact-class intent.
func IsHighValue(action string) bool {
	for _, m := range highValueMarkers {
		if strings.Contains(action, m) {
			return true
		}
	}
	return false
}

// RenderReport renders the digest for one batch in arrival order. Times are
// shown in loc.
func RenderReport(reason string, events []*models.TrackingEvent, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.Local
	}
	data := reportData{Reason: reason, Items: make([]reportItem, 0, len(events))}
	for _, ev := range events {
		location, network := ev.Location()
		item := reportItem{
			Color:       colorDefault,
			Action:      ev.Action,
			Time:        ev.CreatedAt.In(loc).Format(reportTimeLayout),
			Visitor:     "🔁 Visitante recorrente",
			Location:    location,
			Network:     network,
			IP:          ev.IPAddress,
			Device:      ev.Device,
			Referrer:    ev.Referrer,
			Page:        ev.Page,
			Destination: ev.Destination,
		}
		if IsHighValue(ev.Action) {
			item.Color = colorHighValue
		}
		if ev.NewVisitor {
			item.Visitor = "🆕 Novo visitante"
		}
		data.Items = append(data.Items, item)
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

// ReportSubject names the batch size and the reason it was sent.
func ReportSubject(n int, reason string) string {
	return fmt.Sprintf("🎯 %d Novos Leads/Cliques no Site (%s)", n, reason)
}
