package alerting

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"shelfwatch/internal/event"
)

const (
	systemName = "Shelfwatch Inventory Monitor"
	footerLine = "Automated Alert Notification"
)

var severityColors = map[event.Severity]template.CSS{
	event.SeverityInfo:     "#17a2b8",
	event.SeverityWarning:  "#ffc107",
	event.SeverityCritical: "#dc3545",
}

type detail struct {
	Key   string
	Value string
}

// message is the channel-independent rendering of one event.
type message struct {
	Title    string
	Entity   string
	Severity string
	Time     string
	Text     string
	Details  []detail
	Color    template.CSS
	System   string
	Footer   string
}

func newMessage(ev event.Event, localTime string) message {
	level := event.SeverityInfo
	if alert, ok := ev.(event.Alert); ok {
		level = alert.Level()
	}
	color, ok := severityColors[level]
	if !ok {
		color = "#6c757d"
	}
	return message{
		Title:    kindTitle(ev.Kind()),
		Entity:   ev.EntityName(),
		Severity: strings.ToUpper(string(level)),
		Time:     localTime,
		Text:     describe(ev),
		Details:  details(ev),
		Color:    color,
		System:   systemName,
		Footer:   footerLine,
	}
}

// kindTitle turns low_stock into "Low Stock".
func kindTitle(kind event.Kind) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(kind), "_", " "))
}

func describe(ev event.Event) string {
	switch e := ev.(type) {
	case event.Sale:
		if !e.Attributed {
			return fmt.Sprintf("Unattributed sale: %d items (%d -> %d)", e.Quantity, e.InventoryBefore, e.InventoryAfter)
		}
		return fmt.Sprintf("Sale recorded: %d x %s (%d -> %d)", e.Quantity, e.Entity, e.InventoryBefore, e.InventoryAfter)
	case event.Alert:
		return e.Message()
	default:
		return string(ev.Kind())
	}
}

func details(ev event.Event) []detail {
	switch e := ev.(type) {
	case event.Sale:
		return []detail{
			{"quantity", strconv.Itoa(e.Quantity)},
			{"inventory_before", strconv.Itoa(e.InventoryBefore)},
			{"inventory_after", strconv.Itoa(e.InventoryAfter)},
			{"attributed", strconv.FormatBool(e.Attributed)},
		}
	case event.LowStock:
		return []detail{
			{"current_count", strconv.Itoa(e.CurrentCount)},
			{"threshold", strconv.Itoa(e.Threshold)},
		}
	case event.Expiration:
		out := []detail{
			{"age_days", strconv.FormatFloat(e.AgeDays, 'f', 1, 64)},
			{"expiration_days", strconv.Itoa(e.ExpirationDays)},
		}
		if !e.FirstSeen.IsZero() {
			out = append(out, detail{"first_seen", e.FirstSeen.UTC().Format(time.RFC3339)})
		}
		return out
	}
	return nil
}

// Subject renders "[SEVERITY] Kind: entity".
func Subject(ev event.Event) string {
	m := newMessage(ev, "")
	return fmt.Sprintf("[%s] %s: %s", m.Severity, m.Title, m.Entity)
}

// TextBody renders the plain-text body shared by e-mail and logs.
func TextBody(ev event.Event, localTime string) string {
	m := newMessage(ev, localTime)
	var b strings.Builder
	fmt.Fprintf(&b, "Alert: %s\n", m.Title)
	fmt.Fprintf(&b, "Product: %s\n", m.Entity)
	fmt.Fprintf(&b, "Severity: %s\n", m.Severity)
	fmt.Fprintf(&b, "Time: %s\n\n", m.Time)
	fmt.Fprintf(&b, "Message: %s\n", m.Text)
	if len(m.Details) > 0 {
		b.WriteString("\nDetails:\n")
		for _, d := range m.Details {
			fmt.Fprintf(&b, "  %s: %s\n", d.Key, d.Value)
		}
	}
	b.WriteString("\n---\n")
	b.WriteString(m.System + "\n")
	b.WriteString(m.Footer + "\n")
	return b.String()
}

var htmlBody = template.Must(template.New("alert").Parse(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background: {{.Color}}; color: white; padding: 15px; border-radius: 5px 5px 0 0;">
    <h2 style="margin: 0;">{{.Title}}</h2>
  </div>
  <div style="border: 1px solid #ddd; border-top: none; padding: 20px;">
    <table style="width: 100%; border-collapse: collapse;">
      <tr><td style="padding: 8px; font-weight: bold; width: 120px;">Product:</td><td style="padding: 8px;">{{.Entity}}</td></tr>
      <tr><td style="padding: 8px; font-weight: bold;">Severity:</td><td style="padding: 8px;">{{.Severity}}</td></tr>
      <tr><td style="padding: 8px; font-weight: bold;">Time:</td><td style="padding: 8px;">{{.Time}}</td></tr>
    </table>
    <div style="margin-top: 20px; padding: 15px; background: #f8f9fa; border-left: 4px solid {{.Color}};">
      <p style="margin: 0;"><strong>Message:</strong></p>
      <p style="margin: 10px 0 0 0;">{{.Text}}</p>
    </div>
    {{- if .Details}}
    <table style="margin-top: 20px; width: 100%; font-size: 14px;">
      {{- range .Details}}
      <tr><td style="padding: 5px;">{{.Key}}:</td><td style="padding: 5px;">{{.Value}}</td></tr>
      {{- end}}
    </table>
    {{- end}}
  </div>
  <div style="margin-top: 20px; text-align: center; color: #6c757d; font-size: 12px;">
    <p style="margin: 0;">{{.System}}</p>
    <p style="margin: 5px 0 0 0;">{{.Footer}}</p>
  </div>
</div>
</body>
</html>
`))

// HTMLBody renders the HTML alternative of an e-mail.
func HTMLBody(ev event.Event, localTime string) (string, error) {
	var buf bytes.Buffer
	if err := htmlBody.Execute(&buf, newMessage(ev, localTime)); err != nil {
		return "", fmt.Errorf("render html body: %w", err)
	}
	return buf.String(), nil
}

// ChatText renders the compact chat message used by Telegram.
func ChatText(ev event.Event, localTime string) string {
	m := newMessage(ev, localTime)
	var b strings.Builder
	fmt.Fprintf(&b, "[Shelfwatch] %s\n", Subject(ev))
	fmt.Fprintf(&b, "Time: %s\n", m.Time)
	b.WriteString(m.Text + "\n")
	for _, d := range m.Details {
		fmt.Fprintf(&b, "%s: %s\n", d.Key, d.Value)
	}
	return b.String()
}
