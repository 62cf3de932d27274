// Package notify delivers registration confirmations to attendees.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"
)

var ErrDeliveryFailed = errors.New("delivery failed")

// Confirmation is everything a registration email needs.
type Confirmation struct {
	To           string
	AttendeeName string
	EventName    string
	EventDate    time.Time
	EventTime    string
	TicketCode   string
	QRURL        string
	// Generation is the outbox generation the send belongs to. A resend
	// starts a new generation so the provider does not drop it as a repeat.
	Generation int
}

// Sender delivers confirmations. Implementations must make repeated sends
// for one ticket code idempotent where the provider allows it.
type Sender interface {
	SendRegistration(ctx context.Context, c Confirmation) error
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`
<h2>You're registered for {{.EventName}}</h2>
<p>Hi {{.AttendeeName}},</p>
<p>Your place is confirmed for <b>{{.EventName}}</b> on {{.EventDate.Format "Monday, 2 January 2006"}}{{if .EventTime}} at {{.EventTime}}{{end}}.</p>
<p>Your ticket code is:</p>
<h3 style="font-family:monospace">{{.TicketCode}}</h3>
{{if .QRURL}}<p><img src="{{.QRURL}}" alt="Ticket QR code" width="256" height="256"/></p>{{end}}
<p>Show this code or the QR at the entrance.</p>
`))

func subject(c Confirmation) string {
	return fmt.Sprintf("Your ticket for %s", c.EventName)
}

func renderHTML(c Confirmation) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderText(c Confirmation) string {
	s := fmt.Sprintf("Hi %s, you're registered for %s on %s",
		c.AttendeeName, c.EventName, c.EventDate.Format("2 Jan 2006"))
	if c.EventTime != "" {
		s += " at " + c.EventTime
	}
	s += ". Ticket code: " + c.TicketCode
	if c.QRURL != "" {
		s += ". QR: " + c.QRURL
	}
	return s
}
