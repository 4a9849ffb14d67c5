// Package messages renders patient-facing WhatsApp texts. Bodies are rendered
// once, when a notification is enqueued, and stored on the row.
package messages

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/vdental/chairbook/libs/civiltime"
	"github.com/vdental/chairbook/libs/model"
)

const fallbackName = "Paziente"

var defaultTemplates = map[model.NotificationKind]string{
	model.KindConfirmation: "Appuntamento confermato: {{.name}} alle {{.time}} del {{.date}} presso {{.clinic}}.",
	model.KindDayBefore:    "Ciao {{.name}}, ti ricordiamo il tuo appuntamento di domani alle {{.time}} presso {{.clinic}}. Se non puoi venire rispondi a questo messaggio. Grazie!",
	model.KindSameDay:      "Ciao {{.name}}, ci vediamo oggi alle {{.time}} per il tuo appuntamento da {{.clinic}}. A presto!",
	model.KindReview:       "Ciao {{.name}}, speriamo che la tua visita sia andata bene! Se sei soddisfatto, ci lasci una recensione su Google? Grazie\n{{.review_link}}",
}

type Config struct {
	Clinic     string
	ReviewLink string
	// Overrides replaces the text of individual kinds.
	Overrides map[model.NotificationKind]string
}

type Renderer struct {
	zone       *civiltime.Zone
	clinic     string
	reviewLink string
	templates  map[model.NotificationKind]*template.Template
}

func NewRenderer(zone *civiltime.Zone, cfg Config) (*Renderer, error) {
	if strings.TrimSpace(cfg.Clinic) == "" {
		cfg.Clinic = "V Dental"
	}
	r := &Renderer{
		zone:       zone,
		clinic:     cfg.Clinic,
		reviewLink: cfg.ReviewLink,
		templates:  make(map[model.NotificationKind]*template.Template, len(defaultTemplates)),
	}
	for kind, text := range defaultTemplates {
		if o, ok := cfg.Overrides[kind]; ok && strings.TrimSpace(o) != "" {
			text = o
		}
		t, err := template.New(string(kind)).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("messages: parse %s: %w", kind, err)
		}
		r.templates[kind] = t
	}
	return r, nil
}

// Render produces the body for kind from an appointment snapshot. Times are
// shown in the clinic zone.
func (r *Renderer) Render(kind model.NotificationKind, appt model.Appointment) (string, error) {
	t, ok := r.templates[kind]
	if !ok {
		return "", fmt.Errorf("messages: no template for kind %q", kind)
	}
	date, clock := r.zone.ToCivil(appt.StartAt)
	name := strings.TrimSpace(appt.PatientName)
	if name == "" {
		name = fallbackName
	}
	data := map[string]string{
		"name":        name,
		"time":        fmt.Sprintf("%02d:%02d", clock.Hour, clock.Minute),
		"date":        fmt.Sprintf("%02d/%02d/%04d", date.Day, int(date.Month), date.Year),
		"clinic":      r.clinic,
		"review_link": r.reviewLink,
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("messages: execute %s: %w", kind, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
