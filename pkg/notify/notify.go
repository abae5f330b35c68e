// Package notify delivers low-battery alerts to an operator.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"text/template"
	"time"
)

// Alert denotes a single low-battery alert
type Alert struct {
	Level     float64
	Threshold float64
	Recipient string
	DeviceID  string
	Timestamp time.Time
}

// Notifier delivers alerts
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// DefaultSubject denotes the subject line of alert messages
const DefaultSubject = "Low Battery Alert: Perch Scale"

// DefaultTemplate denotes the default alert message body
const DefaultTemplate = `Battery Alert for Perch Scale

Timestamp: {{.Timestamp.Format "2006-01-02 15:04:05"}}
Battery Level: {{printf "%.1f" .Level}}%
Alert Threshold: {{printf "%.1f" .Threshold}}%
{{- if .DeviceID}}
Scale Address: {{.DeviceID}}
{{- end}}

This is an automated alert from your perch scale monitoring system.
Please charge or replace the battery soon to avoid monitoring interruption.
`

// Template renders alert message bodies
type Template struct {
	tpl *template.Template
}

// NewTemplate parses an alert template, falling back to DefaultTemplate
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("battery-alert").Parse(tpl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse alert template: %w", err)
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to the alert
func (t *Template) Render(alert Alert) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, alert); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Recorder records all alerts it is asked to deliver, mostly for testing
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert

	// Err, if set, is returned by Notify (the alert is still recorded)
	Err error
}

// Notify records the alert
func (r *Recorder) Notify(_ context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return r.Err
}

// Alerts returns a copy of all recorded alerts
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}
