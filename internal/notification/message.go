package notification

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/google/uuid"

	"github.com/mikeyg42/motioncam/internal/metadata"
)

const alertTimeLayout = "2006-01-02 15:04:05"

const alertBody = `Hello,

This is an automated alert to inform you that motion has been detected.

Detected: {{.Summary}}
{{- if .Counts}}

{{.Total}} object(s) detected:
{{- range .Counts}}
 {{.Count}} {{.Label}}
{{- end}}
{{- end}}

Time of detection: {{.Time}}
{{- if .Clip}}
Clip: {{.Clip}}
{{- end}}

Please check the dashboard for further details.

Thank you
`

var alertTemplate = template.Must(template.New("alert").Parse(alertBody))

// Email is a rendered alert ready for MIME encoding.
type Email struct {
	From        string
	FromName    string
	To          string
	Subject     string
	TextBody    string
	MessageID   string
	SystemName  string
	Attachments []Attachment
}

// Attachment is a file attached to an Email.
type Attachment struct {
	Path        string
	Name        string
	ContentType string
}

// AlertSubject returns "Motion Detected - <time>".
func AlertSubject(a Alert) string {
	return "Motion Detected - " + a.Timestamp.Format(alertTimeLayout)
}

// RenderAlertBody renders the plain text alert body. The summary line is the
// same string embedded in the clip's comment tag.
func RenderAlertBody(a Alert) (string, error) {
	summary := a.Summary
	if summary == "" {
		summary = metadata.FormatLabels(a.Labels)
	}
	data := struct {
		Summary string
		Total   int
		Counts  []metadata.LabelCount
		Time    string
		Clip    string
	}{
		Summary: summary,
		Total:   len(a.Labels),
		Counts:  metadata.CountLabels(a.Labels),
		Time:    a.Timestamp.Format(alertTimeLayout),
		Clip:    a.ClipName,
	}

	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute alert template: %w", err)
	}
	return buf.String(), nil
}

// NewAlertEmail builds the Email for an alert, attaching whichever images
// are set.
func NewAlertEmail(a Alert, from, to, systemName string) (*Email, error) {
	body, err := RenderAlertBody(a)
	if err != nil {
		return nil, err
	}

	e := &Email{
		From:       from,
		FromName:   systemName,
		To:         to,
		Subject:    AlertSubject(a),
		TextBody:   body,
		MessageID:  uuid.New().String() + "@motioncam.local",
		SystemName: systemName,
	}
	if a.PreviewImagePath != "" {
		e.Attachments = append(e.Attachments, Attachment{Path: a.PreviewImagePath, Name: "preview.jpg", ContentType: "image/jpeg"})
	}
	if a.AnnotatedImagePath != "" {
		e.Attachments = append(e.Attachments, Attachment{Path: a.AnnotatedImagePath, Name: "detections.jpg", ContentType: "image/jpeg"})
	}
	return e, nil
}
