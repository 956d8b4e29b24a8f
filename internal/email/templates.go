package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

const slotLayout = "Monday 2 January 2006, 3:04 PM"

type baseEmailData struct {
	Title   string
	Heading string
}

type visitReceivedEmailData struct {
	baseEmailData
	Name      string
	Reference string
	Slot      string
	Address   string
}

type clientAssignmentEmailData struct {
	baseEmailData
	Name           string
	Reference      string
	Slot           string
	Address        string
	TechnicianName string
}

type technicianAssignmentEmailData struct {
	baseEmailData
	TechnicianName string
	Reference      string
	ClientName     string
	Slot           string
	Address        string
	Summary        []string
}

type visitCancelledEmailData struct {
	baseEmailData
	Name      string
	Reference string
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}
