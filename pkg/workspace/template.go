package workspace

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"ctxkeep/pkg/version"
)

// TemplateVars holds the variables available to workspace templates.
type TemplateVars struct {
	Date      string // 2006-01-02
	DayOfWeek string
	Version   string
	Workspace string
}

// NewTemplateVars returns variables for a template rendered at now.
func NewTemplateVars(workspace string, now time.Time) TemplateVars {
	return TemplateVars{
		Date:      now.Format("2006-01-02"),
		DayOfWeek: now.Format("Monday"),
		Version:   version.GetVersion(),
		Workspace: workspace,
	}
}

// RenderTemplate renders a text/template string with vars.
func RenderTemplate(templateStr string, vars TemplateVars) (string, error) {
	tmpl, err := template.New("template").Option("missingkey=zero").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}
	return buf.String(), nil
}
