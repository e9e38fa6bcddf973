package alerting

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/parapetdev/parapet/internal/models"
)

//go:embed templates.yaml
var templatesYAML []byte

// TemplateRule is one metric/threshold/operator/severity tuple of a template.
type TemplateRule struct {
	Metric          string               `yaml:"metric"`
	Threshold       float64              `yaml:"threshold"`
	Operator        string               `yaml:"operator"`
	Severity        models.AlertSeverity `yaml:"severity"`
	CooldownSeconds int                  `yaml:"cooldownSeconds"`
}

// Template is a named set of alert rules applied to a device in one step.
type Template struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Rules       []TemplateRule `yaml:"rules"`
}

type templateCatalog struct {
	Templates []Template `yaml:"templates"`
}

var catalog templateCatalog

func init() {
	if err := yaml.Unmarshal(templatesYAML, &catalog); err != nil {
		panic(fmt.Sprintf("embedded template catalog is invalid: %v", err))
	}
}

// Templates returns the full catalog.
func Templates() []Template {
	return append([]Template(nil), catalog.Templates...)
}

// TemplateByID fetches one template.
func TemplateByID(id string) (Template, bool) {
	for _, t := range catalog.Templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// ApplyTemplate expands a template into persisted alert configs for one
// device. Each rule becomes an enabled config wired to the given channels.
func (r *Rules) ApplyTemplate(deviceID, templateID string, channelIDs []string) ([]models.AlertConfig, error) {
	tmpl, ok := TemplateByID(templateID)
	if !ok {
		return nil, fmt.Errorf("unknown alert template %q", templateID)
	}

	created := make([]models.AlertConfig, 0, len(tmpl.Rules))
	for _, rule := range tmpl.Rules {
		cfg, err := r.CreateConfig(models.AlertConfig{
			DeviceID:        deviceID,
			MetricType:      rule.Metric,
			Threshold:       rule.Threshold,
			Operator:        rule.Operator,
			Severity:        rule.Severity,
			Enabled:         true,
			ChannelIDs:      append([]string(nil), channelIDs...),
			CooldownSeconds: rule.CooldownSeconds,
		})
		if err != nil {
			return created, fmt.Errorf("template rule %s: %w", rule.Metric, err)
		}
		created = append(created, cfg)
	}
	return created, nil
}
