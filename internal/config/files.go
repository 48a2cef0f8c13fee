package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Aidin1998/sentinel/internal/alerting"
)

type rulesFile struct {
	Rules []alerting.AlertRule `yaml:"rules"`
}

// LoadRulesFile reads alert rule definitions from a YAML file. Each
// rule is validated before it is returned.
func LoadRulesFile(path string) ([]alerting.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read rules file %s", path)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "failed to parse rules file %s", path)
	}
	for i := range f.Rules {
		if err := f.Rules[i].Validate(); err != nil {
			return nil, errors.Wrapf(err, "rules file %s", path)
		}
	}
	return f.Rules, nil
}

type playbooksFile struct {
	Playbooks map[string]alerting.Playbook `yaml:"playbooks"`
}

// LoadPlaybooksFile reads severity-keyed playbook definitions from a
// YAML file.
func LoadPlaybooksFile(path string) (map[alerting.Severity]alerting.Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read playbooks file %s", path)
	}
	var f playbooksFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "failed to parse playbooks file %s", path)
	}

	playbooks := make(map[alerting.Severity]alerting.Playbook, len(f.Playbooks))
	for key, playbook := range f.Playbooks {
		severity := alerting.Severity(key)
		switch severity {
		case alerting.SeverityLow, alerting.SeverityMedium, alerting.SeverityHigh, alerting.SeverityCritical:
		default:
			return nil, errors.Errorf("playbooks file %s: unknown severity %q", path, key)
		}
		if len(playbook.Steps) == 0 {
			return nil, errors.Errorf("playbooks file %s: playbook %q has no steps", path, key)
		}
		playbooks[severity] = playbook
	}
	return playbooks, nil
}
