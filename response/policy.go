// Package response turns threat events into response plans and drives them
// through their execution lifecycle.
package response

import (
	"fmt"
	"os"
	"time"

	"icarus/core"

	"gopkg.in/yaml.v3"
)

// DefaultPlanTimeout bounds plan execution wall-clock time
const DefaultPlanTimeout = 300 * time.Second

// severityPriorities derives the plan priority (0-100) from the severity
var severityPriorities = map[core.ThreatSeverity]int{
	core.SeverityInfo:     10,
	core.SeverityLow:      30,
	core.SeverityMedium:   50,
	core.SeverityHigh:     70,
	core.SeverityCritical: 90,
}

// policyKey addresses one rule; SeverityAny matches every severity above
// the low tiers
type policyKey struct {
	category core.ThreatCategory
	severity core.ThreatSeverity
}

// severityAny marks a category rule that applies regardless of severity
const severityAny core.ThreatSeverity = -1

// Policy is the deterministic action-selection table keyed on (category,
// severity). Severity dominates category for the lowest tiers: Info and
// Low threats are never escalated past monitoring and alerting no matter
// what category they carry.
type Policy struct {
	rules           map[policyKey][]core.ResponseAction
	fallbackActions []core.ResponseAction
	timeout         time.Duration
}

// DefaultPolicy builds the built-in table
func DefaultPolicy() *Policy {
	return &Policy{
		rules: map[policyKey][]core.ResponseAction{
			{core.ThreatPortScan, severityAny}:   {core.ActionAlert, core.ActionBlockIP},
			{core.ThreatBruteForce, severityAny}: {core.ActionAlert, core.ActionBlockIP},
			{core.ThreatDenialOfService, core.SeverityCritical}: {
				core.ActionAlert, core.ActionBlockIP, core.ActionActiveCountermeasure,
			},
			{core.ThreatUnknownZeroDay, core.SeverityCritical}: {
				core.ActionAlert, core.ActionIsolateSystem, core.ActionActiveCountermeasure,
			},
		},
		fallbackActions: []core.ResponseAction{core.ActionAlert, core.ActionMonitor},
		timeout:         DefaultPlanTimeout,
	}
}

// ActionsFor resolves the action list for a threat. Resolution order: the
// low-severity dominance rules, then an exact (category, severity) rule,
// then the category's any-severity rule, then the fallback.
func (p *Policy) ActionsFor(event core.ThreatEvent) []core.ResponseAction {
	switch event.Severity {
	case core.SeverityInfo:
		return []core.ResponseAction{core.ActionMonitor}
	case core.SeverityLow:
		return []core.ResponseAction{core.ActionMonitor, core.ActionAlert}
	}

	if actions, ok := p.rules[policyKey{event.Category, event.Severity}]; ok {
		return append([]core.ResponseAction(nil), actions...)
	}
	if actions, ok := p.rules[policyKey{event.Category, severityAny}]; ok {
		return append([]core.ResponseAction(nil), actions...)
	}
	return append([]core.ResponseAction(nil), p.fallbackActions...)
}

// PriorityFor derives the plan priority from the severity
func (p *Policy) PriorityFor(severity core.ThreatSeverity) int {
	if prio, ok := severityPriorities[severity]; ok {
		return prio
	}
	return severityPriorities[core.SeverityMedium]
}

// Timeout returns the plan execution timeout
func (p *Policy) Timeout() time.Duration {
	return p.timeout
}

// overlayFile is the YAML schema for operator policy overrides
type overlayFile struct {
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Rules          []overlayRule `yaml:"rules"`
}

type overlayRule struct {
	Category string   `yaml:"category"`
	Severity string   `yaml:"severity"` // empty means any severity
	Actions  []string `yaml:"actions"`
}

// LoadOverlay applies an operator-supplied YAML overlay on top of the
// built-in table. Overlay rules replace matching built-in rules; the
// low-severity dominance rules are not overridable.
func (p *Policy) LoadOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading policy overlay: %w", err)
	}

	var file overlayFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing policy overlay: %w", err)
	}

	if file.TimeoutSeconds > 0 {
		p.timeout = time.Duration(file.TimeoutSeconds) * time.Second
	}

	for i, rule := range file.Rules {
		category := core.ThreatCategory(rule.Category)
		if !category.IsValid() {
			return fmt.Errorf("policy overlay rule %d: unknown category %q", i, rule.Category)
		}

		severity := severityAny
		if rule.Severity != "" {
			sev, ok := core.ParseSeverity(rule.Severity)
			if !ok {
				return fmt.Errorf("policy overlay rule %d: unknown severity %q", i, rule.Severity)
			}
			severity = sev
		}

		actions := make([]core.ResponseAction, 0, len(rule.Actions))
		for _, name := range rule.Actions {
			action := core.ResponseAction(name)
			if !action.IsValid() {
				return fmt.Errorf("policy overlay rule %d: unknown action %q", i, name)
			}
			actions = append(actions, action)
		}
		if len(actions) == 0 {
			return fmt.Errorf("policy overlay rule %d: no actions", i)
		}

		p.rules[policyKey{category, severity}] = actions
	}
	return nil
}
