// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type AutomationCollector struct {
	RuleFiringTotal       *prometheus.CounterVec
	RuleItemsMatchedTotal *prometheus.CounterVec
	RuleActionTotal       *prometheus.CounterVec
}

func NewAutomationCollector(r prometheus.Registerer) *AutomationCollector {
	m := &AutomationCollector{
		RuleFiringTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autorules",
			Subsystem: "automation",
			Name:      "rule_firing_total",
			Help:      "Total number of rule firings that matched at least one item",
		}, []string{"rule_id", "rule_name", "trigger"}),
		RuleItemsMatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autorules",
			Subsystem: "automation",
			Name:      "rule_items_matched_total",
			Help:      "Total number of items that matched a rule's conditions",
		}, []string{"rule_id", "rule_name"}),
		RuleActionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autorules",
			Subsystem: "automation",
			Name:      "rule_action_total",
			Help:      "Total number of item actions by outcome",
		}, []string{"rule_id", "rule_name", "action", "outcome"}),
	}

	r.MustRegister(m.RuleFiringTotal)
	r.MustRegister(m.RuleItemsMatchedTotal)
	r.MustRegister(m.RuleActionTotal)
	return m
}

func (m *AutomationCollector) GetRuleFiringTotal(ruleID, ruleName, trigger string) prometheus.Counter {
	return m.RuleFiringTotal.With(prometheus.Labels{
		"rule_id":   ruleID,
		"rule_name": ruleName,
		"trigger":   trigger,
	})
}

func (m *AutomationCollector) GetRuleItemsMatchedTotal(ruleID, ruleName string) prometheus.Counter {
	return m.RuleItemsMatchedTotal.With(prometheus.Labels{
		"rule_id":   ruleID,
		"rule_name": ruleName,
	})
}

func (m *AutomationCollector) GetRuleActionTotal(ruleID, ruleName string) *prometheus.CounterVec {
	return m.RuleActionTotal.MustCurryWith(prometheus.Labels{
		"rule_id":   ruleID,
		"rule_name": ruleName,
	})
}
