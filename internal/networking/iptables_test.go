package networking

import (
	"strings"
	"testing"
)

func TestProcessRulePart_TemplateSubstitution(t *testing.T) {
	tests := []struct {
		name     string
		template string
		expected string
	}{
		{
			name:     "No template variables",
			template: "MASQUERADE",
			expected: "MASQUERADE",
		},
		{
			name:     "Interface variable",
			template: "{{tunnel_iface}}",
			expected: "vpnse0",
		},
		{
			name:     "Variable with surrounding text",
			template: "prefix_{{tunnel_iface}}_suffix",
			expected: "prefix_vpnse0_suffix",
		},
		{
			name:     "Unknown variable - gets replaced with empty string",
			template: "{{unknown_var}}-j ACCEPT",
			expected: "-j ACCEPT",
		},
		{
			name:     "Empty template",
			template: "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := processRulePart(tt.template, "vpnse0"); got != tt.expected {
				t.Errorf("processRulePart(%q) = %q, want %q", tt.template, got, tt.expected)
			}
		})
	}
}

func TestProcessRules_ForwardingRules(t *testing.T) {
	rules := processRules(forwardingRuleTemplates, "tun3")

	if len(rules) != 3 {
		t.Fatalf("Expected 3 forwarding rules, got %d", len(rules))
	}

	masq := rules[0]
	if masq.Table != "nat" || masq.Chain != "POSTROUTING" {
		t.Errorf("Expected nat/POSTROUTING, got %s/%s", masq.Table, masq.Chain)
	}
	if strings.Join(masq.Rule, " ") != "-o tun3 -j MASQUERADE" {
		t.Errorf("Unexpected masquerade rule: %v", masq.Rule)
	}

	for _, rule := range rules[1:] {
		if rule.Table != "filter" || rule.Chain != "FORWARD" {
			t.Errorf("Expected filter/FORWARD, got %s/%s", rule.Table, rule.Chain)
		}
		if !strings.Contains(strings.Join(rule.Rule, " "), "tun3") {
			t.Errorf("Expected interface in rule, got %v", rule.Rule)
		}
	}
}

func TestProcessRules_DoesNotMutateTemplates(t *testing.T) {
	processRules(forwardingRuleTemplates, "tun3")

	for _, template := range forwardingRuleTemplates {
		if !strings.Contains(strings.Join(template.Rule, " "), "{{tunnel_iface}}") {
			t.Errorf("Template was mutated: %v", template.Rule)
		}
	}
}

func TestForwardingRule_String(t *testing.T) {
	rule := &ForwardingRule{
		Table: "nat",
		Chain: "POSTROUTING",
		Rule:  []string{"-o", "vpnse0", "-j", "MASQUERADE"},
	}

	expected := "-t nat -A POSTROUTING -o vpnse0 -j MASQUERADE"
	if got := rule.String(); got != expected {
		t.Errorf("String() = %q, want %q", got, expected)
	}
}

func TestNewIPTableRules(t *testing.T) {
	rules, err := NewIPTableRules("vpnse0")
	if err != nil {
		t.Skipf("Skipping test - iptables not available: %v", err)
	}

	if len(rules.rules) != 3 {
		t.Errorf("Expected 3 rules, got %d", len(rules.rules))
	}
}
