package networking

import (
	"fmt"
	"strings"

	"github.com/coreos/go-iptables/iptables"
	"github.com/valyala/fasttemplate"

	"github.com/vpnshift/vpnshift/internal/log"
)

const IPTABLES_TMPL_IFACE = "tunnel_iface"

// ForwardingRule is one iptables rule spec together with its table and chain.
type ForwardingRule struct {
	Table string
	Chain string
	Rule  []string
}

func (r *ForwardingRule) String() string {
	return fmt.Sprintf("-t %s -A %s %s", r.Table, r.Chain, strings.Join(r.Rule, " "))
}

// forwardingRuleTemplates are the masquerade and forward-accept rules applied
// for the tunnel interface. {{tunnel_iface}} is expanded before use.
var forwardingRuleTemplates = []*ForwardingRule{
	{Table: "nat", Chain: "POSTROUTING", Rule: []string{"-o", "{{tunnel_iface}}", "-j", "MASQUERADE"}},
	{Table: "filter", Chain: "FORWARD", Rule: []string{"-i", "{{tunnel_iface}}", "-j", "ACCEPT"}},
	{Table: "filter", Chain: "FORWARD", Rule: []string{"-o", "{{tunnel_iface}}", "-j", "ACCEPT"}},
}

type IPTableRules struct {
	ipt   *iptables.IPTables
	rules []*ForwardingRule
}

// NewIPTableRules expands the forwarding rule templates for ifaceName and
// binds them to an IPv4 iptables handle.
func NewIPTableRules(ifaceName string) (*IPTableRules, error) {
	ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, err
	}

	return &IPTableRules{ipt, processRules(forwardingRuleTemplates, ifaceName)}, nil
}

func processRules(templates []*ForwardingRule, ifaceName string) []*ForwardingRule {
	rules := make([]*ForwardingRule, len(templates))

	for i, rule := range templates {
		ruleSpecs := make([]string, len(rule.Rule))

		for j, ruleSpec := range rule.Rule {
			ruleSpecs[j] = processRulePart(ruleSpec, ifaceName)
		}

		rules[i] = &ForwardingRule{
			Table: processRulePart(rule.Table, ifaceName),
			Chain: processRulePart(rule.Chain, ifaceName),
			Rule:  ruleSpecs,
		}
	}

	return rules
}

func processRulePart(template string, ifaceName string) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	t := fasttemplate.New(template, "{{", "}}")
	return t.ExecuteString(map[string]interface{}{
		IPTABLES_TMPL_IFACE: ifaceName,
	})
}

func (i *IPTableRules) AddIfNotExists() error {
	for _, rule := range i.rules {
		exists, err := i.ipt.Exists(rule.Table, rule.Chain, rule.Rule...)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		log.Infof("Adding iptables rule [%v]", rule)
		if err := i.ipt.Append(rule.Table, rule.Chain, rule.Rule...); err != nil {
			return err
		}
	}
	return nil
}

func (i *IPTableRules) DelIfExists() error {
	for _, rule := range i.rules {
		exists, err := i.ipt.Exists(rule.Table, rule.Chain, rule.Rule...)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		log.Infof("Deleting iptables rule [%v]", rule)
		if err := i.ipt.Delete(rule.Table, rule.Chain, rule.Rule...); err != nil {
			return err
		}
	}
	return nil
}

func (i *IPTableRules) CheckRulesExists() (map[*ForwardingRule]bool, error) {
	rules := make(map[*ForwardingRule]bool)

	for _, rule := range i.rules {
		if exists, err := i.ipt.Exists(rule.Table, rule.Chain, rule.Rule...); err != nil {
			log.Errorf("Checking iptables rule presense [%v] is failed: %v", rule, err)
			return nil, err
		} else {
			log.Debugf("Checking iptables rule presense [%v]: exists=%v", rule, exists)
			rules[rule] = exists
		}
	}

	return rules, nil
}
