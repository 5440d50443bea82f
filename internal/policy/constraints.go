package policy

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// ConstraintSet is the decoded form of a RuleAction's Constraints map: a
// capability boundary an allow/limit/monitor decision attaches to the agent
// for the remainder of the action, adapted from the teacher's capability
// boundary engine and generalized from a per-agent static assignment to a
// per-decision, policy-rule-derived one.
type ConstraintSet struct {
	Filesystem *FilesystemConstraint `json:"filesystem,omitempty"`
	Network    *NetworkConstraint    `json:"network,omitempty"`
	Shell      *ShellConstraint      `json:"shell,omitempty"`
	Financial  *FinancialConstraint  `json:"financial,omitempty"`
}

type FilesystemConstraint struct {
	AllowedPaths []string `json:"allowedPaths,omitempty"`
	DeniedPaths  []string `json:"deniedPaths,omitempty"`
	ReadOnly     bool     `json:"readOnly,omitempty"`
}

type NetworkConstraint struct {
	AllowedDomains []string `json:"allowedDomains,omitempty"`
	BlockedDomains []string `json:"blockedDomains,omitempty"`
}

type ShellConstraint struct {
	Enabled         bool     `json:"enabled,omitempty"`
	AllowedCommands []string `json:"allowedCommands,omitempty"`
	BlockedCommands []string `json:"blockedCommands,omitempty"`
}

type FinancialConstraint struct {
	MaxTransaction      float64 `json:"maxTransaction,omitempty"`
	RequireApprovalOver float64 `json:"requireApprovalOver,omitempty"`
}

// CheckResult is the outcome of applying a ConstraintSet to one action.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// DecodeConstraints decodes a RuleAction.Constraints map (arbitrary JSON
// attached to a policy rule) into a typed ConstraintSet via a marshal/
// unmarshal round-trip, since the Store persists rules generically.
func DecodeConstraints(raw map[string]interface{}) (ConstraintSet, error) {
	var cs ConstraintSet
	if raw == nil {
		return cs, nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return cs, fmt.Errorf("policy: marshal constraints: %w", err)
	}
	if err := json.Unmarshal(buf, &cs); err != nil {
		return cs, fmt.Errorf("policy: decode constraints: %w", err)
	}
	return cs, nil
}

// Check evaluates whether an action of actionType with the given params is
// within cs's boundaries. An actionType with no matching sub-constraint is
// allowed — a ConstraintSet only narrows the actions it explicitly covers.
func (cs ConstraintSet) Check(actionType string, params map[string]interface{}) CheckResult {
	switch actionType {
	case "file.write", "file.read", "file.delete":
		if cs.Filesystem != nil {
			return checkFilesystem(*cs.Filesystem, actionType, params)
		}
	case "tool.call", "shell.exec":
		if cs.Shell != nil {
			return checkShell(*cs.Shell, params)
		}
	case "web.navigate", "api.call":
		if cs.Network != nil {
			return checkNetwork(*cs.Network, params)
		}
	case "financial.transfer", "payment":
		if cs.Financial != nil {
			return checkFinancial(*cs.Financial, params)
		}
	}
	return CheckResult{Allowed: true}
}

func checkFilesystem(c FilesystemConstraint, actionType string, params map[string]interface{}) CheckResult {
	path, _ := params["path"].(string)
	if path == "" {
		return CheckResult{Allowed: true}
	}
	if c.ReadOnly && (actionType == "file.write" || actionType == "file.delete") {
		return CheckResult{Allowed: false, Reason: "constraint grants read-only filesystem access"}
	}
	for _, denied := range c.DeniedPaths {
		if matchPath(path, denied) {
			return CheckResult{Allowed: false, Reason: fmt.Sprintf("path %q matches denied pattern %q", path, denied)}
		}
	}
	if len(c.AllowedPaths) > 0 {
		for _, allowed := range c.AllowedPaths {
			if matchPath(path, allowed) {
				return CheckResult{Allowed: true}
			}
		}
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("path %q not in allowed paths", path)}
	}
	return CheckResult{Allowed: true}
}

func checkShell(c ShellConstraint, params map[string]interface{}) CheckResult {
	if !c.Enabled {
		return CheckResult{Allowed: false, Reason: "shell execution disabled by constraint"}
	}
	command, _ := params["command"].(string)
	if command == "" {
		return CheckResult{Allowed: true}
	}
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return CheckResult{Allowed: true}
	}
	baseCmd := filepath.Base(parts[0])
	for _, blocked := range c.BlockedCommands {
		if baseCmd == blocked {
			return CheckResult{Allowed: false, Reason: fmt.Sprintf("command %q is blocked", baseCmd)}
		}
	}
	if len(c.AllowedCommands) > 0 {
		for _, allowed := range c.AllowedCommands {
			if baseCmd == allowed {
				return CheckResult{Allowed: true}
			}
		}
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("command %q not in allowed commands", baseCmd)}
	}
	return CheckResult{Allowed: true}
}

func checkNetwork(c NetworkConstraint, params map[string]interface{}) CheckResult {
	domain, _ := params["domain"].(string)
	if domain == "" {
		return CheckResult{Allowed: true}
	}
	for _, blocked := range c.BlockedDomains {
		if strings.Contains(domain, blocked) {
			return CheckResult{Allowed: false, Reason: fmt.Sprintf("domain %q is blocked", domain)}
		}
	}
	if len(c.AllowedDomains) > 0 {
		for _, allowed := range c.AllowedDomains {
			if strings.Contains(domain, allowed) {
				return CheckResult{Allowed: true}
			}
		}
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("domain %q not in allowed domains", domain)}
	}
	return CheckResult{Allowed: true}
}

func checkFinancial(c FinancialConstraint, params map[string]interface{}) CheckResult {
	amount, _ := params["amount"].(float64)
	if c.MaxTransaction > 0 && amount > c.MaxTransaction {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("amount %.2f exceeds constraint max transaction %.2f", amount, c.MaxTransaction)}
	}
	return CheckResult{Allowed: true}
}

func matchPath(path, pattern string) bool {
	matched, err := filepath.Match(pattern, path)
	if err != nil {
		trimmed := strings.TrimSuffix(strings.TrimSuffix(pattern, "/**"), "/*")
		return strings.HasPrefix(path, trimmed)
	}
	if matched {
		return true
	}
	if strings.HasSuffix(pattern, "/**") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "/**"))
	}
	return false
}
