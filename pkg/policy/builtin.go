package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in admission policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		pluginNamingPolicy(),
		ruleBudgetPolicy(),
		capabilityRestrictionsPolicy(),
	}
}

// pluginNamingPolicy enforces plugin naming conventions.
func pluginNamingPolicy() Policy {
	return Policy{
		Name:        "plugin-naming",
		Description: "Enforces plugin naming conventions (lowercase, dotted segments, bounded length)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package loom.admission.naming

import rego.v1

deny contains violation if {
	input.plugin.name == ""
	violation := {
		"message": "plugin must have a name",
		"severity": "error",
	}
}

deny contains violation if {
	name := input.plugin.name
	name != ""
	lower(name) != name
	violation := {
		"message": sprintf("plugin name '%s' must be lowercase", [name]),
		"severity": "error",
		"plugin": name,
	}
}

deny contains violation if {
	name := input.plugin.name
	name != ""
	not regex.match("^[a-z0-9][a-z0-9._-]*$", name)
	violation := {
		"message": sprintf("plugin name '%s' must start alphanumeric and contain only lowercase letters, digits, dots, hyphens, and underscores", [name]),
		"severity": "error",
		"plugin": name,
	}
}

deny contains violation if {
	name := input.plugin.name
	count(name) > 64
	violation := {
		"message": sprintf("plugin name '%s' must not exceed 64 characters", [name]),
		"severity": "error",
		"plugin": name,
	}
}

deny contains violation if {
	input.plugin.version == ""
	violation := {
		"message": sprintf("plugin '%s' must declare a version", [input.plugin.name]),
		"severity": "error",
		"plugin": input.plugin.name,
	}
}`,
	}
}

// ruleBudgetPolicy bounds how many rules one plugin may contribute.
func ruleBudgetPolicy() Policy {
	return Policy{
		Name:        "rule-budget",
		Description: "Bounds the number of rules a single plugin may contribute to the pipeline",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"budget", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package loom.admission.budget

import rego.v1

max_rules := 32

deny contains violation if {
	input.plugin.rules > max_rules
	violation := {
		"message": sprintf("plugin '%s' contributes %d rules, exceeding the budget of %d", [input.plugin.name, input.plugin.rules, max_rules]),
		"severity": "error",
		"plugin": input.plugin.name,
	}
}

deny contains violation if {
	input.plugin.rules == 0
	violation := {
		"message": sprintf("plugin '%s' contributes no rules", [input.plugin.name]),
		"severity": "warning",
		"plugin": input.plugin.name,
	}
}`,
	}
}

// capabilityRestrictionsPolicy restricts what plugins may declare they do.
func capabilityRestrictionsPolicy() Policy {
	return Policy{
		Name:        "capability-restrictions",
		Description: "Rejects plugins declaring capabilities outside the allowed set",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"capabilities", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package loom.admission.capabilities

import rego.v1

allowed_capabilities := {"append-section", "rewrite", "scripted", "observe"}

deny contains violation if {
	some cap in input.plugin.capabilities
	not cap in allowed_capabilities
	violation := {
		"message": sprintf("plugin '%s' declares disallowed capability: %s", [input.plugin.name, cap]),
		"severity": "critical",
		"plugin": input.plugin.name,
	}
}

# Unit shape changes are reserved for the engine itself.
deny contains violation if {
	some cap in input.plugin.capabilities
	cap == "shape-change"
	violation := {
		"message": sprintf("plugin '%s' may not change unit shapes", [input.plugin.name]),
		"severity": "critical",
		"plugin": input.plugin.name,
	}
}`,
	}
}
