package toolexecutor

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ToolPolicy defines which tools are exposed
type ToolPolicy struct {
	Allow []string `json:"allow" mapstructure:"allow"` // names or prefixes ending in '*'
	Deny  []string `json:"deny" mapstructure:"deny"`   // overrides allow
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		// No policy means allow all
		return true
	}

	// Check deny list first (overrides allow list)
	for _, denied := range tp.Deny {
		if matchTool(denied, toolName) {
			return false
		}
	}

	// An empty allow list exposes everything not denied
	if len(tp.Allow) == 0 {
		return true
	}
	for _, allowed := range tp.Allow {
		if matchTool(allowed, toolName) {
			return true
		}
	}
	return false
}

// Validate rejects malformed entries and warns about policies that hide every tool
func (tp *ToolPolicy) Validate(logger zerolog.Logger) error {
	if tp == nil {
		return nil
	}
	for _, list := range [][]string{tp.Allow, tp.Deny} {
		for _, pattern := range list {
			if strings.TrimSpace(pattern) == "" {
				return fmt.Errorf("tool policy entries cannot be empty")
			}
			if i := strings.Index(pattern, "*"); i >= 0 && i != len(pattern)-1 {
				return fmt.Errorf("tool policy entry %q: '*' is only allowed at the end", pattern)
			}
		}
	}
	for _, denied := range tp.Deny {
		if denied == "*" {
			logger.Warn().Msg("Tool policy denies every tool")
		}
	}
	return nil
}

func matchTool(pattern, name string) bool {
	if pattern == "*" || pattern == name {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
