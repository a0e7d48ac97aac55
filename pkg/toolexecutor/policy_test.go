package toolexecutor

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestToolPolicy_IsToolAllowed(t *testing.T) {
	tests := []struct {
		name    string
		policy  *ToolPolicy
		allowed []string
		denied  []string
	}{
		{
			name:    "nil policy allows all",
			policy:  nil,
			allowed: []string{"health", "bcs.orders.create"},
		},
		{
			name:    "empty allow list allows all",
			policy:  &ToolPolicy{Deny: []string{"bcs.orders.create"}},
			allowed: []string{"health", "market.fetch"},
			denied:  []string{"bcs.orders.create"},
		},
		{
			name:    "prefix allow",
			policy:  &ToolPolicy{Allow: []string{"market.*", "health"}},
			allowed: []string{"market.fetch", "market.snapshot", "health"},
			denied:  []string{"private.fetch", "bcs.limits.get"},
		},
		{
			name:    "prefix deny overrides allow",
			policy:  &ToolPolicy{Allow: []string{"*"}, Deny: []string{"bcs.orders.*"}},
			allowed: []string{"bcs.limits.get"},
			denied:  []string{"bcs.orders.create", "bcs.orders.cancel"},
		},
		{
			name:   "deny all",
			policy: &ToolPolicy{Allow: []string{"*"}, Deny: []string{"*"}},
			denied: []string{"health"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, name := range tt.allowed {
				assert.True(t, tt.policy.IsToolAllowed(name), name)
			}
			for _, name := range tt.denied {
				assert.False(t, tt.policy.IsToolAllowed(name), name)
			}
		})
	}
}

func TestToolPolicy_Validate(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	assert.NoError(t, (*ToolPolicy)(nil).Validate(logger))
	assert.NoError(t, (&ToolPolicy{Allow: []string{"market.*"}, Deny: []string{"*"}}).Validate(logger))
	assert.Error(t, (&ToolPolicy{Allow: []string{""}}).Validate(logger))
	assert.Error(t, (&ToolPolicy{Deny: []string{"bcs.*.create"}}).Validate(logger))
}
