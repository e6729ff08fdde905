package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixToolName(t *testing.T) {
	assert.Equal(t, "github_create_issue", PrefixToolName("github", "create_issue"))
}

func TestStripToolPrefix(t *testing.T) {
	tests := []struct {
		name         string
		providerName string
		input        string
		toolName     string
		ok           bool
	}{
		{
			name:         "simple prefixed name",
			providerName: "github",
			input:        "github_create_issue",
			toolName:     "create_issue",
			ok:           true,
		},
		{
			name:         "tool name keeps its own underscores",
			providerName: "github",
			input:        "github_create_issue_comment",
			toolName:     "create_issue_comment",
			ok:           true,
		},
		{
			name:         "provider name with underscores",
			providerName: "my_jira",
			input:        "my_jira_search",
			toolName:     "search",
			ok:           true,
		},
		{
			name:         "no prefix",
			providerName: "github",
			input:        "search",
			ok:           false,
		},
		{
			name:         "different provider",
			providerName: "github",
			input:        "slack_post_message",
			ok:           false,
		},
		{
			name:         "empty tool",
			providerName: "github",
			input:        "github_",
			ok:           false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toolName, ok := StripToolPrefix(tt.providerName, tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.toolName, toolName)
		})
	}
}

func TestToolPolicy_Evaluate(t *testing.T) {
	wildcard := ToolPolicy{Mode: PolicyModeWildcard}
	assert.Equal(t, ToolStatusAlwaysAllow, wildcard.Evaluate("anything"))

	explicit := ToolPolicy{
		Mode: PolicyModeExplicit,
		Tools: map[string]ToolStatus{
			"search":      ToolStatusAlwaysAllow,
			"delete_repo": ToolStatusNeedsApproval,
		},
	}
	assert.Equal(t, ToolStatusAlwaysAllow, explicit.Evaluate("search"))
	assert.Equal(t, ToolStatusNeedsApproval, explicit.Evaluate("delete_repo"))

	// Unknown tools fail closed in explicit mode.
	assert.Equal(t, ToolStatusDisabled, explicit.Evaluate("unknown"))
}
