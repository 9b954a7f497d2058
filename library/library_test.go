package library

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadPromptRendersParams(t *testing.T) {
	svc := NewFSService("testdata")
	out, err := LoadPrompt(context.Background(), svc, "/AI/Prompts/default.md", map[string]any{"Name": "Atlas"})
	require.NoError(t, err)
	require.Contains(t, out, "Atlas")
}

func TestLoadPromptMissingReturnsEmpty(t *testing.T) {
	svc := NewFSService("testdata")
	out, err := LoadPrompt(context.Background(), svc, "/AI/Prompts/missing.md", nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestLoadSkillExpandsNestedSubInstructions(t *testing.T) {
	svc := NewFSService("testdata")
	instructions, tools, err := LoadSkill(context.Background(), svc, "/AI/Skill/triage/", map[string]any{
		"Name": "Atlas",
		"Team": "SRE",
	})
	require.NoError(t, err)
	require.Len(t, instructions, 2)
	require.Equal(t, "Triage incoming reports.", instructions[0])
	require.True(t, strings.Contains(instructions[1], "Atlas"))
	require.True(t, strings.Contains(instructions[1], "SRE"))

	require.Contains(t, tools, "ping")
	require.Equal(t, "Pings a host.", tools["ping"].Description)
}

func TestLoadSkillMissingIndexErrors(t *testing.T) {
	svc := NewFSService("testdata")
	_, _, err := LoadSkill(context.Background(), svc, "/AI/Skill/nonexistent/", nil)
	require.Error(t, err)
}

func TestRenderSubstitutesSimpleFields(t *testing.T) {
	out, err := Render("hello {{.Name}}", map[string]any{"Name": "world"})
	require.NoError(t, err)
	require.Equal(t, "hello world", out)
}
