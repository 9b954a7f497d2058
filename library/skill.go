package library

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillTool is one tool entry in a skill's index.yaml tools map.
type SkillTool struct {
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
	Title       string         `yaml:"title"`
}

// SkillDefinition is the parsed shape of a skill folder's index.yaml.
type SkillDefinition struct {
	Instructions []string             `yaml:"instructions"`
	Tools        map[string]SkillTool `yaml:"tools"`
}

// LoadPrompt opens a single-file instruction template under /AI/Prompts/
// and renders it with params. Returns ("", nil) if the prompt is absent.
func LoadPrompt(ctx context.Context, svc Service, path string, params map[string]any) (string, error) {
	raw, err := readAll(ctx, svc, path)
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", nil
	}
	return Render(string(raw), params)
}

// LoadSkill opens a skill folder's index.yaml under /AI/Skill/, builds its
// instruction list (expanding "+subpath" references recursively), and
// returns its tool set. Grounded on svc_router.py's update_instructions
// skill branch.
func LoadSkill(ctx context.Context, svc Service, path string, params map[string]any) ([]string, map[string]SkillTool, error) {
	raw, err := readAll(ctx, svc, path+"index.yaml")
	if err != nil {
		return nil, nil, err
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("library: skill index not found at %s", path)
	}
	var def SkillDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, nil, fmt.Errorf("library: invalid skill index at %s: %w", path, err)
	}

	var instructions []string
	for _, instruction := range def.Instructions {
		if strings.HasPrefix(instruction, "+") {
			resolved, err := loadInstruction(ctx, svc, path, instruction, params)
			if err != nil {
				return nil, nil, err
			}
			if resolved != "" {
				instructions = append(instructions, resolved)
			}
			continue
		}
		instructions = append(instructions, instruction)
	}
	return instructions, def.Tools, nil
}

// loadInstruction resolves one "+subpath" directive relative to skillPath,
// recursively expanding any "+"-prefixed lines found within the referenced
// file's own content before rendering the whole thing as a template.
// Mirrors svc_router.py's load_instruction line-by-line recursion exactly.
func loadInstruction(ctx context.Context, svc Service, skillPath, directive string, params map[string]any) (string, error) {
	raw, err := readAll(ctx, svc, skillPath+directive[1:])
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", nil
	}

	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "+") {
			continue
		}
		resolved, err := loadInstruction(ctx, svc, skillPath, line, params)
		if err != nil {
			return "", err
		}
		if resolved != "" {
			lines[i] = resolved
		}
	}
	return Render(strings.Join(lines, "\n"), params)
}
