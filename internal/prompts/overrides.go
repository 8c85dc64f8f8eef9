package prompts

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Overrides holds operator-supplied prompt customization, loaded once
// at boot from the prompt directory.
type Overrides struct {
	// System replaces the built-in system prompt when non-empty.
	System string
	// ToolDescriptions replaces catalog descriptions by tool name.
	ToolDescriptions map[string]string
}

// toolsFile is the on-disk shape of tools.yaml.
type toolsFile struct {
	Descriptions map[string]string `yaml:"descriptions"`
}

// LoadOverrides reads persona.md and tools.yaml from dir. Both files
// are optional; an empty dir name disables overrides entirely.
func LoadOverrides(dir string) (*Overrides, error) {
	o := &Overrides{ToolDescriptions: map[string]string{}}
	if dir == "" {
		return o, nil
	}

	persona, err := os.ReadFile(filepath.Join(dir, "persona.md"))
	if err == nil {
		o.System = string(persona)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read persona: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "tools.yaml"))
	if os.IsNotExist(err) {
		return o, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tool overrides: %w", err)
	}

	var tf toolsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tool overrides: %w", err)
	}
	if tf.Descriptions != nil {
		o.ToolDescriptions = tf.Descriptions
	}

	return o, nil
}

// SystemPrompt resolves the effective system prompt.
func (o *Overrides) SystemPrompt() string {
	if o != nil && o.System != "" {
		return o.System
	}
	return BaseSystemPrompt()
}
