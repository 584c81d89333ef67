package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tandem/internal/logging"
	"tandem/internal/types"
)

// overridesFile is the on-disk shape of .tandem/agents.yaml: tool name to
// replacement system prompt.
type overridesFile struct {
	Agents map[string]string `yaml:"agents"`
}

// LoadOverrides reads persona prompt overrides from path. A missing file
// leaves the built-in prompts in place. Unknown tool names are rejected so
// a typo does not silently fall through to defaults.
func LoadOverrides(path string) (*Personas, error) {
	p := NewPersonas()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("failed to read agent overrides: %w", err)
	}

	var f overridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse agent overrides %s: %w", path, err)
	}
	for name, prompt := range f.Agents {
		tool := types.Tool(name)
		if _, ok := defaultPrompts[tool]; !ok {
			return nil, fmt.Errorf("unknown agent %q in %s", name, path)
		}
		p.overrides[tool] = prompt
	}
	if len(p.overrides) > 0 {
		logging.Get(logging.CategoryAgents).Infof("loaded %d persona overrides from %s", len(p.overrides), path)
	}
	return p, nil
}
