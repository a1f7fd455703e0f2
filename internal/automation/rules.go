package automation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a rules YAML file. A missing file is not an error; the
// gateway simply starts with no rules.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read rules file: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cannot parse rules file %s: %w", path, err)
	}
	for i := range f.Rules {
		if f.Rules[i].ID == "" {
			f.Rules[i].ID = uuid.NewString()
		}
	}
	return f.Rules, nil
}

// SaveRules writes the rule list back to disk.
func SaveRules(path string, rules []Rule) error {
	data, err := yaml.Marshal(rulesFile{Rules: rules})
	if err != nil {
		return fmt.Errorf("cannot encode rules: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create rules directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
