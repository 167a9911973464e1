package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when a path holds no scenario files.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("no scenario files (*.yaml, *.yml) found at %s", e.Path)
}

// LoadSuite loads a single scenario file, or every *.yaml and *.yml file
// in a directory sorted by file name. Names must be unique.
func LoadSuite(path string) ([]*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = files[:0]
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
		sort.Strings(files)
	}
	if len(files) == 0 {
		return nil, &ScenarioNotFoundError{Path: path}
	}

	seen := make(map[string]string, len(files))
	scenarios := make([]*Scenario, 0, len(files))
	for _, f := range files {
		s, err := LoadScenario(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", f, s.Name, prev)
		}
		seen[s.Name] = f
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}
